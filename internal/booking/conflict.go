package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ptssworkshopschedule/workshopbot/internal/calendar"
	"github.com/ptssworkshopschedule/workshopbot/internal/catalog"
	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
	"github.com/ptssworkshopschedule/workshopbot/pkg/metrics"
)

// ConflictPolicy decides what a failed conflict query means.
type ConflictPolicy string

const (
	// ConflictCheckFailOpen treats a failed query as "no conflict".
	ConflictCheckFailOpen ConflictPolicy = "fail_open"
	// ConflictCheckFailClosed surfaces a failed query as an error.
	ConflictCheckFailClosed ConflictPolicy = "fail_closed"
)

// ParseConflictPolicy parses a policy name. Empty selects fail_open.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ConflictCheckFailOpen:
		return ConflictCheckFailOpen, nil
	case ConflictCheckFailClosed:
		return ConflictCheckFailClosed, nil
	default:
		return "", fmt.Errorf("unknown conflict check policy %q", s)
	}
}

// ConflictResolver looks for an existing booking of a location in a window.
type ConflictResolver struct {
	remote     calendar.Remote
	calendarID string
	policy     ConflictPolicy
	logger     *logger.Logger
}

// NewConflictResolver creates a resolver.
func NewConflictResolver(remote calendar.Remote, calendarID string, policy ConflictPolicy, l *logger.Logger) *ConflictResolver {
	if l == nil {
		l = logger.NewNop()
	}
	if policy == "" {
		policy = ConflictCheckFailOpen
	}
	return &ConflictResolver{
		remote:     remote,
		calendarID: calendarID,
		policy:     policy,
		logger:     l,
	}
}

// Policy returns the configured failure policy.
func (r *ConflictResolver) Policy() ConflictPolicy {
	return r.policy
}

// HasConflict reports whether an event intersecting [start, end) is located
// exactly at the label of location.
func (r *ConflictResolver) HasConflict(ctx context.Context, tok *oauth2.Token, start, end time.Time, location int) (bool, error) {
	label := catalog.LocationLabel(location)
	log := r.logger.WithFields(
		logger.String("location", label),
		logger.Time("start", start),
		logger.Time("end", end),
	)

	events, err := r.remote.ListEvents(ctx, tok, calendar.Query{
		CalendarID: r.calendarID,
		TimeMin:    start,
		TimeMax:    end,
		TimeZone:   catalog.TimeZoneName,
	})
	if err != nil {
		if r.policy == ConflictCheckFailClosed {
			metrics.RecordConflictCheck("error_closed")
			log.Error("Conflict check failed", logger.Error(err))
			return false, errors.ErrCalendarRemote.WithError(err)
		}
		metrics.RecordConflictCheck("error_open")
		log.Warn("Conflict check failed, assuming the slot is free", logger.Error(err))
		return false, nil
	}

	for _, ev := range events {
		if ev.Location == label {
			metrics.RecordConflictCheck("conflict")
			log.Info("Booking conflict detected", logger.String("event_id", ev.ID))
			return true, nil
		}
	}

	metrics.RecordConflictCheck("free")
	log.Debug("No conflicting events")
	return false, nil
}
