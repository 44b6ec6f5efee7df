package booking

import (
	"context"
	"sort"
	"time"

	"github.com/ptssworkshopschedule/workshopbot/internal/calendar"
	"github.com/ptssworkshopschedule/workshopbot/internal/catalog"
	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
	"github.com/ptssworkshopschedule/workshopbot/pkg/metrics"
)

// StatusListing is shown while a day's bookings are fetched.
const StatusListing = "Obtaining bookings from calendar..."

// MsgListingFailure is shown when a day's bookings cannot be fetched.
const MsgListingFailure = "Unable to obtain bookings from the calendar right now. Please try again later."

// Lister reads the bookings of a single day.
type Lister struct {
	credentials CredentialSource
	remote      calendar.Remote
	calendarID  string
	logger      *logger.Logger
}

// NewLister creates a lister.
func NewLister(credentials CredentialSource, remote calendar.Remote, calendarID string, l *logger.Logger) *Lister {
	if l == nil {
		l = logger.NewNop()
	}
	return &Lister{
		credentials: credentials,
		remote:      remote,
		calendarID:  calendarID,
		logger:      l,
	}
}

// DayBounds returns the first and last millisecond of date's day in UTC+8.
func DayBounds(date time.Time) (time.Time, time.Time) {
	y, m, d := date.In(catalog.Zone).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, catalog.Zone)
	end := time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), catalog.Zone)
	return start, end
}

// ListDay returns every event on date, sorted by start then location.
func (l *Lister) ListDay(ctx context.Context, date time.Time) ([]calendar.Event, error) {
	tok, err := l.credentials.Token(ctx)
	if err != nil {
		metrics.RecordListing("auth_failed")
		return nil, wrapWithMessage(err, errors.ErrAuthUnavailable, MsgAuthFailure)
	}

	min, max := DayBounds(date)
	events, err := l.remote.ListEvents(ctx, tok, calendar.Query{
		CalendarID:   l.calendarID,
		TimeMin:      min,
		TimeMax:      max,
		TimeZone:     catalog.TimeZoneName,
		SingleEvents: true,
		OrderBy:      calendar.OrderByStartTime,
	})
	if err != nil {
		metrics.RecordListing("error")
		l.logger.Error("Failed to list bookings",
			logger.String("date", min.Format(calendar.DateLayout)),
			logger.Error(err))
		return nil, wrapWithMessage(err, errors.ErrCalendarRemote, MsgListingFailure)
	}

	SortEvents(events)
	metrics.RecordListing("success")
	return events, nil
}

// SortEvents orders events by timed start, then location. All-day events
// have no timed start and come first.
func SortEvents(events []calendar.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		ki, kj := sortKey(events[i]), sortKey(events[j])
		if ki != kj {
			return ki < kj
		}
		return events[i].Location < events[j].Location
	})
}

func sortKey(ev calendar.Event) string {
	if ev.AllDay {
		return ""
	}
	return ev.StartRaw
}
