package booking

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"

	"github.com/ptssworkshopschedule/workshopbot/internal/calendar"
	"github.com/ptssworkshopschedule/workshopbot/internal/catalog"
	"github.com/ptssworkshopschedule/workshopbot/internal/lock"
	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
	"github.com/ptssworkshopschedule/workshopbot/pkg/metrics"
)

// DefaultSummary is the title of every booking event.
const DefaultSummary = "Workshop Booking"

// Progress messages shown while a booking is committed.
const (
	StatusChecking   = "Checking booking availability..."
	StatusProcessing = "Processing booking..."
)

// User-facing failure messages.
const (
	MsgAuthFailure   = "Unable to access the booking calendar right now. Please try again later."
	MsgInsertFailure = "Your booking could not be saved to the calendar. Please try again later."
	MsgCheckFailure  = "Unable to check booking availability right now. Please try again later."
)

// StatusFunc reports progress to the user.
type StatusFunc func(ctx context.Context, text string)

// CommitterConfig holds the calendar-facing settings of a Committer.
type CommitterConfig struct {
	CalendarID string
	Summary    string
}

// Committer runs check-then-insert for a candidate.
type Committer struct {
	credentials CredentialSource
	remote      calendar.Remote
	resolver    *ConflictResolver
	locker      lock.Locker
	calendarID  string
	summary     string
	logger      *logger.Logger
}

// NewCommitter creates a committer. A nil locker disables slot locking.
func NewCommitter(credentials CredentialSource, remote calendar.Remote, resolver *ConflictResolver, locker lock.Locker, cfg CommitterConfig, l *logger.Logger) *Committer {
	if locker == nil {
		locker = lock.Noop{}
	}
	if cfg.Summary == "" {
		cfg.Summary = DefaultSummary
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Committer{
		credentials: credentials,
		remote:      remote,
		resolver:    resolver,
		locker:      locker,
		calendarID:  cfg.CalendarID,
		summary:     cfg.Summary,
		logger:      l,
	}
}

// ConflictMessage is the reply sent when the location is taken.
func ConflictMessage(locationLabel string) string {
	return fmt.Sprintf("%s has already been booked for that time. Please book another slot.", locationLabel)
}

// Commit checks c for conflicts and inserts it. Errors carry the message to
// show the user; see errors.UserMessage.
func (cm *Committer) Commit(ctx context.Context, c Candidate, status StatusFunc) (Confirmation, error) {
	if status == nil {
		status = func(context.Context, string) {}
	}
	log := cm.logger.WithFields(
		logger.String("location", c.LocationLabel),
		logger.String("date", c.Date.Format(calendar.DateLayout)),
		logger.Int("start_period", c.StartPeriod),
		logger.Int("end_period", c.EndPeriod),
	)

	status(ctx, StatusChecking)

	tok, err := cm.credentials.Token(ctx)
	if err != nil {
		metrics.RecordBooking("auth_failed")
		log.Error("Calendar credential unavailable", logger.Error(err))
		return Confirmation{}, wrapWithMessage(err, errors.ErrAuthUnavailable, MsgAuthFailure)
	}

	release, err := cm.locker.Acquire(ctx, lock.SlotKey(c.Location, c.Date))
	if err != nil {
		metrics.RecordBooking("lock_failed")
		log.Error("Booking lock unavailable", logger.Error(err))
		return Confirmation{}, wrapWithMessage(err, errors.ErrLockUnavailable, MsgCheckFailure)
	}
	defer release()

	conflict, err := cm.resolver.HasConflict(ctx, tok, c.Start, c.End, c.Location)
	if err != nil {
		metrics.RecordBooking("check_failed")
		return Confirmation{}, wrapWithMessage(err, errors.ErrCalendarRemote, MsgCheckFailure)
	}
	if conflict {
		metrics.RecordBooking("conflict")
		return Confirmation{}, errors.ErrLocationBooked.
			WithMessage(ConflictMessage(c.LocationLabel)).
			WithContext(map[string]interface{}{
				"location": c.LocationLabel,
				"start":    c.Start,
				"end":      c.End,
			})
	}

	status(ctx, StatusProcessing)

	created, err := cm.remote.InsertEvent(ctx, tok, cm.calendarID, cm.event(c))
	if err != nil {
		metrics.RecordBooking("insert_failed")
		log.Error("Failed to insert booking event", logger.Error(err))
		return Confirmation{}, wrapWithMessage(err, errors.ErrCalendarRemote, MsgInsertFailure)
	}

	metrics.RecordBooking("confirmed")
	log.Info("Booking confirmed",
		logger.String("event_id", created.ID),
		logger.String("booked_by", c.Name))

	return Confirmation{
		Candidate: c,
		EventID:   created.ID,
		Link:      created.HTMLLink,
	}, nil
}

func (cm *Committer) event(c Candidate) calendar.Event {
	return calendar.Event{
		Summary:     cm.summary,
		Location:    c.LocationLabel,
		Description: c.Description(),
		ColorID:     strconv.Itoa(c.Location),
		TimeZone:    catalog.TimeZoneName,
		Start:       c.Start,
		End:         c.End,
	}
}

// wrapWithMessage returns err as a BotError of kind sentinel carrying msg.
func wrapWithMessage(err error, sentinel *errors.BotError, msg string) error {
	var botErr *errors.BotError
	if stderrors.As(err, &botErr) && botErr.Code == sentinel.Code {
		return botErr.WithMessage(msg)
	}
	return sentinel.WithError(err).WithMessage(msg)
}
