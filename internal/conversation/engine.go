// Package conversation runs the per-user booking and listing dialogues.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ptssworkshopschedule/workshopbot/internal/booking"
	"github.com/ptssworkshopschedule/workshopbot/internal/calendar"
	"github.com/ptssworkshopschedule/workshopbot/internal/catalog"
	"github.com/ptssworkshopschedule/workshopbot/internal/validation"
	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
	"github.com/ptssworkshopschedule/workshopbot/pkg/metrics"
)

// Prompter delivers conversation output to a chat.
type Prompter interface {
	// Send sends a plain message.
	Send(ctx context.Context, key Key, text string) error
	// SendChoice sends a message with one button per option.
	SendChoice(ctx context.Context, key Key, text string, options []Option) error
	// Replace rewrites the last choice message with text and drops its
	// buttons, or sends text when there is no such message.
	Replace(ctx context.Context, key Key, text string) error
	// Status shows progress, rewriting the previous status message when there is one.
	Status(ctx context.Context, key Key, text string) error
}

// Committer commits a confirmed booking.
type Committer interface {
	Commit(ctx context.Context, c booking.Candidate, status booking.StatusFunc) (booking.Confirmation, error)
}

// Lister reads a day's bookings.
type Lister interface {
	ListDay(ctx context.Context, date time.Time) ([]calendar.Event, error)
}

// Timeouts arranges idle expiry of sessions.
type Timeouts interface {
	Schedule(ctx context.Context, key Key, at time.Time) error
	Cancel(ctx context.Context, key Key) error
}

// Reasons a session ends, as recorded in metrics.
const (
	reasonCompleted = "completed"
	reasonDeclined  = "declined"
	reasonRejected  = "rejected"
	reasonCancelled = "cancelled"
	reasonExpired   = "expired"
	reasonReplaced  = "replaced"
	reasonFailed    = "failed"
)

type session struct {
	mu           sync.Mutex
	id           string
	state        State
	lastActivity time.Time
	closed       atomic.Bool
}

type transition struct {
	next   State
	reason string
	err    error
}

func stay(s State, err error) transition {
	return transition{next: s, err: err}
}

func move(s State) transition {
	return transition{next: s}
}

func end(reason string, err error) transition {
	return transition{next: Terminal{}, reason: reason, err: err}
}

// Engine owns every session. Sessions are independent; the transitions of
// one session run one at a time, remote calls included.
type Engine struct {
	prompter  Prompter
	committer Committer
	lister    Lister
	now       func() time.Time
	logger    *logger.Logger
	timeouts  Timeouts
	idle      time.Duration

	mu       sync.Mutex
	sessions map[Key]*session
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock sets the clock used for the past-date check and idle tracking.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithIdleTimeout expires sessions idle for longer than idle.
func WithIdleTimeout(timeouts Timeouts, idle time.Duration) EngineOption {
	return func(e *Engine) {
		e.timeouts = timeouts
		e.idle = idle
	}
}

// NewEngine creates an engine.
func NewEngine(prompter Prompter, committer Committer, lister Lister, opts ...EngineOption) *Engine {
	e := &Engine{
		prompter:  prompter,
		committer: committer,
		lister:    lister,
		now:       time.Now,
		logger:    logger.NewNop(),
		sessions:  make(map[Key]*session),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartBooking opens a booking conversation, replacing any active one.
func (e *Engine) StartBooking(ctx context.Context, key Key) error {
	e.open(ctx, key, AwaitingDate{})
	return e.prompter.Send(ctx, key, MsgAskDate)
}

// StartListing opens a listing conversation, replacing any active one.
func (e *Engine) StartListing(ctx context.Context, key Key) error {
	e.open(ctx, key, AwaitingListingDate{})
	return e.prompter.Send(ctx, key, MsgAskListingDate)
}

// Handle applies in to the user's session. It reports false when the user
// has no session in that chat. The returned error describes a rejected input or a failed
// step; the user has already been told.
func (e *Engine) Handle(ctx context.Context, key Key, in Input) (bool, error) {
	s := e.lookup(key)
	if s == nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return false, nil
	}

	from := s.state
	t := e.step(ctx, key, from, in)
	s.state = t.next
	s.lastActivity = e.now()

	e.logger.Debug("Conversation step",
		logger.Int64("chat_id", key.ChatID),
		logger.Int64("user_id", key.UserID),
		logger.String("session_id", s.id),
		logger.String("from", from.Name()),
		logger.String("to", t.next.Name()))

	if t.err != nil {
		if botErr, ok := errors.GetBotError(t.err); ok {
			metrics.RecordValidationRejection(botErr.Code)
		}
	}

	if _, done := t.next.(Terminal); done {
		e.close(ctx, key, s, t.reason)
	} else {
		e.scheduleExpiry(ctx, key, s)
	}

	return true, t.err
}

// State returns the current state of the user's session.
func (e *Engine) State(key Key) (State, bool) {
	s := e.lookup(key)
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, true
}

// ActiveSessions returns the number of open sessions.
func (e *Engine) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// ExpireSession ends the session if it has been idle for the idle
// timeout. A session busy with a transition is left alone.
func (e *Engine) ExpireSession(ctx context.Context, key Key) error {
	s := e.lookup(key)
	if s == nil {
		return nil
	}
	if !s.mu.TryLock() {
		return nil
	}
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil
	}

	deadline := s.lastActivity.Add(e.idle)
	if e.now().Before(deadline) {
		e.scheduleExpiry(ctx, key, s)
		return nil
	}

	e.logger.Info("Session expired",
		logger.Int64("chat_id", key.ChatID),
		logger.Int64("user_id", key.UserID),
		logger.String("session_id", s.id),
		logger.String("state", s.state.Name()))

	e.close(ctx, key, s, reasonExpired)
	return e.prompter.Send(ctx, key, MsgTimedOut)
}

func (e *Engine) open(ctx context.Context, key Key, initial State) {
	s := &session{
		id:           uuid.NewString(),
		state:        initial,
		lastActivity: e.now(),
	}

	e.mu.Lock()
	if old, exists := e.sessions[key]; exists {
		old.closed.Store(true)
		metrics.RecordSessionEnd(reasonReplaced)
	}
	e.sessions[key] = s
	metrics.SetActiveSessions(float64(len(e.sessions)))
	e.mu.Unlock()

	e.logger.Info("Session started",
		logger.Int64("chat_id", key.ChatID),
		logger.Int64("user_id", key.UserID),
		logger.String("session_id", s.id),
		logger.String("state", initial.Name()))

	e.scheduleExpiry(ctx, key, s)
}

func (e *Engine) lookup(key Key) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[key]
}

// close removes s unless it has already been replaced.
func (e *Engine) close(ctx context.Context, key Key, s *session, reason string) {
	s.closed.Store(true)

	e.mu.Lock()
	current := e.sessions[key] == s
	if current {
		delete(e.sessions, key)
	}
	metrics.SetActiveSessions(float64(len(e.sessions)))
	e.mu.Unlock()

	// A replaced session was counted when it was replaced.
	if current {
		if reason == "" {
			reason = reasonCompleted
		}
		metrics.RecordSessionEnd(reason)
	}

	if current && e.timeouts != nil {
		if err := e.timeouts.Cancel(ctx, key); err != nil {
			e.logger.Warn("Failed to cancel session timeout", logger.Error(err))
		}
	}
}

func (e *Engine) scheduleExpiry(ctx context.Context, key Key, s *session) {
	if e.timeouts == nil || e.idle <= 0 {
		return
	}
	if err := e.timeouts.Schedule(ctx, key, s.lastActivity.Add(e.idle)); err != nil {
		e.logger.Warn("Failed to schedule session timeout",
			logger.Int64("chat_id", key.ChatID),
			logger.Int64("user_id", key.UserID),
			logger.Error(err))
	}
}

func (e *Engine) step(ctx context.Context, key Key, state State, in Input) transition {
	if in.Kind == InputCancel {
		e.send(ctx, key, MsgCancelled)
		return end(reasonCancelled, nil)
	}

	switch st := state.(type) {
	case AwaitingDate:
		return e.onDate(ctx, key, st, in)
	case AwaitingStartPeriod:
		return e.onStartPeriod(ctx, key, st, in)
	case AwaitingEndPeriod:
		return e.onEndPeriod(ctx, key, st, in)
	case AwaitingLocation:
		return e.onLocation(ctx, key, st, in)
	case AwaitingName:
		return e.onName(ctx, key, st, in)
	case AwaitingCourse:
		return e.onCourse(ctx, key, st, in)
	case AwaitingConfirmation:
		return e.onConfirmation(ctx, key, st, in)
	case AwaitingListingDate:
		return e.onListingDate(ctx, key, st, in)
	default:
		return end(reasonCompleted, nil)
	}
}

func (e *Engine) onDate(ctx context.Context, key Key, st AwaitingDate, in Input) transition {
	if in.Kind != InputText {
		e.send(ctx, key, MsgAskDate)
		return stay(st, errors.ErrUnexpectedInput)
	}

	date, err := validation.ValidateBookingDate(in.Value, e.now())
	if err != nil {
		e.send(ctx, key, errors.UserMessage(err, MsgAskDate))
		return stay(st, err)
	}

	e.send(ctx, key, MsgDateValid)
	e.sendChoice(ctx, key, MsgSelectTimeSlot, PeriodOptions())
	return move(AwaitingStartPeriod{Date: date})
}

func (e *Engine) onStartPeriod(ctx context.Context, key Key, st AwaitingStartPeriod, in Input) transition {
	start, err := e.periodChoice(in)
	if err != nil {
		e.send(ctx, key, errors.UserMessage(err, errors.ErrInvalidPeriod.Message))
		e.sendChoice(ctx, key, MsgSelectTimeSlot, PeriodOptions())
		return stay(st, err)
	}

	e.replace(ctx, key, fmt.Sprintf(MsgStartChosen, start))
	e.sendChoice(ctx, key, MsgSelectTimeSlot, PeriodOptions())
	return move(AwaitingEndPeriod{Date: st.Date, Start: start})
}

func (e *Engine) onEndPeriod(ctx context.Context, key Key, st AwaitingEndPeriod, in Input) transition {
	endPeriod, err := e.periodChoice(in)
	if err != nil {
		e.send(ctx, key, errors.UserMessage(err, errors.ErrInvalidPeriod.Message))
		e.sendChoice(ctx, key, MsgSelectTimeSlot, PeriodOptions())
		return stay(st, err)
	}

	if err := validation.ValidatePeriodOrder(st.Start, endPeriod); err != nil {
		e.replace(ctx, key, errors.UserMessage(err, errors.ErrPeriodOrder.Message))
		e.sendChoice(ctx, key, MsgSelectTimeSlot, PeriodOptions())
		return stay(st, err)
	}

	e.replace(ctx, key, fmt.Sprintf(MsgEndChosen, endPeriod))
	e.sendChoice(ctx, key, MsgSelectLocation, LocationOptions())
	return move(AwaitingLocation{Date: st.Date, Start: st.Start, End: endPeriod})
}

func (e *Engine) onLocation(ctx context.Context, key Key, st AwaitingLocation, in Input) transition {
	if in.Kind != InputChoice {
		e.send(ctx, key, errors.ErrUnexpectedInput.Message)
		e.sendChoice(ctx, key, MsgSelectLocation, LocationOptions())
		return stay(st, errors.ErrUnexpectedInput)
	}

	raw, _ := choiceValue(in.Value, locationPrefix)
	location, err := validation.ValidateLocation(raw)
	if err != nil {
		e.send(ctx, key, errors.UserMessage(err, errors.ErrInvalidLocation.Message))
		e.sendChoice(ctx, key, MsgSelectLocation, LocationOptions())
		return stay(st, err)
	}

	e.replace(ctx, key, fmt.Sprintf(MsgLocationChosen, catalog.LocationLabel(location)))
	e.send(ctx, key, MsgAskName)
	return move(AwaitingName{Date: st.Date, Start: st.Start, End: st.End, Location: location})
}

func (e *Engine) onName(ctx context.Context, key Key, st AwaitingName, in Input) transition {
	if in.Kind != InputText {
		e.send(ctx, key, MsgAskName)
		return stay(st, errors.ErrUnexpectedInput)
	}

	name, err := validation.ValidateFreeText(in.Value)
	if err != nil {
		e.send(ctx, key, MsgAskName)
		return stay(st, err)
	}

	e.send(ctx, key, MsgAskCourse)
	return move(AwaitingCourse{Date: st.Date, Start: st.Start, End: st.End, Location: st.Location, Booker: name})
}

func (e *Engine) onCourse(ctx context.Context, key Key, st AwaitingCourse, in Input) transition {
	if in.Kind != InputText {
		e.send(ctx, key, MsgAskCourse)
		return stay(st, errors.ErrUnexpectedInput)
	}

	course, err := validation.ValidateFreeText(in.Value)
	if err != nil {
		e.send(ctx, key, MsgAskCourse)
		return stay(st, err)
	}

	candidate, err := booking.NewCandidate(st.Date, st.Start, st.End, st.Location, st.Booker, course)
	if err != nil {
		e.logger.Error("Collected booking is inconsistent",
			logger.Int64("chat_id", key.ChatID),
			logger.Int64("user_id", key.UserID),
			logger.Error(err))
		e.send(ctx, key, MsgGenericFailure)
		return end(reasonFailed, err)
	}

	e.send(ctx, key, booking.FormatDetails(candidate))
	e.sendChoice(ctx, key, MsgConfirm, ConfirmOptions())
	return move(AwaitingConfirmation{Booking: candidate})
}

func (e *Engine) onConfirmation(ctx context.Context, key Key, st AwaitingConfirmation, in Input) transition {
	if in.Kind != InputChoice {
		e.send(ctx, key, errors.ErrUnexpectedInput.Message)
		e.sendChoice(ctx, key, MsgConfirm, ConfirmOptions())
		return stay(st, errors.ErrUnexpectedInput)
	}

	answer, _ := choiceValue(in.Value, confirmPrefix)
	switch answer {
	case confirmYes:
		status := func(ctx context.Context, text string) { e.status(ctx, key, text) }
		confirmation, err := e.committer.Commit(ctx, st.Booking, status)
		if err != nil {
			e.status(ctx, key, errors.UserMessage(err, MsgGenericFailure))
			if errors.Is(err, errors.ErrLocationBooked) {
				return end(reasonRejected, err)
			}
			return end(reasonFailed, err)
		}
		e.status(ctx, key, booking.FormatConfirmation(confirmation))
		return end(reasonCompleted, nil)

	case confirmNo:
		e.replace(ctx, key, MsgTerminated)
		return end(reasonDeclined, nil)

	default:
		e.replace(ctx, key, errors.ErrUnknownSelection.Message)
		return end(reasonRejected, errors.ErrUnknownSelection)
	}
}

func (e *Engine) onListingDate(ctx context.Context, key Key, st AwaitingListingDate, in Input) transition {
	if in.Kind != InputText {
		e.send(ctx, key, MsgAskListingDate)
		return stay(st, errors.ErrUnexpectedInput)
	}

	date, err := validation.ValidateBookingDate(in.Value, e.now())
	if err != nil {
		e.send(ctx, key, errors.UserMessage(err, MsgAskListingDate))
		return stay(st, err)
	}

	e.status(ctx, key, booking.StatusListing)
	events, err := e.lister.ListDay(ctx, date)
	if err != nil {
		e.status(ctx, key, errors.UserMessage(err, booking.MsgListingFailure))
		return end(reasonFailed, err)
	}

	e.status(ctx, key, booking.FormatDay(date, events))
	return end(reasonCompleted, nil)
}

func (e *Engine) periodChoice(in Input) (int, error) {
	if in.Kind != InputChoice {
		return 0, errors.ErrUnexpectedInput
	}
	raw, ok := choiceValue(in.Value, periodPrefix)
	if !ok {
		return 0, errors.ErrInvalidPeriod.WithContext(map[string]interface{}{"input": in.Value})
	}
	return validation.ValidatePeriod(raw)
}

func (e *Engine) send(ctx context.Context, key Key, text string) {
	if err := e.prompter.Send(ctx, key, text); err != nil {
		e.logPromptError(key, "send", err)
	}
}

func (e *Engine) sendChoice(ctx context.Context, key Key, text string, options []Option) {
	if err := e.prompter.SendChoice(ctx, key, text, options); err != nil {
		e.logPromptError(key, "send_choice", err)
	}
}

func (e *Engine) replace(ctx context.Context, key Key, text string) {
	if err := e.prompter.Replace(ctx, key, text); err != nil {
		e.logPromptError(key, "replace", err)
	}
}

func (e *Engine) status(ctx context.Context, key Key, text string) {
	if err := e.prompter.Status(ctx, key, text); err != nil {
		e.logPromptError(key, "status", err)
	}
}

func (e *Engine) logPromptError(key Key, op string, err error) {
	metrics.RecordError("conversation", op)
	e.logger.Error("Failed to deliver message",
		logger.Int64("chat_id", key.ChatID),
		logger.Int64("user_id", key.UserID),
		logger.String("operation", op),
		logger.Error(err))
}
