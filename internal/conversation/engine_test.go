package conversation

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ptssworkshopschedule/workshopbot/internal/booking"
	"github.com/ptssworkshopschedule/workshopbot/internal/calendar"
	calmemory "github.com/ptssworkshopschedule/workshopbot/internal/calendar/memory"
	"github.com/ptssworkshopschedule/workshopbot/internal/catalog"
	"github.com/ptssworkshopschedule/workshopbot/internal/credentials"
	lockmemory "github.com/ptssworkshopschedule/workshopbot/internal/lock/memory"
	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
	"github.com/ptssworkshopschedule/workshopbot/pkg/metrics"
)

const calendarID = "primary"

type sent struct {
	kind    string // send, choice, replace, status
	text    string
	options []Option
}

type fakePrompter struct {
	mu   sync.Mutex
	msgs map[Key][]sent
}

func newFakePrompter() *fakePrompter {
	return &fakePrompter{msgs: make(map[Key][]sent)}
}

func (p *fakePrompter) record(key Key, m sent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs[key] = append(p.msgs[key], m)
	return nil
}

func (p *fakePrompter) Send(ctx context.Context, key Key, text string) error {
	return p.record(key, sent{kind: "send", text: text})
}

func (p *fakePrompter) SendChoice(ctx context.Context, key Key, text string, options []Option) error {
	return p.record(key, sent{kind: "choice", text: text, options: options})
}

func (p *fakePrompter) Replace(ctx context.Context, key Key, text string) error {
	return p.record(key, sent{kind: "replace", text: text})
}

func (p *fakePrompter) Status(ctx context.Context, key Key, text string) error {
	return p.record(key, sent{kind: "status", text: text})
}

func (p *fakePrompter) all(key Key) []sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sent, len(p.msgs[key]))
	copy(out, p.msgs[key])
	return out
}

func (p *fakePrompter) last(key Key) sent {
	all := p.all(key)
	if len(all) == 0 {
		return sent{}
	}
	return all[len(all)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTimeouts struct {
	mu        sync.Mutex
	scheduled map[Key]time.Time
	cancelled []Key
}

func newFakeTimeouts() *fakeTimeouts {
	return &fakeTimeouts{scheduled: make(map[Key]time.Time)}
}

func (f *fakeTimeouts) Schedule(ctx context.Context, key Key, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled[key] = at
	return nil
}

func (f *fakeTimeouts) Cancel(ctx context.Context, key Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scheduled, key)
	f.cancelled = append(f.cancelled, key)
	return nil
}

func (f *fakeTimeouts) at(key Key) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.scheduled[key]
	return at, ok
}

type harness struct {
	engine   *Engine
	prompter *fakePrompter
	cal      *calmemory.Calendar
	clock    *fakeClock
	timeouts *fakeTimeouts
}

func newHarness(t *testing.T, creds booking.CredentialSource) *harness {
	t.Helper()
	if creds == nil {
		creds = credentials.NewStatic(&oauth2.Token{AccessToken: "token"})
	}

	h := &harness{
		prompter: newFakePrompter(),
		cal:      calmemory.New(),
		clock:    &fakeClock{now: time.Date(2025, time.June, 1, 9, 0, 0, 0, catalog.Zone)},
		timeouts: newFakeTimeouts(),
	}
	resolver := booking.NewConflictResolver(h.cal, calendarID, booking.ConflictCheckFailOpen, nil)
	committer := booking.NewCommitter(creds, h.cal, resolver, lockmemory.New(time.Second), booking.CommitterConfig{CalendarID: calendarID}, nil)
	lister := booking.NewLister(creds, h.cal, calendarID, nil)

	h.engine = NewEngine(h.prompter, committer, lister,
		WithClock(h.clock.Now),
		WithIdleTimeout(h.timeouts, 30*time.Minute))
	return h
}

func (h *harness) handle(t *testing.T, key Key, in Input) error {
	t.Helper()
	ok, err := h.engine.Handle(context.Background(), key, in)
	require.True(t, ok, "%v has no session", key)
	return err
}

func (h *harness) state(t *testing.T, key Key) State {
	t.Helper()
	st, ok := h.engine.State(key)
	require.True(t, ok, "%v has no session", key)
	return st
}

// book drives a booking conversation up to the confirmation prompt.
func (h *harness) book(t *testing.T, key Key, date string, start, end, location int) {
	t.Helper()
	require.NoError(t, h.engine.StartBooking(context.Background(), key))
	require.NoError(t, h.handle(t, key, Text(date)))
	require.NoError(t, h.handle(t, key, Choice(fmt.Sprintf("period:%d", start))))
	require.NoError(t, h.handle(t, key, Choice(fmt.Sprintf("period:%d", end))))
	require.NoError(t, h.handle(t, key, Choice(fmt.Sprintf("location:%d", location))))
	require.NoError(t, h.handle(t, key, Text("3SG Ethan Cole")))
	require.NoError(t, h.handle(t, key, Text("BSC")))
	require.IsType(t, AwaitingConfirmation{}, h.state(t, key))
}

func TestBooking_ConfirmedFlow(t *testing.T) {
	h := newHarness(t, nil)
	chat := PrivateKey(100)

	require.NoError(t, h.engine.StartBooking(context.Background(), chat))
	assert.Equal(t, AwaitingDate{}, h.state(t, chat))
	assert.Equal(t, sent{kind: "send", text: MsgAskDate}, h.prompter.last(chat))

	require.NoError(t, h.handle(t, chat, Text("010126")))
	st := h.state(t, chat).(AwaitingStartPeriod)
	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, catalog.Zone), st.Date)
	last := h.prompter.last(chat)
	assert.Equal(t, MsgSelectTimeSlot, last.text)
	assert.Len(t, last.options, catalog.PeriodCount)
	assert.Equal(t, "Period 0 (0730 - 0815)", last.options[0].Label)

	require.NoError(t, h.handle(t, chat, Choice("period:0")))
	assert.Equal(t, AwaitingEndPeriod{Date: st.Date, Start: 0}, h.state(t, chat))

	require.NoError(t, h.handle(t, chat, Choice("period:0")))
	assert.Equal(t, AwaitingLocation{Date: st.Date, Start: 0, End: 0}, h.state(t, chat))
	last = h.prompter.last(chat)
	assert.Equal(t, MsgSelectLocation, last.text)
	require.Len(t, last.options, 4)
	assert.Equal(t, "Location 1", last.options[0].Label)

	require.NoError(t, h.handle(t, chat, Choice("location:1")))
	assert.Equal(t, AwaitingName{Date: st.Date, Start: 0, End: 0, Location: 1}, h.state(t, chat))
	all := h.prompter.all(chat)
	assert.Equal(t, sent{kind: "replace", text: "Location is Location 1"}, all[len(all)-2])
	assert.Equal(t, sent{kind: "send", text: MsgAskName}, all[len(all)-1])

	require.NoError(t, h.handle(t, chat, Text("3SG Ethan Cole")))
	course := h.state(t, chat).(AwaitingCourse)
	assert.Equal(t, "3SG Ethan Cole", course.Booker)
	assert.Equal(t, "awaiting_course", course.Name())
	require.NoError(t, h.handle(t, chat, Text("BSC")))
	confirm := h.state(t, chat).(AwaitingConfirmation)
	assert.Equal(t, "3SG Ethan Cole", confirm.Booking.Name)
	assert.Equal(t, "BSC", confirm.Booking.Course)
	all = h.prompter.all(chat)
	assert.Equal(t, "Booking details:\nDate: 01 Jan 2026\nTime: 0730 - 0815\nLocation: Location 1", all[len(all)-2].text)
	assert.Equal(t, ConfirmOptions(), all[len(all)-1].options)

	require.NoError(t, h.handle(t, chat, Choice("confirm:YES")))
	_, active := h.engine.State(chat)
	assert.False(t, active)
	assert.Equal(t, 0, h.engine.ActiveSessions())

	final := h.prompter.last(chat)
	assert.Equal(t, "status", final.kind)
	assert.Contains(t, final.text, "Your booking has been confirmed!")
	assert.Contains(t, final.text, "Time: 0730 - 0815")
	assert.Contains(t, final.text, "Location: Location 1")
	assert.Len(t, h.cal.Events(calendarID), 1)

	var statuses []string
	for _, m := range h.prompter.all(chat) {
		if m.kind == "status" {
			statuses = append(statuses, m.text)
		}
	}
	require.Len(t, statuses, 3)
	assert.Equal(t, booking.StatusChecking, statuses[0])
	assert.Equal(t, booking.StatusProcessing, statuses[1])
}

func TestBooking_SecondBookingConflicts(t *testing.T) {
	h := newHarness(t, nil)

	h.book(t, PrivateKey(1), "010126", 0, 0, 1)
	require.NoError(t, h.handle(t, PrivateKey(1), Choice("confirm:YES")))

	h.book(t, PrivateKey(2), "010126", 0, 0, 1)
	err := h.handle(t, PrivateKey(2), Choice("confirm:YES"))
	assert.True(t, stderrors.Is(err, errors.ErrLocationBooked))
	assert.Equal(t, "Location 1 has already been booked for that time. Please book another slot.", h.prompter.last(PrivateKey(2)).text)

	assert.Len(t, h.cal.Events(calendarID), 1)
	_, active := h.engine.State(PrivateKey(2))
	assert.False(t, active)
}

func TestBooking_PastDateRejected(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.engine.StartBooking(context.Background(), PrivateKey(5)))

	err := h.handle(t, PrivateKey(5), Text("010120"))
	assert.True(t, stderrors.Is(err, errors.ErrDateInPast))
	assert.Equal(t, AwaitingDate{}, h.state(t, PrivateKey(5)))
	assert.Equal(t, "Cannot put a past date. Please enter a valid date. Eg: 311225", h.prompter.last(PrivateKey(5)).text)

	// today is not bookable either
	err = h.handle(t, PrivateKey(5), Text("010625"))
	assert.True(t, stderrors.Is(err, errors.ErrDateInPast))

	err = h.handle(t, PrivateKey(5), Text("3-12-25"))
	assert.True(t, stderrors.Is(err, errors.ErrInvalidDateFormat))
	assert.Equal(t, "Date format is invalid. Please enter a valid date. Eg: 311225", h.prompter.last(PrivateKey(5)).text)
	assert.Equal(t, AwaitingDate{}, h.state(t, PrivateKey(5)))

	require.NoError(t, h.handle(t, PrivateKey(5), Text("020625")))
	assert.IsType(t, AwaitingStartPeriod{}, h.state(t, PrivateKey(5)))
}

func TestBooking_EndBeforeStartRejected(t *testing.T) {
	h := newHarness(t, nil)
	chat := PrivateKey(9)

	require.NoError(t, h.engine.StartBooking(context.Background(), chat))
	require.NoError(t, h.handle(t, chat, Text("010126")))
	require.NoError(t, h.handle(t, chat, Choice("period:5")))
	before := h.state(t, chat)
	offered := h.prompter.last(chat).options

	err := h.handle(t, chat, Choice("period:3"))
	assert.True(t, stderrors.Is(err, errors.ErrPeriodOrder))
	assert.Equal(t, before, h.state(t, chat))

	all := h.prompter.all(chat)
	assert.Equal(t, sent{kind: "replace", text: errors.ErrPeriodOrder.Message}, all[len(all)-2])
	assert.Equal(t, offered, all[len(all)-1].options)

	require.NoError(t, h.handle(t, chat, Choice("period:5")))
	assert.IsType(t, AwaitingLocation{}, h.state(t, chat))
}

func TestBooking_WrongInputKindReprompts(t *testing.T) {
	h := newHarness(t, nil)
	chat := PrivateKey(3)

	require.NoError(t, h.engine.StartBooking(context.Background(), chat))

	err := h.handle(t, chat, Choice("period:1"))
	assert.True(t, stderrors.Is(err, errors.ErrUnexpectedInput))
	assert.Equal(t, AwaitingDate{}, h.state(t, chat))

	require.NoError(t, h.handle(t, chat, Text("010126")))

	err = h.handle(t, chat, Text("Period 1"))
	assert.True(t, stderrors.Is(err, errors.ErrUnexpectedInput))
	assert.IsType(t, AwaitingStartPeriod{}, h.state(t, chat))
	all := h.prompter.all(chat)
	assert.Equal(t, errors.ErrUnexpectedInput.Message, all[len(all)-2].text)
	assert.Equal(t, PeriodOptions(), all[len(all)-1].options)

	// a location button left over from another step is not a period
	err = h.handle(t, chat, Choice("location:1"))
	assert.True(t, stderrors.Is(err, errors.ErrInvalidPeriod))

	err = h.handle(t, chat, Choice("period:11"))
	assert.True(t, stderrors.Is(err, errors.ErrInvalidPeriod))
	assert.IsType(t, AwaitingStartPeriod{}, h.state(t, chat))

	require.NoError(t, h.handle(t, chat, Choice("period:1")))
	require.NoError(t, h.handle(t, chat, Choice("period:2")))

	err = h.handle(t, chat, Choice("location:0"))
	assert.True(t, stderrors.Is(err, errors.ErrInvalidLocation))
	assert.IsType(t, AwaitingLocation{}, h.state(t, chat))

	require.NoError(t, h.handle(t, chat, Choice("location:4")))

	err = h.handle(t, chat, Text(""))
	assert.True(t, stderrors.Is(err, errors.ErrEmptyText))
	assert.IsType(t, AwaitingName{}, h.state(t, chat))
}

func TestBooking_Declined(t *testing.T) {
	h := newHarness(t, nil)
	h.book(t, PrivateKey(1), "010126", 0, 0, 1)

	require.NoError(t, h.handle(t, PrivateKey(1), Choice("confirm:NO")))
	assert.Equal(t, sent{kind: "replace", text: MsgTerminated}, h.prompter.last(PrivateKey(1)))
	assert.Empty(t, h.cal.Events(calendarID))
	_, active := h.engine.State(PrivateKey(1))
	assert.False(t, active)
}

func TestBooking_UnknownConfirmation(t *testing.T) {
	h := newHarness(t, nil)
	h.book(t, PrivateKey(1), "010126", 0, 0, 1)

	err := h.handle(t, PrivateKey(1), Choice("confirm:MAYBE"))
	assert.True(t, stderrors.Is(err, errors.ErrUnknownSelection))
	assert.Equal(t, sent{kind: "replace", text: "Unknown option selected."}, h.prompter.last(PrivateKey(1)))
	_, active := h.engine.State(PrivateKey(1))
	assert.False(t, active)
}

func TestBooking_TextAtConfirmationReprompts(t *testing.T) {
	h := newHarness(t, nil)
	h.book(t, PrivateKey(1), "010126", 0, 0, 1)

	err := h.handle(t, PrivateKey(1), Text("yes"))
	assert.True(t, stderrors.Is(err, errors.ErrUnexpectedInput))
	assert.IsType(t, AwaitingConfirmation{}, h.state(t, PrivateKey(1)))
	assert.Equal(t, ConfirmOptions(), h.prompter.last(PrivateKey(1)).options)
}

func TestBooking_AuthFailure(t *testing.T) {
	h := newHarness(t, credentials.NewStatic(nil))
	h.book(t, PrivateKey(1), "010126", 0, 0, 1)

	err := h.handle(t, PrivateKey(1), Choice("confirm:YES"))
	assert.True(t, stderrors.Is(err, errors.ErrAuthUnavailable))
	assert.Equal(t, booking.MsgAuthFailure, h.prompter.last(PrivateKey(1)).text)
	assert.Empty(t, h.cal.Events(calendarID))
}

func TestBooking_InsertFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.cal.SetInsertError(fmt.Errorf("quota"))
	h.book(t, PrivateKey(1), "010126", 0, 0, 1)

	err := h.handle(t, PrivateKey(1), Choice("confirm:YES"))
	assert.True(t, stderrors.Is(err, errors.ErrCalendarRemote))
	assert.Equal(t, booking.MsgInsertFailure, h.prompter.last(PrivateKey(1)).text)
}

func TestCancel(t *testing.T) {
	states := []func(t *testing.T, h *harness, chat Key){
		func(t *testing.T, h *harness, chat Key) {},
		func(t *testing.T, h *harness, chat Key) { _ = h.handle(t, chat, Text("010126")) },
		func(t *testing.T, h *harness, chat Key) {
			_ = h.handle(t, chat, Text("010126"))
			_ = h.handle(t, chat, Choice("period:2"))
		},
		func(t *testing.T, h *harness, chat Key) {
			_ = h.handle(t, chat, Text("010126"))
			_ = h.handle(t, chat, Choice("period:2"))
			_ = h.handle(t, chat, Choice("period:2"))
			_ = h.handle(t, chat, Choice("location:2"))
			_ = h.handle(t, chat, Text("name"))
		},
	}

	for i, advance := range states {
		t.Run(fmt.Sprintf("step %d", i), func(t *testing.T) {
			h := newHarness(t, nil)
			chat := PrivateKey(77)
			require.NoError(t, h.engine.StartBooking(context.Background(), chat))
			advance(t, h, chat)

			require.NoError(t, h.handle(t, chat, Cancel()))
			assert.Equal(t, sent{kind: "send", text: MsgCancelled}, h.prompter.last(chat))
			_, active := h.engine.State(chat)
			assert.False(t, active)

			lists, inserts := h.cal.Calls()
			assert.Zero(t, lists)
			assert.Zero(t, inserts)
		})
	}
}

func TestHandle_NoSession(t *testing.T) {
	h := newHarness(t, nil)
	ok, err := h.engine.Handle(context.Background(), PrivateKey(1), Text("hello"))
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestStartBooking_ReplacesSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.StartBooking(ctx, PrivateKey(1)))
	require.NoError(t, h.handle(t, PrivateKey(1), Text("010126")))
	require.NoError(t, h.engine.StartListing(ctx, PrivateKey(1)))

	assert.Equal(t, AwaitingListingDate{}, h.state(t, PrivateKey(1)))
	assert.Equal(t, 1, h.engine.ActiveSessions())
}

func TestListing(t *testing.T) {
	h := newHarness(t, nil)
	chat := PrivateKey(11)

	day := time.Date(2025, time.June, 2, 0, 0, 0, 0, catalog.Zone)
	start, end, err := catalog.Window(day, 2, 3)
	require.NoError(t, err)
	h.cal.Add(calendarID, calendar.Event{
		Summary:     booking.DefaultSummary,
		Location:    "Location 2",
		Description: "Booked by 3SG Ethan Cole for BSC",
		Start:       start,
		End:         end,
	})
	h.cal.Add(calendarID, calendar.Event{Summary: "Stocktake", AllDay: true, Start: day, End: day.AddDate(0, 0, 1)})

	require.NoError(t, h.engine.StartListing(context.Background(), chat))
	assert.Equal(t, sent{kind: "send", text: MsgAskListingDate}, h.prompter.last(chat))

	require.NoError(t, h.handle(t, chat, Text("020625")))
	_, active := h.engine.State(chat)
	assert.False(t, active)

	all := h.prompter.all(chat)
	require.GreaterOrEqual(t, len(all), 2)
	assert.Equal(t, sent{kind: "status", text: booking.StatusListing}, all[len(all)-2])

	out := all[len(all)-1].text
	assert.True(t, strings.HasPrefix(out, "Here are the bookings for 02 Jun 2025:"))
	assert.Less(t, strings.Index(out, "Time: All day"), strings.Index(out, "Location: Location 2"))
	assert.Contains(t, out, "Description: Booked by 3SG Ethan Cole for BSC")
	assert.Contains(t, out, "Location: No location provided")
}

func TestListing_Empty(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.engine.StartListing(context.Background(), PrivateKey(1)))
	require.NoError(t, h.handle(t, PrivateKey(1), Text("020625")))
	assert.Equal(t, "No bookings found for 02 Jun 2025.", h.prompter.last(PrivateKey(1)).text)
}

func TestListing_PastDateReprompts(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.engine.StartListing(context.Background(), PrivateKey(1)))
	err := h.handle(t, PrivateKey(1), Text("310525"))
	assert.True(t, stderrors.Is(err, errors.ErrDateInPast))
	assert.Equal(t, AwaitingListingDate{}, h.state(t, PrivateKey(1)))
}

func TestListing_RemoteFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.cal.SetListError(fmt.Errorf("unavailable"))

	require.NoError(t, h.engine.StartListing(context.Background(), PrivateKey(1)))
	err := h.handle(t, PrivateKey(1), Text("020625"))
	assert.Error(t, err)
	assert.Equal(t, booking.MsgListingFailure, h.prompter.last(PrivateKey(1)).text)
	_, active := h.engine.State(PrivateKey(1))
	assert.False(t, active)
}

func TestExpireSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	chat := PrivateKey(42)

	require.NoError(t, h.engine.StartBooking(ctx, chat))
	at, ok := h.timeouts.at(chat)
	require.True(t, ok)
	assert.Equal(t, h.clock.Now().Add(30*time.Minute), at)

	h.clock.Advance(10 * time.Minute)
	require.NoError(t, h.handle(t, chat, Text("010126")))

	// the original deadline has passed but the session was active since
	h.clock.Advance(25 * time.Minute)
	require.NoError(t, h.engine.ExpireSession(ctx, chat))
	assert.IsType(t, AwaitingStartPeriod{}, h.state(t, chat))
	at, ok = h.timeouts.at(chat)
	require.True(t, ok)
	assert.Equal(t, h.clock.Now().Add(5*time.Minute), at)

	h.clock.Advance(5 * time.Minute)
	require.NoError(t, h.engine.ExpireSession(ctx, chat))
	_, active := h.engine.State(chat)
	assert.False(t, active)
	assert.Equal(t, sent{kind: "send", text: MsgTimedOut}, h.prompter.last(chat))

	_, ok = h.timeouts.at(chat)
	assert.False(t, ok)

	ok, err := h.engine.Handle(ctx, chat, Choice("period:1"))
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestExpireSession_Unknown(t *testing.T) {
	h := newHarness(t, nil)
	assert.NoError(t, h.engine.ExpireSession(context.Background(), PrivateKey(404)))
	assert.Empty(t, h.prompter.all(PrivateKey(404)))
}

func TestSessionsAreIndependent(t *testing.T) {
	h := newHarness(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(chat Key, location int) {
			defer wg.Done()
			ctx := context.Background()
			_ = h.engine.StartBooking(ctx, chat)
			_, _ = h.engine.Handle(ctx, chat, Text("010126"))
			_, _ = h.engine.Handle(ctx, chat, Choice("period:1"))
			_, _ = h.engine.Handle(ctx, chat, Choice("period:2"))
			_, _ = h.engine.Handle(ctx, chat, Choice(fmt.Sprintf("location:%d", location)))
			_, _ = h.engine.Handle(ctx, chat, Text("name"))
			_, _ = h.engine.Handle(ctx, chat, Text("course"))
			_, _ = h.engine.Handle(ctx, chat, Choice("confirm:YES"))
		}(PrivateKey(int64(i+1)), i+1)
	}
	wg.Wait()

	assert.Len(t, h.cal.Events(calendarID), 4)
	assert.Equal(t, 0, h.engine.ActiveSessions())
}

func TestSameSlotRace(t *testing.T) {
	h := newHarness(t, nil)

	for n := int64(1); n <= 5; n++ {
		h.book(t, PrivateKey(n), "010126", 3, 4, 2)
	}

	var wg sync.WaitGroup
	for n := int64(1); n <= 5; n++ {
		wg.Add(1)
		go func(chat Key) {
			defer wg.Done()
			_, _ = h.engine.Handle(context.Background(), chat, Choice("confirm:YES"))
		}(PrivateKey(n))
	}
	wg.Wait()

	assert.Len(t, h.cal.Events(calendarID), 1)
}

func TestGroupMembersHaveSeparateSessions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	const group = int64(-1001)
	first := Key{ChatID: group, UserID: 1}
	second := Key{ChatID: group, UserID: 2}

	require.NoError(t, h.engine.StartBooking(ctx, first))

	// another member's text neither advances nor ends the booking
	ok, err := h.engine.Handle(ctx, second, Text("010126"))
	assert.False(t, ok)
	assert.NoError(t, err)
	ok, _ = h.engine.Handle(ctx, second, Cancel())
	assert.False(t, ok)
	assert.Equal(t, AwaitingDate{}, h.state(t, first))

	require.NoError(t, h.engine.StartBooking(ctx, second))
	require.NoError(t, h.handle(t, first, Text("010126")))
	assert.IsType(t, AwaitingStartPeriod{}, h.state(t, first))
	assert.Equal(t, AwaitingDate{}, h.state(t, second))
	assert.Equal(t, 2, h.engine.ActiveSessions())

	require.NoError(t, h.handle(t, second, Cancel()))
	assert.IsType(t, AwaitingStartPeriod{}, h.state(t, first))
	assert.Equal(t, 1, h.engine.ActiveSessions())
}

type blockingCommitter struct {
	started chan struct{}
	release chan struct{}
}

func (c *blockingCommitter) Commit(ctx context.Context, cand booking.Candidate, status booking.StatusFunc) (booking.Confirmation, error) {
	close(c.started)
	<-c.release
	return booking.Confirmation{Candidate: cand}, nil
}

func TestReplacedSessionEndsOnce(t *testing.T) {
	committer := &blockingCommitter{started: make(chan struct{}), release: make(chan struct{})}
	clock := &fakeClock{now: time.Date(2025, time.June, 1, 9, 0, 0, 0, catalog.Zone)}
	engine := NewEngine(newFakePrompter(), committer, nil, WithClock(clock.Now))
	ctx := context.Background()
	key := PrivateKey(8)

	require.NoError(t, engine.StartBooking(ctx, key))
	for _, in := range []Input{
		Text("010126"), Choice("period:1"), Choice("period:1"), Choice("location:1"), Text("name"), Text("course"),
	} {
		_, err := engine.Handle(ctx, key, in)
		require.NoError(t, err)
	}

	replaced := testutil.ToFloat64(metrics.SessionsEnded.WithLabelValues(reasonReplaced))
	completed := testutil.ToFloat64(metrics.SessionsEnded.WithLabelValues(reasonCompleted))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = engine.Handle(ctx, key, Choice("confirm:YES"))
	}()
	<-committer.started

	require.NoError(t, engine.StartBooking(ctx, key))
	close(committer.release)
	<-done

	assert.Equal(t, replaced+1, testutil.ToFloat64(metrics.SessionsEnded.WithLabelValues(reasonReplaced)))
	assert.Equal(t, completed, testutil.ToFloat64(metrics.SessionsEnded.WithLabelValues(reasonCompleted)))

	st, ok := engine.State(key)
	require.True(t, ok)
	assert.Equal(t, AwaitingDate{}, st)
}
