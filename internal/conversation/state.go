package conversation

import (
	"time"

	"github.com/ptssworkshopschedule/workshopbot/internal/booking"
)

// State is one step of a conversation. Each state carries exactly the
// fields collected so far.
type State interface {
	Name() string
	isState()
}

// AwaitingDate waits for the booking date.
type AwaitingDate struct{}

// AwaitingStartPeriod waits for the starting period.
type AwaitingStartPeriod struct {
	Date time.Time
}

// AwaitingEndPeriod waits for the ending period.
type AwaitingEndPeriod struct {
	Date  time.Time
	Start int
}

// AwaitingLocation waits for the location.
type AwaitingLocation struct {
	Date  time.Time
	Start int
	End   int
}

// AwaitingName waits for the rank and name of the person booking.
type AwaitingName struct {
	Date     time.Time
	Start    int
	End      int
	Location int
}

// AwaitingCourse waits for the course or reason.
type AwaitingCourse struct {
	Date     time.Time
	Start    int
	End      int
	Location int
	Booker   string
}

// AwaitingConfirmation waits for YES or NO on a complete booking.
type AwaitingConfirmation struct {
	Booking booking.Candidate
}

// AwaitingListingDate waits for the date whose bookings are listed.
type AwaitingListingDate struct{}

// Terminal ends the conversation.
type Terminal struct{}

func (AwaitingDate) Name() string         { return "awaiting_date" }
func (AwaitingStartPeriod) Name() string  { return "awaiting_start_period" }
func (AwaitingEndPeriod) Name() string    { return "awaiting_end_period" }
func (AwaitingLocation) Name() string     { return "awaiting_location" }
func (AwaitingName) Name() string         { return "awaiting_name" }
func (AwaitingCourse) Name() string       { return "awaiting_course" }
func (AwaitingConfirmation) Name() string { return "awaiting_confirmation" }
func (AwaitingListingDate) Name() string  { return "awaiting_listing_date" }
func (Terminal) Name() string             { return "terminal" }

func (AwaitingDate) isState()         {}
func (AwaitingStartPeriod) isState()  {}
func (AwaitingEndPeriod) isState()    {}
func (AwaitingLocation) isState()     {}
func (AwaitingName) isState()         {}
func (AwaitingCourse) isState()       {}
func (AwaitingConfirmation) isState() {}
func (AwaitingListingDate) isState()  {}
func (Terminal) isState()             {}

// InputKind tells text apart from button presses.
type InputKind int

const (
	InputText InputKind = iota
	InputChoice
	InputCancel
)

// Input is one user action routed to a session.
type Input struct {
	Kind  InputKind
	Value string
}

// Text is a typed message.
func Text(s string) Input { return Input{Kind: InputText, Value: s} }

// Choice is a button press carrying the option value.
func Choice(value string) Input { return Input{Kind: InputChoice, Value: value} }

// Cancel aborts the conversation.
func Cancel() Input { return Input{Kind: InputCancel} }
