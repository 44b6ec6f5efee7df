// Package calendar defines the remote calendar the bot books into.
package calendar

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// Layouts used on the wire.
const (
	// DateTimeLayout is RFC 3339 with the numeric offset, e.g. 2025-06-02T07:30:00+08:00.
	DateTimeLayout = time.RFC3339
	// BoundLayout renders query bounds with millisecond precision.
	BoundLayout = "2006-01-02T15:04:05.000Z07:00"
	// DateLayout is the all-day event date format.
	DateLayout = "2006-01-02"

	// OrderByStartTime sorts expanded events by their start.
	OrderByStartTime = "startTime"
)

// Event is a calendar entry. Events are never cached locally.
type Event struct {
	ID          string
	Summary     string
	Location    string
	Description string
	ColorID     string
	HTMLLink    string
	TimeZone    string

	Start time.Time
	End   time.Time

	// StartRaw is the start exactly as the remote reported it. Listings sort on it.
	StartRaw string
	AllDay   bool
}

// Query selects events intersecting [TimeMin, TimeMax).
type Query struct {
	CalendarID   string
	TimeMin      time.Time
	TimeMax      time.Time
	TimeZone     string
	SingleEvents bool
	OrderBy      string
}

// Remote is a calendar service reachable with an OAuth access token.
// Implementations fail with errors.ErrCalendarRemote.
type Remote interface {
	ListEvents(ctx context.Context, tok *oauth2.Token, q Query) ([]Event, error)
	InsertEvent(ctx context.Context, tok *oauth2.Token, calendarID string, ev Event) (Event, error)
}

// Overlaps reports whether ev intersects [min, max).
func Overlaps(ev Event, min, max time.Time) bool {
	return ev.Start.Before(max) && ev.End.After(min)
}
