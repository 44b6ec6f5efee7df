// Package memory is an in-process calendar.Remote used for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/ptssworkshopschedule/workshopbot/internal/calendar"
	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
)

// Calendar stores events per calendar ID.
type Calendar struct {
	mu        sync.RWMutex
	events    map[string][]calendar.Event
	listErr   error
	insertErr error
	lists     int
	inserts   int
}

// New creates an empty calendar.
func New() *Calendar {
	return &Calendar{events: make(map[string][]calendar.Event)}
}

// Add stores ev as-is, assigning an ID when it has none.
func (c *Calendar) Add(calendarID string, ev calendar.Event) calendar.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(calendarID, ev)
}

func (c *Calendar) addLocked(calendarID string, ev calendar.Event) calendar.Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.HTMLLink == "" {
		ev.HTMLLink = "memory://" + calendarID + "/events/" + ev.ID
	}
	if ev.StartRaw == "" {
		if ev.AllDay {
			ev.StartRaw = ev.Start.Format(calendar.DateLayout)
		} else {
			ev.StartRaw = ev.Start.Format(calendar.DateTimeLayout)
		}
	}
	c.events[calendarID] = append(c.events[calendarID], ev)
	return ev
}

// SetListError makes every subsequent ListEvents fail with err. Nil clears it.
func (c *Calendar) SetListError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listErr = err
}

// SetInsertError makes every subsequent InsertEvent fail with err. Nil clears it.
func (c *Calendar) SetInsertError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertErr = err
}

// Events returns a copy of the stored events of calendarID.
func (c *Calendar) Events(calendarID string) []calendar.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]calendar.Event, len(c.events[calendarID]))
	copy(out, c.events[calendarID])
	return out
}

// Calls returns how many list and insert calls were made.
func (c *Calendar) Calls() (lists, inserts int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lists, c.inserts
}

// ListEvents returns the events intersecting the query window.
func (c *Calendar) ListEvents(ctx context.Context, tok *oauth2.Token, q calendar.Query) ([]calendar.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.ErrCalendarRemote.WithError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists++

	if c.listErr != nil {
		return nil, errors.ErrCalendarRemote.WithError(c.listErr)
	}

	var out []calendar.Event
	for _, ev := range c.events[q.CalendarID] {
		if calendar.Overlaps(ev, q.TimeMin, q.TimeMax) {
			out = append(out, ev)
		}
	}

	if q.OrderBy == calendar.OrderByStartTime {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Start.Before(out[j].Start)
		})
	}
	return out, nil
}

// InsertEvent stores ev with a new ID.
func (c *Calendar) InsertEvent(ctx context.Context, tok *oauth2.Token, calendarID string, ev calendar.Event) (calendar.Event, error) {
	if err := ctx.Err(); err != nil {
		return calendar.Event{}, errors.ErrCalendarRemote.WithError(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inserts++

	if c.insertErr != nil {
		return calendar.Event{}, errors.ErrCalendarRemote.WithError(c.insertErr)
	}

	ev.ID = ""
	ev.HTMLLink = ""
	ev.StartRaw = ""
	return c.addLocked(calendarID, ev), nil
}
