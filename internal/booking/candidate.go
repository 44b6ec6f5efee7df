// Package booking checks a reservation against the calendar and commits it.
package booking

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/ptssworkshopschedule/workshopbot/internal/catalog"
	"github.com/ptssworkshopschedule/workshopbot/internal/validation"
	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
)

// CredentialSource yields a usable calendar access token.
// It fails with errors.ErrAuthUnavailable.
type CredentialSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Candidate is a fully collected booking that has not been committed yet.
type Candidate struct {
	Date          time.Time
	Start         time.Time
	End           time.Time
	StartPeriod   int
	EndPeriod     int
	Location      int
	LocationLabel string
	Name          string
	Course        string
}

// NewCandidate assembles a candidate from validated conversation input.
func NewCandidate(date time.Time, startPeriod, endPeriod, location int, name, course string) (Candidate, error) {
	if err := validation.ValidatePeriodOrder(startPeriod, endPeriod); err != nil {
		return Candidate{}, err
	}
	if !catalog.ValidLocation(location) {
		return Candidate{}, errors.ErrInvalidLocation.WithContext(map[string]interface{}{
			"location": location,
		})
	}

	start, end, err := catalog.Window(date, startPeriod, endPeriod)
	if err != nil {
		return Candidate{}, errors.ErrInvalidPeriod.WithError(err)
	}

	return Candidate{
		Date:          validation.Day(date),
		Start:         start,
		End:           end,
		StartPeriod:   startPeriod,
		EndPeriod:     endPeriod,
		Location:      location,
		LocationLabel: catalog.LocationLabel(location),
		Name:          name,
		Course:        course,
	}, nil
}

// StartLabel is the HHMM label of the starting period.
func (c Candidate) StartLabel() string {
	return catalog.StartLabel(c.StartPeriod)
}

// EndLabel is the HHMM label of the ending period.
func (c Candidate) EndLabel() string {
	return catalog.EndLabel(c.EndPeriod)
}

// Description is the event description written to the calendar.
func (c Candidate) Description() string {
	return "Booked by " + c.Name + " for " + c.Course
}

// Confirmation is a committed booking.
type Confirmation struct {
	Candidate Candidate
	EventID   string
	Link      string
}
