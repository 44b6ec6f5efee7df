// Package catalog holds the fixed set of bookable periods and locations.
//
// The catalog is initialized once at package load and never mutated.
package catalog

import (
	"fmt"
	"time"
)

// UTCOffset is the single fixed offset used for every booking timestamp.
const UTCOffset = 8 * time.Hour

// TimeZoneName is the IANA name sent alongside timestamps to the calendar.
const TimeZoneName = "Asia/Singapore"

// Zone is the fixed UTC+8 location.
var Zone = time.FixedZone("UTC+8", int(UTCOffset.Seconds()))

// UnknownLocation is index 0 of the location table. It is never offered to users.
const UnknownLocation = 0

var (
	startLabels = [...]string{
		"0730", "0815", "0830", "0915", "1030", "1115",
		"1300", "1345", "1500", "1545", "1630",
	}
	endLabels = [...]string{
		"0815", "0830", "0915", "1000", "1115", "1200",
		"1345", "1430", "1545", "1630", "1715",
	}
	locationLabels = [...]string{
		"UNKNOWN LOCATION", "Location 1", "Location 2", "Location 3", "Location 4",
	}
)

// PeriodCount is the number of bookable periods (indices 0..PeriodCount-1).
const PeriodCount = len(startLabels)

// LocationCount is the size of the location table, sentinel included.
const LocationCount = len(locationLabels)

// Period is one bookable time-of-day slot.
type Period struct {
	Index int
	Start string
	End   string
}

// Label renders the period the way it appears on selection buttons.
func (p Period) Label() string {
	return fmt.Sprintf("Period %d (%s - %s)", p.Index, p.Start, p.End)
}

// Location is a bookable place.
type Location struct {
	Index int
	Label string
}

// ValidPeriod reports whether i is a catalog period index.
func ValidPeriod(i int) bool {
	return i >= 0 && i < PeriodCount
}

// ValidLocation reports whether i is a user-selectable location index.
func ValidLocation(i int) bool {
	return i > UnknownLocation && i < LocationCount
}

// GetPeriod returns the period at index i.
func GetPeriod(i int) (Period, bool) {
	if !ValidPeriod(i) {
		return Period{}, false
	}
	return Period{Index: i, Start: startLabels[i], End: endLabels[i]}, true
}

// Periods returns all periods in index order.
func Periods() []Period {
	out := make([]Period, 0, PeriodCount)
	for i := 0; i < PeriodCount; i++ {
		p, _ := GetPeriod(i)
		out = append(out, p)
	}
	return out
}

// StartLabel returns the HHMM start label of period i, or "" when out of range.
func StartLabel(i int) string {
	if !ValidPeriod(i) {
		return ""
	}
	return startLabels[i]
}

// EndLabel returns the HHMM end label of period i, or "" when out of range.
func EndLabel(i int) string {
	if !ValidPeriod(i) {
		return ""
	}
	return endLabels[i]
}

// LocationLabel returns the label of location i. Out-of-range indices map
// to the sentinel label.
func LocationLabel(i int) string {
	if i < 0 || i >= LocationCount {
		return locationLabels[UnknownLocation]
	}
	return locationLabels[i]
}

// Locations returns the user-selectable locations (the sentinel excluded).
func Locations() []Location {
	out := make([]Location, 0, LocationCount-1)
	for i := UnknownLocation + 1; i < LocationCount; i++ {
		out = append(out, Location{Index: i, Label: locationLabels[i]})
	}
	return out
}

// At combines the calendar day of date with an HHMM label, in Zone.
func At(date time.Time, label string) (time.Time, error) {
	clock, err := time.Parse("1504", label)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time label %q: %w", label, err)
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, Zone), nil
}

// Window returns the start and end instants of a booking from startPeriod to
// endPeriod on date.
func Window(date time.Time, startPeriod, endPeriod int) (time.Time, time.Time, error) {
	if !ValidPeriod(startPeriod) || !ValidPeriod(endPeriod) {
		return time.Time{}, time.Time{}, fmt.Errorf("period out of range: %d-%d", startPeriod, endPeriod)
	}
	start, err := At(date, startLabels[startPeriod])
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := At(date, endLabels[endPeriod])
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
