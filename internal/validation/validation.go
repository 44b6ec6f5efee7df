package validation

import (
	"regexp"
	"strconv"
	"time"

	"github.com/ptssworkshopschedule/workshopbot/internal/catalog"
	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
)

// DateLayout is the DDMMYY layout users type dates in.
const DateLayout = "020106"

// Regular expressions used for validation
var (
	dateRegex  = regexp.MustCompile(`^\d{6}$`)
	indexRegex = regexp.MustCompile(`^\d{1,2}$`)
)

// CheckDateFormat reports whether s is exactly six digits forming a real
// day/month/two-digit-year date.
func CheckDateFormat(s string) bool {
	_, err := ParseDate(s)
	return err == nil
}

// ParseDate parses a DDMMYY string into midnight of that day in catalog.Zone.
func ParseDate(s string) (time.Time, error) {
	if !dateRegex.MatchString(s) {
		return time.Time{}, errors.ErrInvalidDateFormat.WithContext(map[string]interface{}{
			"input": s,
		})
	}

	date, err := time.ParseInLocation(DateLayout, s, catalog.Zone)
	if err != nil {
		return time.Time{}, errors.ErrInvalidDateFormat.WithError(err).WithContext(map[string]interface{}{
			"input": s,
		})
	}

	return date, nil
}

// CheckDateNotPast reports whether the calendar day of date is strictly after
// the calendar day of now. Both are compared in catalog.Zone, so "today" means
// today at UTC+8 regardless of the host's local zone.
func CheckDateNotPast(date, now time.Time) bool {
	return Day(date).After(Day(now))
}

// Day truncates t to midnight of its calendar day in catalog.Zone.
func Day(t time.Time) time.Time {
	y, m, d := t.In(catalog.Zone).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, catalog.Zone)
}

// ValidateBookingDate parses s and checks that it lies after today.
func ValidateBookingDate(s string, now time.Time) (time.Time, error) {
	date, err := ParseDate(s)
	if err != nil {
		return time.Time{}, err
	}

	if !CheckDateNotPast(date, now) {
		return time.Time{}, errors.ErrDateInPast.WithContext(map[string]interface{}{
			"date":  date.Format("2006-01-02"),
			"today": Day(now).Format("2006-01-02"),
		})
	}

	return date, nil
}

// ParseIndex parses a small non-negative integer selection value.
func ParseIndex(s string) (int, bool) {
	if !indexRegex.MatchString(s) {
		return 0, false
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return i, true
}

// ValidatePeriod parses a period selection.
func ValidatePeriod(s string) (int, error) {
	i, ok := ParseIndex(s)
	if !ok || !catalog.ValidPeriod(i) {
		return 0, errors.ErrInvalidPeriod.WithContext(map[string]interface{}{
			"input": s,
		})
	}
	return i, nil
}

// ValidatePeriodOrder checks that the booking does not end before it starts.
func ValidatePeriodOrder(start, end int) error {
	if end < start {
		return errors.ErrPeriodOrder.WithContext(map[string]interface{}{
			"start_period": start,
			"end_period":   end,
		})
	}
	return nil
}

// ValidateLocation parses a location selection. The sentinel index 0 is rejected.
func ValidateLocation(s string) (int, error) {
	i, ok := ParseIndex(s)
	if !ok || !catalog.ValidLocation(i) {
		return 0, errors.ErrInvalidLocation.WithContext(map[string]interface{}{
			"input": s,
		})
	}
	return i, nil
}

// ValidateFreeText accepts any non-empty string.
func ValidateFreeText(s string) (string, error) {
	if s == "" {
		return "", errors.ErrEmptyText
	}
	return s, nil
}
