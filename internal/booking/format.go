package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/ptssworkshopschedule/workshopbot/internal/calendar"
)

// DisplayDateLayout renders dates as e.g. "01 Jan 2026".
const DisplayDateLayout = "02 Jan 2006"

const (
	noLocation    = "No location provided"
	noDescription = "No description provided"
	divider       = "----------------------------------------"
)

// FormatDetails renders the summary shown before confirmation.
func FormatDetails(c Candidate) string {
	var b strings.Builder
	b.WriteString("Booking details:\n")
	fmt.Fprintf(&b, "Date: %s\n", c.Date.Format(DisplayDateLayout))
	fmt.Fprintf(&b, "Time: %s - %s\n", c.StartLabel(), c.EndLabel())
	fmt.Fprintf(&b, "Location: %s", c.LocationLabel)
	return b.String()
}

// FormatConfirmation renders a committed booking.
func FormatConfirmation(conf Confirmation) string {
	var b strings.Builder
	b.WriteString("Your booking has been confirmed!\n\n")
	b.WriteString(FormatDetails(conf.Candidate))
	fmt.Fprintf(&b, "\nBooked by: %s", conf.Candidate.Name)
	fmt.Fprintf(&b, "\nCourse/Reason: %s", conf.Candidate.Course)
	fmt.Fprintf(&b, "\n\nYou can view your booking at: %s", conf.Link)
	return b.String()
}

// FormatDay renders the bookings of a day.
func FormatDay(date time.Time, events []calendar.Event) string {
	printed := date.Format(DisplayDateLayout)
	if len(events) == 0 {
		return fmt.Sprintf("No bookings found for %s.", printed)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here are the bookings for %s:\n\n", printed)
	for _, ev := range events {
		if ev.AllDay {
			b.WriteString("Time: All day\n")
		} else {
			fmt.Fprintf(&b, "Time: %s - %s\n", ev.Start.Format("1504"), ev.End.Format("1504"))
		}

		location := ev.Location
		if location == "" {
			location = noLocation
		}
		description := ev.Description
		if description == "" {
			description = noDescription
		}

		fmt.Fprintf(&b, "Location: %s\n", location)
		fmt.Fprintf(&b, "Description: %s\n", description)
		b.WriteString(divider + "\n")
	}
	return b.String()
}
