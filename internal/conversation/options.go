package conversation

import (
	"strconv"
	"strings"

	"github.com/ptssworkshopschedule/workshopbot/internal/catalog"
)

// Option is a selectable button.
type Option struct {
	Label string
	Value string
}

// Option value prefixes. A button from an earlier step carries a different
// prefix and is rejected instead of being read as the current step's answer.
const (
	periodPrefix   = "period:"
	locationPrefix = "location:"
	confirmPrefix  = "confirm:"

	confirmYes = "YES"
	confirmNo  = "NO"
)

// PeriodOptions lists every period.
func PeriodOptions() []Option {
	periods := catalog.Periods()
	out := make([]Option, 0, len(periods))
	for _, p := range periods {
		out = append(out, Option{Label: p.Label(), Value: periodPrefix + strconv.Itoa(p.Index)})
	}
	return out
}

// LocationOptions lists the selectable locations.
func LocationOptions() []Option {
	locations := catalog.Locations()
	out := make([]Option, 0, len(locations))
	for _, l := range locations {
		out = append(out, Option{Label: l.Label, Value: locationPrefix + strconv.Itoa(l.Index)})
	}
	return out
}

// ConfirmOptions is the YES/NO pair.
func ConfirmOptions() []Option {
	return []Option{
		{Label: confirmYes, Value: confirmPrefix + confirmYes},
		{Label: confirmNo, Value: confirmPrefix + confirmNo},
	}
}

// choiceValue strips prefix from value. ok is false when the prefix differs.
func choiceValue(value, prefix string) (string, bool) {
	if !strings.HasPrefix(value, prefix) {
		return "", false
	}
	return strings.TrimPrefix(value, prefix), true
}
