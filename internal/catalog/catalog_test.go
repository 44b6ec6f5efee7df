package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogShape(t *testing.T) {
	assert.Equal(t, 11, PeriodCount)
	assert.Equal(t, 5, LocationCount)
	assert.Len(t, Periods(), 11)

	locations := Locations()
	require.Len(t, locations, 4)
	assert.Equal(t, Location{Index: 1, Label: "Location 1"}, locations[0])
	assert.Equal(t, Location{Index: 4, Label: "Location 4"}, locations[3])
}

func TestEndLabelsMonotonic(t *testing.T) {
	for i := 0; i < PeriodCount; i++ {
		p, ok := GetPeriod(i)
		require.True(t, ok)
		assert.Less(t, p.Start, p.End, "period %d must end after it starts", i)
		if i > 0 {
			assert.LessOrEqual(t, EndLabel(i-1), EndLabel(i), "end labels must not decrease at %d", i)
		}
	}
}

func TestWindowOrderedForEveryValidPair(t *testing.T) {
	date := time.Date(2026, time.January, 1, 0, 0, 0, 0, Zone)
	for s := 0; s < PeriodCount; s++ {
		for e := s; e < PeriodCount; e++ {
			start, end, err := Window(date, s, e)
			require.NoError(t, err)
			assert.True(t, start.Before(end), "window %d-%d", s, e)
		}
	}
}

func TestAt(t *testing.T) {
	date := time.Date(2026, time.January, 1, 23, 10, 0, 0, Zone)

	got, err := At(date, "0730")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T07:30:00+08:00", got.Format(time.RFC3339))

	_, err = At(date, "7:30")
	assert.Error(t, err)
}

func TestLocationLabel(t *testing.T) {
	assert.Equal(t, "Location 3", LocationLabel(3))
	assert.Equal(t, "UNKNOWN LOCATION", LocationLabel(0))
	assert.Equal(t, "UNKNOWN LOCATION", LocationLabel(9))
	assert.False(t, ValidLocation(0))
	assert.True(t, ValidLocation(4))
	assert.False(t, ValidLocation(5))
}

func TestPeriodLabel(t *testing.T) {
	p, ok := GetPeriod(10)
	require.True(t, ok)
	assert.Equal(t, "Period 10 (1630 - 1715)", p.Label())

	_, ok = GetPeriod(11)
	assert.False(t, ok)
	assert.Equal(t, "", StartLabel(-1))
}
