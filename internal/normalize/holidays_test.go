package normalize

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestHolidaysBetween(t *testing.T) {
	span := HolidaysBetween(date(2026, 1, 1), date(2026, 1, 31))
	expected := HolidaySpan{
		French: []Holiday{{Date: date(2026, 1, 1), Name: "New Year's Day"}},
		India:  []Holiday{{Date: date(2026, 1, 26), Name: "Republic Day"}},
	}
	if diff := cmp.Diff(expected, span); diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t,
		"French Holidays: New Year's Day (01/01/2026); India Holidays: Republic Day (26/01/2026)",
		span.Summary(),
	)

	// reversed bounds, the time of day does not exclude the last day
	reversed := HolidaysBetween(time.Date(2026, 1, 26, 17, 0, 0, 0, time.UTC), date(2026, 1, 1))
	if diff := cmp.Diff(expected, reversed); diff != "" {
		t.Fatal(diff)
	}
}

func TestHolidaysBetweenNone(t *testing.T) {
	span := HolidaysBetween(date(2026, 6, 1), date(2026, 6, 20))
	require.True(t, span.Empty())
	require.Equal(t, "No public holidays between the dates.", span.Summary())

	span = HolidaysBetweenDates("soon", "2026-01-01")
	require.True(t, span.Empty())
}

func TestHolidaysBetweenDates(t *testing.T) {
	span := HolidaysBetweenDates("10-Oct-2026", "2026-11-11T09:00:00")
	require.Equal(t,
		"French Holidays: All Saints' Day (01/11/2026), Armistice Day (11/11/2026); "+
			"India Holidays: Dussehra (10/10/2026), Diwali (29/10/2026)",
		span.Summary(),
	)
}

func TestCalendarsAreSorted(t *testing.T) {
	for _, list := range [][]Holiday{FrenchHolidays, IndiaHolidays} {
		for i := 1; i < len(list); i++ {
			require.True(t, list[i-1].Date.Before(list[i].Date), list[i])
		}
	}
	require.Len(t, FrenchHolidays, 22)
	require.Len(t, IndiaHolidays, 34)
}
