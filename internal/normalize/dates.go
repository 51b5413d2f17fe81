package normalize

import (
	"strings"
	"time"
)

const NotAvailable = "N/A"

// layouts are tried in order, day-first wherever the order is ambiguous.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"02-Jan-2006 15:04",
	"02-Jan-2006",
	"2-Jan-2006",
	"02 Jan 2006 15:04",
	"02 Jan 2006",
	"2 Jan 2006",
	"02 January 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"2/1/2006",
	"02.01.2006",
	"02-01-2006",
	"Mon, 02 Jan 2006",
	"Mon 02-Jan-2006",
}

// ParseDate reads the date formats carriers and the api emit. Zoned times
// keep their wall clock, the zone is dropped.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, NotAvailable) {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// FormatDate writes DD/MM/YYYY, with HH:MM appended when the time is not
// midnight.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return NotAvailable
	}
	if t.Hour() != 0 || t.Minute() != 0 {
		return t.Format("02/01/2006 15:04")
	}
	return t.Format("02/01/2006")
}

func StandardizeDate(s string) string {
	t, ok := ParseDate(s)
	if !ok {
		return NotAvailable
	}
	return FormatDate(t)
}

// DaysBetween returns the number of days from `from` to `to`, negative when
// `to` is earlier.
func DaysBetween(from, to string) (int, bool) {
	ta, okA := ParseDate(from)
	tb, okB := ParseDate(to)
	if !okA || !okB {
		return 0, false
	}
	return int(dayOf(tb).Sub(dayOf(ta)).Hours() / 24), true
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
