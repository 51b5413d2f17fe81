package normalize

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type Holiday struct {
	Date time.Time
	Name string
}

func (h Holiday) String() string {
	return fmt.Sprintf("%s (%s)", h.Name, h.Date.Format("02/01/2006"))
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func calendar(entries map[string]string) []Holiday {
	out := make([]Holiday, 0, len(entries))
	for date, name := range entries {
		out = append(out, Holiday{Date: day(date), Name: name})
	}
	slices.SortFunc(out, func(a, b Holiday) int {
		return a.Date.Compare(b.Date)
	})
	return out
}

// FrenchHolidays are the french public holidays of 2025 and 2026.
var FrenchHolidays = calendar(map[string]string{
	"2025-01-01": "New Year's Day",
	"2025-04-21": "Easter Monday",
	"2025-05-01": "Labour Day",
	"2025-05-08": "Victory Day",
	"2025-05-29": "Ascension Day",
	"2025-06-09": "Whit Monday",
	"2025-07-14": "Bastille Day",
	"2025-08-15": "Assumption Day",
	"2025-11-01": "All Saints' Day",
	"2025-11-11": "Armistice Day",
	"2025-12-25": "Christmas Day",

	"2026-01-01": "New Year's Day",
	"2026-04-06": "Easter Monday",
	"2026-05-01": "Labour Day",
	"2026-05-08": "Victory Day",
	"2026-05-14": "Ascension Day",
	"2026-05-25": "Whit Monday",
	"2026-07-14": "Bastille Day",
	"2026-08-15": "Assumption Day",
	"2026-11-01": "All Saints' Day",
	"2026-11-11": "Armistice Day",
	"2026-12-25": "Christmas Day",
})

// IndiaHolidays are the indian national and gazetted holidays of 2025 and
// 2026.
var IndiaHolidays = calendar(map[string]string{
	"2025-01-26": "Republic Day",
	"2025-03-14": "Holi",
	"2025-03-31": "Eid ul-Fitr",
	"2025-04-10": "Mahavir Jayanti",
	"2025-04-14": "Ambedkar Jayanti",
	"2025-04-18": "Good Friday",
	"2025-05-01": "May Day",
	"2025-06-07": "Eid ul-Adha",
	"2025-07-06": "Muharram",
	"2025-08-15": "Independence Day",
	"2025-08-27": "Janmashtami",
	"2025-09-05": "Milad un-Nabi",
	"2025-10-02": "Gandhi Jayanti",
	"2025-10-21": "Dussehra",
	"2025-10-22": "Diwali",
	"2025-11-05": "Guru Nanak Jayanti",
	"2025-12-25": "Christmas Day",

	"2026-01-26": "Republic Day",
	"2026-03-03": "Holi",
	"2026-03-20": "Eid ul-Fitr",
	"2026-03-30": "Mahavir Jayanti",
	"2026-04-03": "Good Friday",
	"2026-04-14": "Ambedkar Jayanti",
	"2026-05-01": "May Day",
	"2026-05-28": "Eid ul-Adha",
	"2026-06-25": "Muharram",
	"2026-08-15": "Independence Day",
	"2026-08-16": "Janmashtami",
	"2026-08-25": "Milad un-Nabi",
	"2026-10-02": "Gandhi Jayanti",
	"2026-10-10": "Dussehra",
	"2026-10-29": "Diwali",
	"2026-11-24": "Guru Nanak Jayanti",
	"2026-12-25": "Christmas Day",
})

type HolidaySpan struct {
	French []Holiday
	India  []Holiday
}

func (s HolidaySpan) Empty() bool {
	return len(s.French) == 0 && len(s.India) == 0
}

// Summary is the line given to the model next to the ETAs.
func (s HolidaySpan) Summary() string {
	if s.Empty() {
		return "No public holidays between the dates."
	}
	var parts []string
	if len(s.French) > 0 {
		parts = append(parts, "French Holidays: "+joinHolidays(s.French))
	}
	if len(s.India) > 0 {
		parts = append(parts, "India Holidays: "+joinHolidays(s.India))
	}
	return strings.Join(parts, "; ")
}

func joinHolidays(list []Holiday) string {
	names := make([]string, len(list))
	for i, h := range list {
		names[i] = h.String()
	}
	return strings.Join(names, ", ")
}

// HolidaysBetween lists the holidays on or between two days, the bounds may
// be given in either order.
func HolidaysBetween(start, end time.Time) HolidaySpan {
	start, end = dayOf(start), dayOf(end)
	if start.After(end) {
		start, end = end, start
	}
	within := func(list []Holiday) []Holiday {
		var out []Holiday
		for _, h := range list {
			if !h.Date.Before(start) && !h.Date.After(end) {
				out = append(out, h)
			}
		}
		return out
	}
	return HolidaySpan{
		French: within(FrenchHolidays),
		India:  within(IndiaHolidays),
	}
}

// HolidaysBetweenDates is HolidaysBetween over date strings, unparseable
// dates give an empty span.
func HolidaysBetweenDates(start, end string) HolidaySpan {
	ts, okS := ParseDate(start)
	te, okE := ParseDate(end)
	if !okS || !okE {
		return HolidaySpan{}
	}
	return HolidaysBetween(ts, te)
}
