package slots

import (
	"fmt"
	"strings"
	"time"

	"github.com/alefm12/jAgendamento-sub001/internal/appointment"
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseWeekdays parses short day names such as "mon", "tue".
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		d, ok := weekdays[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", n)
		}
		out = append(out, d)
	}
	return out, nil
}

// ParseBlockedDates parses blocked date entries of the form
//
//	2026-12-25                  full day, all locations
//	2026-12-24@loc-1            full day, one location
//	2026-02-11=09:00|09:30      specific times, all locations
//	2026-02-11@loc-1=09:00      specific times, one location
func ParseBlockedDates(entries []string) ([]BlockedDate, error) {
	out := make([]BlockedDate, 0, len(entries))
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		head, times, partial := strings.Cut(raw, "=")
		date, location, _ := strings.Cut(head, "@")
		if _, err := time.Parse(appointment.DateLayout, date); err != nil {
			return nil, fmt.Errorf("blocked date %q: invalid date", raw)
		}

		b := BlockedDate{Date: date, LocationID: location, BlockType: BlockFullDay}
		if partial {
			b.BlockType = BlockSpecificTimes
			for _, t := range strings.Split(times, "|") {
				t = strings.TrimSpace(t)
				if _, err := time.Parse(appointment.TimeLayout, t); err != nil {
					return nil, fmt.Errorf("blocked date %q: invalid time %q", raw, t)
				}
				b.BlockedTimes = append(b.BlockedTimes, t)
			}
		}
		out = append(out, b)
	}
	return out, nil
}
