package config

import (
	"fmt"
	"strings"

	"github.com/alefm12/jAgendamento-sub001/internal/slots"
)

// parseLocations reads "id=Name;id=Name" and applies the optional per
// location overrides "id=09:00|09:30;id=..." and "id=mon|tue;id=...".
func parseLocations(raw, hours, days string) ([]slots.Location, error) {
	names, err := splitPairs(raw)
	if err != nil {
		return nil, fmt.Errorf("LOCATIONS: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("LOCATIONS: at least one location is required")
	}

	hoursByID, err := splitPairs(hours)
	if err != nil {
		return nil, fmt.Errorf("LOCATION_HOURS: %w", err)
	}
	daysByID, err := splitPairs(days)
	if err != nil {
		return nil, fmt.Errorf("LOCATION_DAYS: %w", err)
	}

	out := make([]slots.Location, 0, len(names))
	index := make(map[string]int, len(names))
	for _, p := range names {
		index[p.key] = len(out)
		out = append(out, slots.Location{ID: p.key, Name: p.value})
	}

	for _, p := range hoursByID {
		i, ok := index[p.key]
		if !ok {
			return nil, fmt.Errorf("LOCATION_HOURS: unknown location %q", p.key)
		}
		out[i].WorkingHours = strings.Split(p.value, "|")
	}
	for _, p := range daysByID {
		i, ok := index[p.key]
		if !ok {
			return nil, fmt.Errorf("LOCATION_DAYS: unknown location %q", p.key)
		}
		wd, err := slots.ParseWeekdays(strings.Split(p.value, "|"))
		if err != nil {
			return nil, fmt.Errorf("LOCATION_DAYS: %w", err)
		}
		out[i].WorkingDays = wd
	}
	return out, nil
}

type pair struct {
	key, value string
}

func splitPairs(raw string) ([]pair, error) {
	var out []pair
	for _, item := range strings.Split(raw, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, v, ok := strings.Cut(item, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("malformed entry %q", item)
		}
		out = append(out, pair{key: k, value: v})
	}
	return out, nil
}
