// Package reschedule rate-limits citizens over a trailing window of their
// appointment history. The guard keeps no counters: every decision is
// recomputed from the history it is given.
package reschedule

import (
	"sort"
	"time"

	"github.com/alefm12/jAgendamento-sub001/internal/appointment"
)

type Policy struct {
	MaxReschedulesPerWindow int
	WindowDays              int
	MaxNoShowsPerWindow     int
	NoShowWindowDays        int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxReschedulesPerWindow: 3,
		WindowDays:              7,
		MaxNoShowsPerWindow:     3,
		NoShowWindowDays:        7,
	}
}

type Guard struct {
	policy Policy
}

// NewGuard returns a guard for policy. A non-positive reschedule limit or
// window falls back to the default; a non-positive no-show limit disables
// the booking check.
func NewGuard(policy Policy) *Guard {
	def := DefaultPolicy()
	if policy.MaxReschedulesPerWindow <= 0 {
		policy.MaxReschedulesPerWindow = def.MaxReschedulesPerWindow
	}
	if policy.WindowDays <= 0 {
		policy.WindowDays = def.WindowDays
	}
	return &Guard{policy: policy}
}

func (g *Guard) Policy() Policy {
	return g.policy
}

// Count returns how many reschedules citizenID performed within the window ending at now.
func (g *Guard) Count(citizenID string, appts []appointment.Appointment, now time.Time) int {
	return countWithin(citizenID, appts, now, g.policy.WindowDays, appointment.HistoryEntry.IsReschedule)
}

func (g *Guard) IsBlocked(citizenID string, appts []appointment.Appointment, now time.Time) bool {
	return g.Count(citizenID, appts, now) >= g.policy.MaxReschedulesPerWindow
}

// Check returns a *RescheduleLimitError when the citizen may not reschedule.
func (g *Guard) Check(citizenID string, appts []appointment.Appointment, now time.Time) error {
	if g.IsBlocked(citizenID, appts, now) {
		return &appointment.RescheduleLimitError{
			Limit:      g.policy.MaxReschedulesPerWindow,
			WindowDays: g.policy.WindowDays,
		}
	}
	return nil
}

// UnblockedAt reports when the oldest counted reschedule leaves the window,
// or the zero time if the citizen is not blocked.
func (g *Guard) UnblockedAt(citizenID string, appts []appointment.Appointment, now time.Time) time.Time {
	if !g.IsBlocked(citizenID, appts, now) {
		return time.Time{}
	}
	window := days(g.policy.WindowDays)
	times := changeTimes(citizenID, appts, now, g.policy.WindowDays, appointment.HistoryEntry.IsReschedule)
	// the citizen is unblocked once count drops below the limit
	drop := len(times) - g.policy.MaxReschedulesPerWindow
	return times[drop].Add(window + time.Nanosecond)
}

// NoShowCount returns how many no-show cancellations citizenID has within the no-show window.
func (g *Guard) NoShowCount(citizenID string, appts []appointment.Appointment, now time.Time) int {
	return countWithin(citizenID, appts, now, g.policy.NoShowWindowDays, isNoShow)
}

// CheckBooking returns a *NoShowLimitError when repeated no-shows block new bookings.
func (g *Guard) CheckBooking(citizenID string, appts []appointment.Appointment, now time.Time) error {
	if g.policy.MaxNoShowsPerWindow <= 0 {
		return nil
	}
	if g.NoShowCount(citizenID, appts, now) >= g.policy.MaxNoShowsPerWindow {
		return &appointment.NoShowLimitError{
			Limit:      g.policy.MaxNoShowsPerWindow,
			WindowDays: g.policy.NoShowWindowDays,
		}
	}
	return nil
}

func isNoShow(e appointment.HistoryEntry) bool {
	return e.To == appointment.StatusCancelled &&
		e.Metadata[appointment.MetaCancellationCategory] == string(appointment.CancelNoShow)
}

func countWithin(citizenID string, appts []appointment.Appointment, now time.Time, windowDays int, match func(appointment.HistoryEntry) bool) int {
	return len(changeTimes(citizenID, appts, now, windowDays, match))
}

// changeTimes returns the matching entries' timestamps inside [now-window, now], oldest first.
func changeTimes(citizenID string, appts []appointment.Appointment, now time.Time, windowDays int, match func(appointment.HistoryEntry) bool) []time.Time {
	from := now.Add(-days(windowDays))
	var out []time.Time
	for _, a := range appts {
		if a.CitizenID != citizenID {
			continue
		}
		for _, e := range a.History {
			if !match(e) {
				continue
			}
			if e.ChangedAt.Before(from) || e.ChangedAt.After(now) {
				continue
			}
			out = append(out, e.ChangedAt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
