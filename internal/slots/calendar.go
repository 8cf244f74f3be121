// Package slots computes bookable time slots per location and date and
// enforces per-slot capacity.
package slots

import (
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/alefm12/jAgendamento-sub001/internal/appointment"
)

type BlockType string

const (
	BlockFullDay       BlockType = "full-day"
	BlockSpecificTimes BlockType = "specific-times"
)

// BlockedDate closes a date, or some of its times, for one location or for
// all of them when LocationID is empty.
type BlockedDate struct {
	Date         string
	LocationID   string
	BlockType    BlockType
	BlockedTimes []string
}

func (b BlockedDate) appliesTo(locationID, date string) bool {
	return b.Date == date && (b.LocationID == "" || b.LocationID == locationID)
}

type Location struct {
	ID           string
	Name         string
	WorkingHours []string
	WorkingDays  []time.Weekday
}

type Settings struct {
	MaxAppointmentsPerSlot int
	BookingWindowDays      int
	DefaultWorkingHours    []string
	DefaultWorkingDays     []time.Weekday
	TimeZone               *time.Location
}

type Slot struct {
	Time              string `json:"time"`
	RemainingCapacity int    `json:"remainingCapacity"`
}

// Calendar is read-only after construction and safe for concurrent use.
type Calendar struct {
	settings  Settings
	locations map[string]Location
	blocked   []BlockedDate
	clock     clockwork.Clock
}

func NewCalendar(settings Settings, locations []Location, blocked []BlockedDate, clock clockwork.Clock) *Calendar {
	if settings.TimeZone == nil {
		settings.TimeZone = time.UTC
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	byID := make(map[string]Location, len(locations))
	for _, l := range locations {
		byID[l.ID] = l
	}
	return &Calendar{
		settings:  settings,
		locations: byID,
		blocked:   append([]BlockedDate(nil), blocked...),
		clock:     clock,
	}
}

func (c *Calendar) Location(id string) (Location, bool) {
	l, ok := c.locations[id]
	return l, ok
}

func (c *Calendar) Settings() Settings {
	return c.settings
}

// Today returns the current date in the calendar's time zone.
func (c *Calendar) Today() string {
	return c.clock.Now().In(c.settings.TimeZone).Format(appointment.DateLayout)
}

// AvailableSlots returns the bookable times of a date in chronological order.
// existing must contain the appointments of that location and date.
func (c *Calendar) AvailableSlots(locationID, date string, existing []appointment.Appointment) ([]Slot, error) {
	times, err := c.offeredTimes(locationID, date)
	if err != nil {
		return nil, err
	}

	slots := make([]Slot, 0, len(times))
	for _, tm := range times {
		key := appointment.SlotKey{LocationID: locationID, Date: date, Time: tm}
		remaining := c.settings.MaxAppointmentsPerSlot - appointment.CountInSlot(existing, key)
		if remaining > 0 {
			slots = append(slots, Slot{Time: tm, RemainingCapacity: remaining})
		}
	}
	return slots, nil
}

// Check returns nil if the slot can take one more booking, a *DateError
// (ErrDateNotBookable) when the date or time is not offered, or
// ErrSlotCapacityExceeded when the slot is full.
func (c *Calendar) Check(locationID, date, tm string, existing []appointment.Appointment) error {
	times, err := c.offeredTimes(locationID, date)
	if err != nil {
		return err
	}
	if !containsTime(times, tm) {
		return &appointment.DateError{Date: date, Time: tm, Reason: "time is not offered"}
	}

	key := appointment.SlotKey{LocationID: locationID, Date: date, Time: tm}
	if appointment.CountInSlot(existing, key) >= c.settings.MaxAppointmentsPerSlot {
		return fmt.Errorf("%s: %w", key, appointment.ErrSlotCapacityExceeded)
	}
	return nil
}

func (c *Calendar) CanBook(locationID, date, tm string, existing []appointment.Appointment) bool {
	return c.Check(locationID, date, tm, existing) == nil
}

func (c *Calendar) offeredTimes(locationID, date string) ([]string, error) {
	tz := c.settings.TimeZone
	day, err := time.ParseInLocation(appointment.DateLayout, date, tz)
	if err != nil {
		return nil, &appointment.DateError{Date: date, Reason: "invalid date"}
	}

	now := c.clock.Now().In(tz)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, tz)
	if day.Before(today) {
		return nil, &appointment.DateError{Date: date, Reason: "date is in the past"}
	}
	if day.After(today.AddDate(0, 0, c.settings.BookingWindowDays)) {
		return nil, &appointment.DateError{
			Date:   date,
			Reason: fmt.Sprintf("bookings open at most %d days ahead", c.settings.BookingWindowDays),
		}
	}

	loc, ok := c.locations[locationID]
	if !ok {
		return nil, &appointment.DateError{Date: date, Reason: fmt.Sprintf("unknown location %q", locationID)}
	}

	days := loc.WorkingDays
	if len(days) == 0 {
		days = c.settings.DefaultWorkingDays
	}
	if len(days) > 0 && !containsWeekday(days, day.Weekday()) {
		return nil, &appointment.DateError{Date: date, Reason: fmt.Sprintf("location is closed on %s", day.Weekday())}
	}

	blockedTimes := make(map[string]bool)
	for _, b := range c.blocked {
		if !b.appliesTo(locationID, date) {
			continue
		}
		if b.BlockType == BlockFullDay {
			return nil, &appointment.DateError{Date: date, Reason: "date is blocked"}
		}
		for _, t := range b.BlockedTimes {
			blockedTimes[t] = true
		}
	}

	hours := loc.WorkingHours
	if len(hours) == 0 {
		hours = c.settings.DefaultWorkingHours
	}

	sameDay := day.Equal(today)
	nowClock := now.Format(appointment.TimeLayout)

	out := make([]string, 0, len(hours))
	for _, h := range hours {
		if _, err := time.Parse(appointment.TimeLayout, h); err != nil {
			continue
		}
		if blockedTimes[h] || containsTime(out, h) {
			continue
		}
		if sameDay && h <= nowClock {
			continue
		}
		out = append(out, h)
	}
	sort.Strings(out)
	return out, nil
}

func containsTime(list []string, t string) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsWeekday(list []time.Weekday, d time.Weekday) bool {
	for _, v := range list {
		if v == d {
			return true
		}
	}
	return false
}
