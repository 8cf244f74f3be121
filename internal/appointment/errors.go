package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrDateNotBookable         = errors.New("date is not bookable")
	ErrSlotCapacityExceeded    = errors.New("slot has no remaining capacity")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrMissingReason           = errors.New("cancellation requires a category and a reason")
	ErrRescheduleLimitExceeded = errors.New("reschedule limit exceeded")
	ErrNoShowLimitExceeded     = errors.New("no-show limit exceeded")
	ErrMissingRoomAssignment   = errors.New("a room is required to call a citizen")
	ErrMissingActor            = errors.New("an acting user is required")
	ErrNotCurrentlyQueued      = errors.New("appointment is not currently queued")
	ErrConcurrentModification  = errors.New("appointment was modified concurrently")
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrInvalidInput            = errors.New("invalid input")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	From   Status
	To     Status
	Detail string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("invalid status transition from %q to %q", e.From, e.To)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// DateError explains why a date or time cannot be booked.
type DateError struct {
	Date   string
	Time   string
	Reason string
}

func (e *DateError) Error() string {
	if e.Time != "" {
		return fmt.Sprintf("%s %s is not bookable: %s", e.Date, e.Time, e.Reason)
	}
	return fmt.Sprintf("%s is not bookable: %s", e.Date, e.Reason)
}

func (e *DateError) Unwrap() error { return ErrDateNotBookable }

// RescheduleLimitError carries the window parameters so callers can render a precise message.
type RescheduleLimitError struct {
	Limit      int
	WindowDays int
}

func (e *RescheduleLimitError) Error() string {
	return fmt.Sprintf("reschedule limit exceeded: at most %d reschedules are allowed within %d days", e.Limit, e.WindowDays)
}

func (e *RescheduleLimitError) Unwrap() error { return ErrRescheduleLimitExceeded }

// NoShowLimitError blocks new bookings after repeated no-shows.
type NoShowLimitError struct {
	Limit      int
	WindowDays int
}

func (e *NoShowLimitError) Error() string {
	return fmt.Sprintf("booking blocked: %d no-shows within %d days", e.Limit, e.WindowDays)
}

func (e *NoShowLimitError) Unwrap() error { return ErrNoShowLimitExceeded }

// Code returns the machine readable code of an error kind, or "internal_error".
func Code(err error) string {
	switch {
	case errors.Is(err, ErrDateNotBookable):
		return "date_not_bookable"
	case errors.Is(err, ErrSlotCapacityExceeded):
		return "slot_capacity_exceeded"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrMissingReason):
		return "missing_reason"
	case errors.Is(err, ErrRescheduleLimitExceeded):
		return "reschedule_limit_exceeded"
	case errors.Is(err, ErrNoShowLimitExceeded):
		return "no_show_limit_exceeded"
	case errors.Is(err, ErrMissingRoomAssignment):
		return "missing_room_assignment"
	case errors.Is(err, ErrNotCurrentlyQueued):
		return "not_currently_queued"
	case errors.Is(err, ErrMissingActor):
		return "missing_actor"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrAppointmentNotFound):
		return "appointment_not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	}
	return "internal_error"
}

// Message returns the user-facing text for an error kind.
func Message(err error) string {
	var rl *RescheduleLimitError
	if errors.As(err, &rl) {
		return fmt.Sprintf("You can reschedule at most %d times within %d days. Please try again later.", rl.Limit, rl.WindowDays)
	}
	var ns *NoShowLimitError
	if errors.As(err, &ns) {
		return fmt.Sprintf("New bookings are blocked after %d missed appointments within %d days.", ns.Limit, ns.WindowDays)
	}
	var de *DateError
	if errors.As(err, &de) {
		return "The selected date or time is not available for booking: " + de.Reason + "."
	}
	var te *TransitionError
	if errors.As(err, &te) {
		return fmt.Sprintf("An appointment in status %q cannot be moved to %q.", te.From, te.To)
	}

	switch {
	case errors.Is(err, ErrDateNotBookable):
		return "The selected date is not available for booking."
	case errors.Is(err, ErrSlotCapacityExceeded):
		return "This time slot is fully booked. Please choose another time."
	case errors.Is(err, ErrInvalidTransition):
		return "This status change is not allowed for the appointment."
	case errors.Is(err, ErrMissingReason):
		return "Select a cancellation category and describe the reason."
	case errors.Is(err, ErrMissingRoomAssignment):
		return "Choose the room the citizen should go to before calling."
	case errors.Is(err, ErrNotCurrentlyQueued):
		return "This citizen is not on the calling panel. Call them first."
	case errors.Is(err, ErrMissingActor):
		return "Identify the staff member performing this action."
	case errors.Is(err, ErrConcurrentModification):
		return "Someone else updated this appointment at the same time. Please retry."
	case errors.Is(err, ErrAppointmentNotFound):
		return "Appointment not found."
	case errors.Is(err, ErrInvalidInput):
		return "The request is incomplete or malformed: " + err.Error() + "."
	}
	return "Unexpected error. Please try again."
}
