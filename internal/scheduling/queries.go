package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alefm12/jAgendamento-sub001/internal/appointment"
	"github.com/alefm12/jAgendamento-sub001/internal/callqueue"
	"github.com/alefm12/jAgendamento-sub001/internal/slots"
)

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, err := s.repo.LoadAppointment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (s *Service) AvailableSlots(ctx context.Context, locationID, date string) ([]slots.Slot, error) {
	existing, err := s.repo.ListSlotAppointments(ctx, locationID, date)
	if err != nil {
		return nil, fmt.Errorf("list slot appointments: %w", err)
	}
	return s.calendar.AvailableSlots(locationID, date, existing)
}

// Queue returns the active calls of a location, most recent first.
func (s *Service) Queue(locationID string) []callqueue.Announcement {
	return s.queue.Entries(locationID)
}

type RescheduleStatus struct {
	CitizenID   string     `json:"citizenId"`
	Count       int        `json:"count"`
	Limit       int        `json:"limit"`
	WindowDays  int        `json:"windowDays"`
	Blocked     bool       `json:"blocked"`
	UnblockedAt *time.Time `json:"unblockedAt,omitempty"`
}

// RescheduleStatus reports how close a citizen is to the reschedule limit.
func (s *Service) RescheduleStatus(ctx context.Context, citizenID string) (RescheduleStatus, error) {
	if strings.TrimSpace(citizenID) == "" {
		return RescheduleStatus{}, fmt.Errorf("%w: citizen id is required", appointment.ErrInvalidInput)
	}
	appts, err := s.repo.ListCitizenAppointments(ctx, citizenID)
	if err != nil {
		return RescheduleStatus{}, fmt.Errorf("list citizen appointments: %w", err)
	}

	now := s.clock.Now()
	policy := s.guard.Policy()
	st := RescheduleStatus{
		CitizenID:  citizenID,
		Count:      s.guard.Count(citizenID, appts, now),
		Limit:      policy.MaxReschedulesPerWindow,
		WindowDays: policy.WindowDays,
		Blocked:    s.guard.IsBlocked(citizenID, appts, now),
	}
	if at := s.guard.UnblockedAt(citizenID, appts, now); !at.IsZero() {
		st.UnblockedAt = &at
	}
	return st, nil
}
