package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alefm12/jAgendamento-sub001/internal/appointment"
	"github.com/alefm12/jAgendamento-sub001/internal/callqueue"
)

type BookRequest struct {
	LocationID   string
	Date         string
	Time         string
	CitizenID    string
	CitizenName  string
	CitizenPhone string
	CitizenEmail string
	Priority     appointment.Priority
}

func (r BookRequest) validate() error {
	var missing []string
	if strings.TrimSpace(r.LocationID) == "" {
		missing = append(missing, "locationId")
	}
	if strings.TrimSpace(r.CitizenID) == "" {
		missing = append(missing, "citizenId")
	}
	if strings.TrimSpace(r.CitizenName) == "" {
		missing = append(missing, "citizenName")
	}
	if r.Date == "" {
		missing = append(missing, "date")
	}
	if r.Time == "" {
		missing = append(missing, "time")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", appointment.ErrInvalidInput, strings.Join(missing, ", "))
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", appointment.ErrInvalidInput, r.Priority)
	}
	return nil
}

// Book creates a pending appointment. Capacity is checked once up front and
// again under the slot lock right before the insert.
func (s *Service) Book(ctx context.Context, req BookRequest, actor string) (*appointment.Appointment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	citizenAppts, err := s.repo.ListCitizenAppointments(ctx, req.CitizenID)
	if err != nil {
		return nil, fmt.Errorf("list citizen appointments: %w", err)
	}
	if err := s.guard.CheckBooking(req.CitizenID, citizenAppts, s.clock.Now()); err != nil {
		return nil, err
	}

	if err := s.checkSlot(ctx, req.LocationID, req.Date, req.Time, nil); err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = appointment.PriorityNormal
	}

	var created appointment.Appointment
	key := appointment.SlotKey{LocationID: req.LocationID, Date: req.Date, Time: req.Time}
	err = s.withRetry(ctx, "book", func(ctx context.Context) error {
		return s.locker.WithSlotLock(ctx, key.String(), func(lockCtx context.Context) error {
			// re-check inside the critical section
			if err := s.checkSlot(lockCtx, req.LocationID, req.Date, req.Time, nil); err != nil {
				return err
			}

			now := s.clock.Now()
			id := uuid.New()
			a := appointment.Appointment{
				ID:           id,
				Protocol:     appointment.NewProtocol(req.Date, id),
				CitizenID:    strings.TrimSpace(req.CitizenID),
				CitizenName:  strings.TrimSpace(req.CitizenName),
				CitizenPhone: req.CitizenPhone,
				CitizenEmail: req.CitizenEmail,
				LocationID:   req.LocationID,
				Date:         req.Date,
				Time:         req.Time,
				Status:       appointment.StatusPending,
				Priority:     priority,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := s.repo.InsertAppointment(lockCtx, &a); err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}
			created = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, EventStatusChanged, created.ID, map[string]any{
		"from":       "",
		"to":         string(created.Status),
		"actor":      actor,
		"protocol":   created.Protocol,
		"locationId": created.LocationID,
		"date":       created.Date,
		"time":       created.Time,
	})
	return &created, nil
}

// checkSlot validates a slot against the calendar using the current bookings,
// ignoring the appointment being moved.
func (s *Service) checkSlot(ctx context.Context, locationID, date, tm string, moving *appointment.Appointment) error {
	existing, err := s.repo.ListSlotAppointments(ctx, locationID, date)
	if err != nil {
		return fmt.Errorf("list slot appointments: %w", err)
	}
	if moving != nil {
		existing = appointment.Without(existing, *moving)
	}
	return s.calendar.Check(locationID, date, tm, existing)
}

// Confirm moves a pending appointment to confirmed, optionally setting its priority.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, priority appointment.Priority, actor string) (*appointment.Appointment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if priority != "" && !priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", appointment.ErrInvalidInput, priority)
	}

	req := appointment.TransitionRequest{To: appointment.StatusConfirmed, Actor: actor}
	if priority != "" {
		req.Metadata = map[string]string{appointment.MetaPriority: string(priority)}
	}

	a, from, err := s.commit(ctx, "confirm", id, func(cur appointment.Appointment) (appointment.Appointment, error) {
		if cur.Status != appointment.StatusPending {
			return appointment.Appointment{}, &appointment.TransitionError{From: cur.Status, To: appointment.StatusConfirmed}
		}
		return s.machine.Transition(cur, req)
	})
	if err != nil {
		return nil, err
	}
	s.statusChanged(ctx, a, from, actor)
	return &a, nil
}

// Call directs the citizen to room and booth. The persisted status is unchanged.
func (s *Service) Call(ctx context.Context, id uuid.UUID, room, booth, actor string) (*callqueue.Announcement, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(room) == "" {
		return nil, appointment.ErrMissingRoomAssignment
	}

	a, err := s.repo.LoadAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != appointment.StatusPending && a.Status != appointment.StatusConfirmed {
		return nil, &appointment.TransitionError{
			From:   a.Status,
			To:     a.Status,
			Detail: "only pending or confirmed appointments can be called",
		}
	}

	locationName := a.LocationID
	if loc, ok := s.calendar.Location(a.LocationID); ok && loc.Name != "" {
		locationName = loc.Name
	}

	ann, err := s.queue.Call(ctx, *a, locationName, room, booth)
	if err != nil {
		return nil, err
	}
	s.callTriggered(ctx, ann, actor)
	return &ann, nil
}

// Recall re-announces the active call of an appointment.
func (s *Service) Recall(ctx context.Context, id uuid.UUID, actor string) (*callqueue.Announcement, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	ann, err := s.queue.Recall(ctx, id)
	if err != nil {
		return nil, err
	}
	s.callTriggered(ctx, ann, actor)
	return &ann, nil
}

func (s *Service) callTriggered(ctx context.Context, ann callqueue.Announcement, actor string) {
	payload := map[string]any{
		"announcementId": ann.AnnouncementID.String(),
		"room":           ann.Room,
		"repeated":       ann.Repeated,
		"actor":          actor,
		"locationId":     ann.LocationID,
	}
	if ann.Booth != "" {
		payload["booth"] = ann.Booth
	}
	s.emit(ctx, EventCallTriggered, ann.AppointmentID, payload)
}

// Complete records that the citizen was attended and takes them off the
// calling panel. Only an appointment with an active call can be completed;
// the entry is removed after the new status is persisted.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor string) (*appointment.Appointment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	a, from, err := s.commit(ctx, "complete", id, func(cur appointment.Appointment) (appointment.Appointment, error) {
		if _, ok := s.queue.Lookup(cur.ID); !ok {
			return appointment.Appointment{}, fmt.Errorf("complete %s: %w", cur.ID, appointment.ErrNotCurrentlyQueued)
		}
		if cur.Status != appointment.StatusConfirmed {
			return appointment.Appointment{}, &appointment.TransitionError{From: cur.Status, To: appointment.StatusCompleted}
		}
		return s.machine.Transition(cur, appointment.TransitionRequest{To: appointment.StatusCompleted, Actor: actor})
	})
	if err != nil {
		return nil, err
	}
	s.dequeue(a.ID)
	s.statusChanged(ctx, a, from, actor)
	return &a, nil
}

// Cancel cancels a pending or confirmed appointment. Both category and reason are required.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, category appointment.CancellationCategory, reason, actor string) (*appointment.Appointment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !category.Valid() || strings.TrimSpace(reason) == "" {
		return nil, appointment.ErrMissingReason
	}
	req := appointment.TransitionRequest{
		To:       appointment.StatusCancelled,
		Actor:    actor,
		Reason:   reason,
		Metadata: map[string]string{appointment.MetaCancellationCategory: string(category)},
	}
	a, from, err := s.commit(ctx, "cancel", id, func(cur appointment.Appointment) (appointment.Appointment, error) {
		return s.machine.Transition(cur, req)
	})
	if err != nil {
		return nil, err
	}
	s.dequeue(a.ID)
	s.statusChanged(ctx, a, from, actor)
	return &a, nil
}

// Reschedule moves a pending appointment to another date and time after the
// citizen's reschedule window and the target slot are checked.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newDate, newTime, actor string) (*appointment.Appointment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if newDate == "" || newTime == "" {
		return nil, fmt.Errorf("%w: new date and time are required", appointment.ErrInvalidInput)
	}

	var (
		next appointment.Appointment
		from appointment.Status
	)
	err := s.withRetry(ctx, "reschedule", func(ctx context.Context) error {
		cur, err := s.repo.LoadAppointment(ctx, id)
		if err != nil {
			return err
		}

		// one citizen's reschedules are counted and committed one at a time
		return s.locker.WithSlotLock(ctx, citizenLockKey(cur.CitizenID), func(ctx context.Context) error {
			citizenAppts, err := s.repo.ListCitizenAppointments(ctx, cur.CitizenID)
			if err != nil {
				return fmt.Errorf("list citizen appointments: %w", err)
			}
			if err := s.guard.Check(cur.CitizenID, citizenAppts, s.clock.Now()); err != nil {
				return err
			}

			updated, err := s.machine.Reschedule(*cur, newDate, newTime, actor, "")
			if err != nil {
				return err
			}

			key := updated.SlotKey()
			return s.locker.WithSlotLock(ctx, key.String(), func(lockCtx context.Context) error {
				if err := s.checkSlot(lockCtx, key.LocationID, key.Date, key.Time, cur); err != nil {
					return err
				}
				if err := s.repo.AppendHistory(lockCtx, &updated, cur.Version); err != nil {
					return err
				}
				next, from = updated, cur.Status
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	s.statusChanged(ctx, next, from, actor)
	return &next, nil
}

// Rollback reverts the appointment to the status it had before its last change.
func (s *Service) Rollback(ctx context.Context, id uuid.UUID, reason, actor string) (*appointment.Appointment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	a, from, err := s.commit(ctx, "rollback", id, func(cur appointment.Appointment) (appointment.Appointment, error) {
		return s.machine.Rollback(cur, actor, reason)
	})
	if err != nil {
		return nil, err
	}
	s.statusChanged(ctx, a, from, actor)
	return &a, nil
}

var issuanceStates = map[appointment.Status]bool{
	appointment.StatusAwaitingIssuance: true,
	appointment.StatusCINReady:         true,
	appointment.StatusCINDelivered:     true,
}

// Advance steps a completed appointment through document issuance.
func (s *Service) Advance(ctx context.Context, id uuid.UUID, to appointment.Status, reason, actor string) (*appointment.Appointment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !issuanceStates[to] {
		return nil, fmt.Errorf("%w: advance only reaches issuance states, got %q", appointment.ErrInvalidInput, to)
	}
	a, from, err := s.commit(ctx, "advance", id, func(cur appointment.Appointment) (appointment.Appointment, error) {
		if next, ok := appointment.Successor(cur.Status); !ok || next != to {
			return appointment.Appointment{}, &appointment.TransitionError{From: cur.Status, To: to}
		}
		return s.machine.Transition(cur, appointment.TransitionRequest{To: to, Actor: actor, Reason: reason})
	})
	if err != nil {
		return nil, err
	}
	s.statusChanged(ctx, a, from, actor)
	return &a, nil
}

// SweepNoShows cancels pending and confirmed appointments dated before
// date with the no-show category. It returns how many were cancelled.
func (s *Service) SweepNoShows(ctx context.Context, date string) (int, error) {
	var candidates []appointment.Appointment
	for _, st := range []appointment.Status{appointment.StatusPending, appointment.StatusConfirmed} {
		list, err := s.repo.ListByStatusBefore(ctx, st, date)
		if err != nil {
			return 0, fmt.Errorf("list %s appointments before %s: %w", st, date, err)
		}
		candidates = append(candidates, list...)
	}

	swept := 0
	for _, a := range candidates {
		reason := fmt.Sprintf("citizen did not attend on %s at %s", a.Date, a.Time)
		_, err := s.Cancel(ctx, a.ID, appointment.CancelNoShow, reason, NoShowActor)
		if errors.Is(err, appointment.ErrInvalidTransition) {
			// moved on since it was listed
			continue
		}
		if err != nil {
			s.logger.Warn("cancel no-show",
				zap.String("appointment_id", a.ID.String()), zap.Error(err))
			continue
		}
		swept++
	}
	return swept, nil
}

func citizenLockKey(citizenID string) string {
	return "citizen:" + citizenID
}

func (s *Service) dequeue(id uuid.UUID) {
	if err := s.queue.Complete(id); err != nil && !errors.Is(err, appointment.ErrNotCurrentlyQueued) {
		s.logger.Warn("remove from call queue", zap.String("appointment_id", id.String()), zap.Error(err))
	}
}
