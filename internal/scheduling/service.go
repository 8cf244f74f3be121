// Package scheduling sequences the slot calendar, status machine, reschedule
// guard and call queue behind one command surface. Every successful command
// persists first, then updates the call queue, then emits exactly one event.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/alefm12/jAgendamento-sub001/internal/appointment"
	"github.com/alefm12/jAgendamento-sub001/internal/callqueue"
	redisclient "github.com/alefm12/jAgendamento-sub001/internal/redis"
	"github.com/alefm12/jAgendamento-sub001/internal/reschedule"
	"github.com/alefm12/jAgendamento-sub001/internal/slots"
)

const (
	EventStatusChanged = "status-changed"
	EventCallTriggered = "call-triggered"

	DefaultMaxCommitAttempts = 3

	NoShowActor = "system:noshow-worker"
)

// Event is the single high-level notification emitted per successful command.
type Event struct {
	Type          string         `json:"type"`
	AppointmentID uuid.UUID      `json:"appointmentId"`
	Payload       map[string]any `json:"payload"`
	EmittedAt     time.Time      `json:"emittedAt"`
}

// Notifier consumes events. Its failures are logged and never fail a command.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// SlotLocker serializes the capacity re-check and write of one slot.
type SlotLocker interface {
	WithSlotLock(ctx context.Context, slotKey string, fn func(ctx context.Context) error) error
}

type Deps struct {
	Repo     appointment.Repository
	Calendar *slots.Calendar
	Guard    *reschedule.Guard
	Queue    *callqueue.Queue
	Locker   SlotLocker
	Notifier Notifier
	Clock    clockwork.Clock
	Logger   *zap.Logger

	MaxCommitAttempts int
}

type Service struct {
	repo     appointment.Repository
	calendar *slots.Calendar
	machine  *appointment.StatusMachine
	guard    *reschedule.Guard
	queue    *callqueue.Queue
	locker   SlotLocker
	notifier Notifier
	clock    clockwork.Clock
	logger   *zap.Logger

	maxAttempts int
}

func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Locker == nil {
		d.Locker = NewLocalLocker()
	}
	if d.Guard == nil {
		d.Guard = reschedule.NewGuard(reschedule.DefaultPolicy())
	}
	if d.Queue == nil {
		d.Queue = callqueue.NewQueue(callqueue.DefaultMaxEntries, d.Clock, nil)
	}
	if d.MaxCommitAttempts <= 0 {
		d.MaxCommitAttempts = DefaultMaxCommitAttempts
	}
	return &Service{
		repo:        d.Repo,
		calendar:    d.Calendar,
		machine:     appointment.NewStatusMachine(d.Clock),
		guard:       d.Guard,
		queue:       d.Queue,
		locker:      d.Locker,
		notifier:    d.Notifier,
		clock:       d.Clock,
		logger:      d.Logger,
		maxAttempts: d.MaxCommitAttempts,
	}
}

// retryable reports whether a command lost a race and can be re-run from a fresh load.
func retryable(err error) bool {
	return errors.Is(err, appointment.ErrConcurrentModification) ||
		errors.Is(err, redisclient.ErrLockNotAcquired)
}

// withRetry runs fn until it succeeds, fails for a non-race reason, or
// the attempts are used up.
func (s *Service) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
		s.logger.Debug("command lost a race, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	if errors.Is(err, appointment.ErrConcurrentModification) {
		return fmt.Errorf("%s: %d attempts: %w", op, s.maxAttempts, err)
	}
	return fmt.Errorf("%s: %d attempts: %v: %w", op, s.maxAttempts, err, appointment.ErrConcurrentModification)
}

// commit loads the appointment, computes the next state with step and
// persists it with a version check, retrying lost races.
func (s *Service) commit(ctx context.Context, op string, id uuid.UUID, step func(cur appointment.Appointment) (appointment.Appointment, error)) (appointment.Appointment, appointment.Status, error) {
	var (
		next appointment.Appointment
		from appointment.Status
	)
	err := s.withRetry(ctx, op, func(ctx context.Context) error {
		cur, err := s.repo.LoadAppointment(ctx, id)
		if err != nil {
			return err
		}
		updated, err := step(*cur)
		if err != nil {
			return err
		}
		if err := s.repo.AppendHistory(ctx, &updated, cur.Version); err != nil {
			return err
		}
		next, from = updated, cur.Status
		return nil
	})
	if err != nil {
		return appointment.Appointment{}, "", err
	}
	return next, from, nil
}

func (s *Service) emit(ctx context.Context, typ string, id uuid.UUID, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	ev := Event{Type: typ, AppointmentID: id, Payload: payload, EmittedAt: s.clock.Now()}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Warn("notify event",
			zap.String("type", typ), zap.String("appointment_id", id.String()), zap.Error(err))
	}
}

func (s *Service) statusChanged(ctx context.Context, a appointment.Appointment, from appointment.Status, actor string) {
	payload := map[string]any{
		"from":     string(from),
		"to":       string(a.Status),
		"actor":    actor,
		"protocol": a.Protocol,
	}
	if e, ok := a.LastEntry(); ok {
		payload["historyId"] = e.ID.String()
		if e.Reason != "" {
			payload["reason"] = e.Reason
		}
		for k, v := range e.Metadata {
			payload[k] = v
		}
	}
	s.emit(ctx, EventStatusChanged, a.ID, payload)
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return appointment.ErrMissingActor
	}
	return nil
}
