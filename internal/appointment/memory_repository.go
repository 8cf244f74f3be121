package appointment

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository with the same compare-and-set
// semantics as PgRepository. Used by tests and the single-node dev mode.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]Appointment
	events []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[uuid.UUID]Appointment)}
}

func (r *MemoryRepository) InsertAppointment(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[a.ID]; exists {
		return ErrConcurrentModification
	}
	r.byID[a.ID] = a.Clone()
	return nil
}

func (r *MemoryRepository) LoadAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := a.Clone()
	return &out, nil
}

func (r *MemoryRepository) AppendHistory(_ context.Context, a *Appointment, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if stored.Version != expectedVersion || len(a.History) != len(stored.History)+1 {
		return ErrConcurrentModification
	}

	next := a.Clone()
	next.Version = expectedVersion + 1
	r.byID[a.ID] = next
	a.Version = next.Version
	return nil
}

func (r *MemoryRepository) ListSlotAppointments(_ context.Context, locationID, date string) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool {
		return a.LocationID == locationID && a.Date == date
	}), nil
}

func (r *MemoryRepository) ListCitizenAppointments(_ context.Context, citizenID string) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool {
		return a.CitizenID == citizenID
	}), nil
}

func (r *MemoryRepository) ListByStatusBefore(_ context.Context, status Status, date string) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool {
		return a.Status == status && a.Date < date
	}), nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]EventLog(nil), r.events...)
}

func (r *MemoryRepository) filter(keep func(Appointment) bool) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.byID {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
