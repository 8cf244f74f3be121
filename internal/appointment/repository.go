package appointment

import (
	"context"

	"github.com/google/uuid"
)

// Repository contains all storage interactions needed by the scheduling core.
type Repository interface {
	InsertAppointment(ctx context.Context, a *Appointment) error
	LoadAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// AppendHistory persists the appointment state together with its last
	// history entry, but only if the stored version still equals
	// expectedVersion. On success a.Version is advanced. A version mismatch
	// yields ErrConcurrentModification.
	AppendHistory(ctx context.Context, a *Appointment, expectedVersion int64) error

	// For capacity and rate-limit checks
	ListSlotAppointments(ctx context.Context, locationID, date string) ([]Appointment, error)
	ListCitizenAppointments(ctx context.Context, citizenID string) ([]Appointment, error)

	// No-show worker
	ListByStatusBefore(ctx context.Context, status Status, date string) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
