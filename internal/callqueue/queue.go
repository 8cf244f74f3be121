package callqueue

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/alefm12/jAgendamento-sub001/internal/appointment"
)

const DefaultMaxEntries = 50

// Announcer receives every call and recall. Implementations must not block.
type Announcer interface {
	Announce(ctx context.Context, a Announcement)
}

// Queue holds the active calls, most recent first. It is safe for concurrent use.
type Queue struct {
	mu         sync.Mutex
	entries    []Announcement
	maxEntries int
	clock      clockwork.Clock
	announcer  Announcer
}

// NewQueue creates a queue. announcer may be nil when nothing listens.
func NewQueue(maxEntries int, clock clockwork.Clock, announcer Announcer) *Queue {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Queue{
		maxEntries: maxEntries,
		clock:      clock,
		announcer:  announcer,
	}
}

// Call puts appt at the head of the queue, replacing any earlier call for it.
func (q *Queue) Call(ctx context.Context, appt appointment.Appointment, locationName, room, booth string) (Announcement, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return Announcement{}, appointment.ErrMissingRoomAssignment
	}

	a := Announcement{
		AnnouncementID: uuid.New(),
		AppointmentID:  appt.ID,
		CitizenName:    appt.CitizenName,
		Priority:       appt.Priority,
		Room:           room,
		Booth:          strings.TrimSpace(booth),
		LocationID:     appt.LocationID,
		LocationName:   locationName,
		Protocol:       appt.Protocol,
		Date:           appt.Date,
		Time:           appt.Time,
		EmittedAt:      q.clock.Now(),
	}

	q.mu.Lock()
	q.pushLocked(a)
	q.mu.Unlock()

	q.announce(ctx, a)
	return a, nil
}

// Recall re-emits the active call for appointmentID with a new announcement id.
func (q *Queue) Recall(ctx context.Context, appointmentID uuid.UUID) (Announcement, error) {
	q.mu.Lock()
	i := q.indexLocked(appointmentID)
	if i < 0 {
		q.mu.Unlock()
		return Announcement{}, fmt.Errorf("recall %s: %w", appointmentID, appointment.ErrNotCurrentlyQueued)
	}
	a := q.entries[i]
	a.AnnouncementID = uuid.New()
	a.EmittedAt = q.clock.Now()
	a.Repeated = true
	q.pushLocked(a)
	q.mu.Unlock()

	q.announce(ctx, a)
	return a, nil
}

// Complete removes the active call for appointmentID.
func (q *Queue) Complete(appointmentID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(appointmentID)
	if i < 0 {
		return fmt.Errorf("complete %s: %w", appointmentID, appointment.ErrNotCurrentlyQueued)
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	return nil
}

// Entries returns the active calls of a location, most recent first. An empty
// locationID returns every location.
func (q *Queue) Entries(locationID string) []Announcement {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Announcement, 0, len(q.entries))
	for _, a := range q.entries {
		if locationID == "" || a.LocationID == locationID {
			out = append(out, a)
		}
	}
	return out
}

func (q *Queue) Lookup(appointmentID uuid.UUID) (Announcement, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(appointmentID)
	if i < 0 {
		return Announcement{}, false
	}
	return q.entries[i], true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) pushLocked(a Announcement) {
	if i := q.indexLocked(a.AppointmentID); i >= 0 {
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
	}
	q.entries = append([]Announcement{a}, q.entries...)
	if len(q.entries) > q.maxEntries {
		q.entries = q.entries[:q.maxEntries]
	}
}

func (q *Queue) indexLocked(appointmentID uuid.UUID) int {
	for i, a := range q.entries {
		if a.AppointmentID == appointmentID {
			return i
		}
	}
	return -1
}

func (q *Queue) announce(ctx context.Context, a Announcement) {
	if q.announcer != nil {
		q.announcer.Announce(ctx, a)
	}
}
