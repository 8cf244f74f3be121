package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending          Status = "pending"
	StatusConfirmed        Status = "confirmed"
	StatusCompleted        Status = "completed"
	StatusAwaitingIssuance Status = "awaiting-issuance"
	StatusCINReady         Status = "cin-ready"
	StatusCINDelivered     Status = "cin-delivered"
	StatusCancelled        Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusAwaitingIssuance,
		StatusCINReady, StatusCINDelivered, StatusCancelled:
		return true
	}
	return false
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	return p == PriorityNormal || p == PriorityHigh || p == PriorityUrgent
}

type CancellationCategory string

const (
	CancelUserRequest CancellationCategory = "user-request"
	CancelNoShow      CancellationCategory = "no-show"
	CancelOther       CancellationCategory = "other"
)

func (c CancellationCategory) Valid() bool {
	return c == CancelUserRequest || c == CancelNoShow || c == CancelOther
}

// Metadata keys used in history entries.
const (
	MetaCancellationCategory = "cancellationCategory"
	MetaOldDate              = "oldDate"
	MetaOldTime              = "oldTime"
	MetaNewDate              = "newDate"
	MetaNewTime              = "newTime"
	MetaRollback             = "rollback"
	MetaPriority             = "priority"
)

// Date and time layouts of the slot key.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// HistoryEntry is immutable once appended to an appointment.
type HistoryEntry struct {
	ID        uuid.UUID         `json:"id"`
	From      Status            `json:"from"`
	To        Status            `json:"to"`
	ChangedBy string            `json:"changedBy"`
	ChangedAt time.Time         `json:"changedAt"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IsReschedule reports whether the entry records a date/time change of a pending appointment.
func (e HistoryEntry) IsReschedule() bool {
	if e.From != StatusPending || e.To != StatusPending {
		return false
	}
	return e.Metadata[MetaNewDate] != "" && e.Metadata[MetaNewTime] != ""
}

// IsRollback reports whether the entry was produced by a rollback.
func (e HistoryEntry) IsRollback() bool {
	return e.Metadata[MetaRollback] == "true"
}

type SlotKey struct {
	LocationID string
	Date       string
	Time       string
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.LocationID, k.Date, k.Time)
}

type Appointment struct {
	ID           uuid.UUID
	Protocol     string
	CitizenID    string
	CitizenName  string
	CitizenPhone string
	CitizenEmail string

	LocationID string
	Date       string
	Time       string

	Status   Status
	Priority Priority
	History  []HistoryEntry

	CancellationCategory CancellationCategory
	CancellationReason   string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Appointment) SlotKey() SlotKey {
	return SlotKey{LocationID: a.LocationID, Date: a.Date, Time: a.Time}
}

// Clone returns a copy that shares no mutable state with a.
func (a Appointment) Clone() Appointment {
	out := a
	if a.History != nil {
		out.History = make([]HistoryEntry, len(a.History))
		for i, e := range a.History {
			out.History[i] = e
			if e.Metadata != nil {
				md := make(map[string]string, len(e.Metadata))
				for k, v := range e.Metadata {
					md[k] = v
				}
				out.History[i].Metadata = md
			}
		}
	}
	return out
}

// LastEntry returns the most recent history entry, if any.
func (a Appointment) LastEntry() (HistoryEntry, bool) {
	if len(a.History) == 0 {
		return HistoryEntry{}, false
	}
	return a.History[len(a.History)-1], true
}

// NewProtocol builds the human readable booking reference issued at creation time.
func NewProtocol(date string, id uuid.UUID) string {
	compact := strings.ReplaceAll(date, "-", "")
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
	return fmt.Sprintf("CIN-%s-%s", compact, suffix)
}

// EventLog is a persisted record of an emitted domain event.
type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
