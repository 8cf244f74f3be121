package appointment

import (
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// successors is the forward lifecycle of an appointment.
var successors = map[Status]Status{
	StatusPending:          StatusConfirmed,
	StatusConfirmed:        StatusCompleted,
	StatusCompleted:        StatusAwaitingIssuance,
	StatusAwaitingIssuance: StatusCINReady,
	StatusCINReady:         StatusCINDelivered,
}

type transitionKind int

const (
	kindForward transitionKind = iota
	kindCancel
	kindReschedule
	kindRollback
)

// TransitionRequest is a requested status change. Actor is mandatory.
type TransitionRequest struct {
	To       Status
	Actor    string
	Reason   string
	Metadata map[string]string
}

// StatusMachine validates and applies status transitions. It performs no I/O
// and never mutates the appointment it is given.
type StatusMachine struct {
	clock clockwork.Clock
}

func NewStatusMachine(clock clockwork.Clock) *StatusMachine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StatusMachine{clock: clock}
}

// Successor returns the declared forward successor of s.
func Successor(s Status) (Status, bool) {
	next, ok := successors[s]
	return next, ok
}

// PriorStatus scans the history backward for the most recent status that
// differs from the current one.
func PriorStatus(a Appointment) (Status, bool) {
	for i := len(a.History) - 1; i >= 0; i-- {
		e := a.History[i]
		if e.To != a.Status {
			return e.To, true
		}
		if e.From != a.Status {
			return e.From, true
		}
	}
	return "", false
}

// CanRollback reports whether a single rollback step is currently allowed.
func CanRollback(a Appointment) bool {
	if a.Status == StatusCancelled || a.Status == StatusCINDelivered {
		return false
	}
	last, ok := a.LastEntry()
	if !ok || last.IsRollback() {
		return false
	}
	_, ok = PriorStatus(a)
	return ok
}

// AllowedTargets lists the statuses a can move to right now, excluding reschedules.
func AllowedTargets(a Appointment) []Status {
	var out []Status
	if a.Status == StatusCancelled {
		return out
	}
	if next, ok := successors[a.Status]; ok {
		out = append(out, next)
	}
	if a.Status == StatusPending || a.Status == StatusConfirmed {
		out = append(out, StatusCancelled)
	}
	if CanRollback(a) {
		prior, _ := PriorStatus(a)
		if !containsStatus(out, prior) {
			out = append(out, prior)
		}
	}
	return out
}

// Transition validates req against a and returns the updated copy with one
// new history entry appended.
func (m *StatusMachine) Transition(a Appointment, req TransitionRequest) (Appointment, error) {
	kind, err := classify(a, req)
	if err != nil {
		return Appointment{}, err
	}
	return m.apply(a, req, kind), nil
}

// Rollback reverts a to its immediately preceding recorded status.
func (m *StatusMachine) Rollback(a Appointment, actor, reason string) (Appointment, error) {
	if strings.TrimSpace(actor) == "" {
		return Appointment{}, ErrMissingActor
	}
	prior, _ := PriorStatus(a)
	if !CanRollback(a) {
		return Appointment{}, &TransitionError{From: a.Status, To: prior, Detail: "no rollback step available"}
	}
	return m.apply(a, TransitionRequest{To: prior, Actor: actor, Reason: reason}, kindRollback), nil
}

// Reschedule records a pending to pending transition that moves a to a new date and time.
func (m *StatusMachine) Reschedule(a Appointment, newDate, newTime, actor, reason string) (Appointment, error) {
	return m.Transition(a, TransitionRequest{
		To:     StatusPending,
		Actor:  actor,
		Reason: reason,
		Metadata: map[string]string{
			MetaOldDate: a.Date,
			MetaOldTime: a.Time,
			MetaNewDate: newDate,
			MetaNewTime: newTime,
		},
	})
}

func classify(a Appointment, req TransitionRequest) (transitionKind, error) {
	if strings.TrimSpace(req.Actor) == "" {
		return 0, ErrMissingActor
	}
	from := a.Status
	if from == StatusCancelled {
		return 0, &TransitionError{From: from, To: req.To, Detail: "cancelled appointments are final"}
	}
	if !req.To.Valid() {
		return 0, &TransitionError{From: from, To: req.To, Detail: "unknown status"}
	}

	switch {
	case req.To == StatusCancelled:
		if from != StatusPending && from != StatusConfirmed {
			return 0, &TransitionError{From: from, To: req.To, Detail: "only pending or confirmed appointments can be cancelled"}
		}
		category := CancellationCategory(req.Metadata[MetaCancellationCategory])
		if !category.Valid() || strings.TrimSpace(req.Reason) == "" {
			return 0, ErrMissingReason
		}
		return kindCancel, nil

	case req.To == from:
		if from != StatusPending {
			return 0, &TransitionError{From: from, To: req.To, Detail: "only pending appointments can be rescheduled"}
		}
		newDate, newTime := req.Metadata[MetaNewDate], req.Metadata[MetaNewTime]
		if newDate == "" || newTime == "" {
			return 0, &TransitionError{From: from, To: req.To, Detail: "reschedule requires a new date and time"}
		}
		if newDate == a.Date && newTime == a.Time {
			return 0, &TransitionError{From: from, To: req.To, Detail: "appointment is already in that slot"}
		}
		return kindReschedule, nil

	case successors[from] == req.To:
		return kindForward, nil
	}

	if prior, ok := PriorStatus(a); ok && prior == req.To && CanRollback(a) {
		return kindRollback, nil
	}
	return 0, &TransitionError{From: from, To: req.To}
}

func (m *StatusMachine) apply(a Appointment, req TransitionRequest, kind transitionKind) Appointment {
	md := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		md[k] = v
	}
	delete(md, MetaRollback)
	if kind == kindRollback {
		md[MetaRollback] = "true"
	}
	if len(md) == 0 {
		md = nil
	}

	entry := HistoryEntry{
		ID:        uuid.New(),
		From:      a.Status,
		To:        req.To,
		ChangedBy: req.Actor,
		ChangedAt: m.clock.Now(),
		Reason:    strings.TrimSpace(req.Reason),
		Metadata:  md,
	}

	out := a.Clone()
	out.History = append(out.History, entry)
	out.Status = req.To
	out.UpdatedAt = entry.ChangedAt

	switch kind {
	case kindCancel:
		out.CancellationCategory = CancellationCategory(md[MetaCancellationCategory])
		out.CancellationReason = entry.Reason
	case kindReschedule:
		out.Date = md[MetaNewDate]
		out.Time = md[MetaNewTime]
	}
	if p := Priority(md[MetaPriority]); p.Valid() {
		out.Priority = p
	}
	return out
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
