package appointment

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clerk = "clerk@counter"

func newPending() Appointment {
	return Appointment{
		ID:         uuid.New(),
		Protocol:   "CIN-20260210-ABCDEF12",
		CitizenID:  "12345678900",
		LocationID: "loc-1",
		Date:       "2026-02-10",
		Time:       "09:00",
		Status:     StatusPending,
		Priority:   PriorityNormal,
	}
}

func newMachine() (*StatusMachine, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	return NewStatusMachine(clock), clock
}

func mustTransition(t *testing.T, m *StatusMachine, a Appointment, to Status) Appointment {
	t.Helper()
	out, err := m.Transition(a, TransitionRequest{To: to, Actor: clerk})
	require.NoError(t, err)
	return out
}

func TestTransition_ForwardLifecycle(t *testing.T) {
	t.Parallel()

	m, clock := newMachine()
	a := newPending()

	path := []Status{StatusConfirmed, StatusCompleted, StatusAwaitingIssuance, StatusCINReady, StatusCINDelivered}
	for i, to := range path {
		prev := a.Status
		a = mustTransition(t, m, a, to)

		require.Len(t, a.History, i+1)
		last := a.History[i]
		assert.Equal(t, prev, last.From)
		assert.Equal(t, to, last.To)
		assert.Equal(t, clerk, last.ChangedBy)
		assert.Equal(t, clock.Now(), last.ChangedAt)
		assert.Equal(t, to, a.Status)
	}
}

func TestTransition_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	a := mustTransition(t, m, newPending(), StatusConfirmed)

	out := mustTransition(t, m, a, StatusCompleted)

	assert.Equal(t, StatusConfirmed, a.Status)
	assert.Len(t, a.History, 1)
	assert.Len(t, out.History, 2)
}

func TestTransition_SkippingAStateIsRejected(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	_, err := m.Transition(newPending(), TransitionRequest{To: StatusCompleted, Actor: clerk})

	require.ErrorIs(t, err, ErrInvalidTransition)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StatusPending, te.From)
	assert.Equal(t, StatusCompleted, te.To)
}

func TestTransition_RequiresActor(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	_, err := m.Transition(newPending(), TransitionRequest{To: StatusConfirmed})

	assert.ErrorIs(t, err, ErrMissingActor)
}

func TestTransition_Cancel(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	confirmed := mustTransition(t, m, newPending(), StatusConfirmed)

	tests := []struct {
		name     string
		from     Appointment
		category CancellationCategory
		reason   string
		wantErr  error
	}{
		{name: "pending with reason", from: newPending(), category: CancelUserRequest, reason: "citizen asked"},
		{name: "confirmed no-show with reason", from: confirmed, category: CancelNoShow, reason: "did not show up"},
		{name: "no-show without reason text", from: confirmed, category: CancelNoShow, reason: "", wantErr: ErrMissingReason},
		{name: "blank reason text", from: confirmed, category: CancelOther, reason: "   ", wantErr: ErrMissingReason},
		{name: "missing category", from: confirmed, category: "", reason: "because", wantErr: ErrMissingReason},
		{name: "unknown category", from: confirmed, category: "weather", reason: "because", wantErr: ErrMissingReason},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := m.Transition(tt.from, TransitionRequest{
				To:       StatusCancelled,
				Actor:    clerk,
				Reason:   tt.reason,
				Metadata: map[string]string{MetaCancellationCategory: string(tt.category)},
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusCancelled, out.Status)
			assert.Equal(t, tt.category, out.CancellationCategory)
			assert.Equal(t, tt.reason, out.CancellationReason)
		})
	}
}

func TestTransition_CancelFromCompletedIsRejected(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	a := mustTransition(t, m, mustTransition(t, m, newPending(), StatusConfirmed), StatusCompleted)

	_, err := m.Transition(a, TransitionRequest{
		To:       StatusCancelled,
		Actor:    clerk,
		Reason:   "too late",
		Metadata: map[string]string{MetaCancellationCategory: string(CancelOther)},
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransition_CancelledIsTerminal(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	a, err := m.Transition(newPending(), TransitionRequest{
		To:       StatusCancelled,
		Actor:    clerk,
		Reason:   "duplicate booking",
		Metadata: map[string]string{MetaCancellationCategory: string(CancelOther)},
	})
	require.NoError(t, err)

	for _, to := range []Status{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusCINDelivered} {
		_, err := m.Transition(a, TransitionRequest{To: to, Actor: clerk, Reason: "x"})
		assert.ErrorIs(t, err, ErrInvalidTransition, "to %s", to)
	}
	_, err = m.Rollback(a, clerk, "undo")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, AllowedTargets(a))
}

func TestRollback_ConfirmCompleteRollback(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	a := mustTransition(t, m, newPending(), StatusConfirmed)
	a = mustTransition(t, m, a, StatusCompleted)

	a, err := m.Rollback(a, clerk, "completed by mistake")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, a.Status)

	last, _ := a.LastEntry()
	assert.True(t, last.IsRollback())
	assert.Equal(t, StatusCompleted, last.From)
	assert.Equal(t, "completed by mistake", last.Reason)

	_, err = m.Rollback(a, clerk, "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRollback_AllowedAgainAfterForwardStep(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	a := mustTransition(t, m, newPending(), StatusConfirmed)
	a, err := m.Rollback(a, clerk, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, a.Status)

	a = mustTransition(t, m, a, StatusConfirmed)
	a, err = m.Rollback(a, clerk, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, a.Status)
}

func TestRollback_ViaTransitionToPriorStatus(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	a := mustTransition(t, m, newPending(), StatusConfirmed)
	a = mustTransition(t, m, a, StatusCompleted)

	out, err := m.Transition(a, TransitionRequest{To: StatusConfirmed, Actor: clerk})
	require.NoError(t, err)
	last, _ := out.LastEntry()
	assert.True(t, last.IsRollback())

	// only the immediate predecessor is reachable
	_, err = m.Transition(a, TransitionRequest{To: StatusPending, Actor: clerk})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRollback_NotAvailable(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()

	_, err := m.Rollback(newPending(), clerk, "")
	assert.ErrorIs(t, err, ErrInvalidTransition, "fresh booking has no predecessor")

	delivered := newPending()
	for _, to := range []Status{StatusConfirmed, StatusCompleted, StatusAwaitingIssuance, StatusCINReady, StatusCINDelivered} {
		delivered = mustTransition(t, m, delivered, to)
	}
	_, err = m.Rollback(delivered, clerk, "")
	assert.ErrorIs(t, err, ErrInvalidTransition, "delivered is final for rollback")

	rescheduled, err := m.Reschedule(newPending(), "2026-02-11", "10:00", clerk, "")
	require.NoError(t, err)
	_, err = m.Rollback(rescheduled, clerk, "")
	assert.ErrorIs(t, err, ErrInvalidTransition, "a reschedule has no distinct prior status")
}

func TestRollback_CallerCannotForgeRollbackMarker(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	a, err := m.Transition(newPending(), TransitionRequest{
		To:       StatusConfirmed,
		Actor:    clerk,
		Metadata: map[string]string{MetaRollback: "true"},
	})
	require.NoError(t, err)

	last, _ := a.LastEntry()
	assert.False(t, last.IsRollback())
	assert.True(t, CanRollback(a))
}

func TestReschedule(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	a := newPending()

	out, err := m.Reschedule(a, "2026-02-12", "14:30", clerk, "citizen request")
	require.NoError(t, err)

	assert.Equal(t, StatusPending, out.Status)
	assert.Equal(t, "2026-02-12", out.Date)
	assert.Equal(t, "14:30", out.Time)

	last, _ := out.LastEntry()
	assert.True(t, last.IsReschedule())
	assert.Equal(t, map[string]string{
		MetaOldDate: "2026-02-10",
		MetaOldTime: "09:00",
		MetaNewDate: "2026-02-12",
		MetaNewTime: "14:30",
	}, last.Metadata)
}

func TestReschedule_Rejections(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()

	_, err := m.Reschedule(newPending(), "2026-02-10", "09:00", clerk, "")
	assert.ErrorIs(t, err, ErrInvalidTransition, "same slot")

	confirmed := mustTransition(t, m, newPending(), StatusConfirmed)
	_, err = m.Reschedule(confirmed, "2026-02-12", "09:00", clerk, "")
	assert.ErrorIs(t, err, ErrInvalidTransition, "only pending")

	_, err = m.Transition(newPending(), TransitionRequest{To: StatusPending, Actor: clerk})
	assert.ErrorIs(t, err, ErrInvalidTransition, "self transition without new slot")
}

func TestTransition_PriorityMetadataUpdatesPriority(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	out, err := m.Transition(newPending(), TransitionRequest{
		To:       StatusConfirmed,
		Actor:    clerk,
		Metadata: map[string]string{MetaPriority: string(PriorityUrgent)},
	})
	require.NoError(t, err)
	assert.Equal(t, PriorityUrgent, out.Priority)
}

func TestHistory_EachEntryStartsAtPreviousStatus(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	a := newPending()
	a, _ = m.Reschedule(a, "2026-02-11", "09:00", clerk, "")
	a = mustTransition(t, m, a, StatusConfirmed)
	a = mustTransition(t, m, a, StatusCompleted)
	a, _ = m.Rollback(a, clerk, "")
	a = mustTransition(t, m, a, StatusCompleted)
	a = mustTransition(t, m, a, StatusAwaitingIssuance)

	require.Len(t, a.History, 6)
	for i := 1; i < len(a.History); i++ {
		assert.Equal(t, a.History[i-1].To, a.History[i].From, "entry %d", i)
	}
	assert.Equal(t, a.History[len(a.History)-1].To, a.Status)
}

func TestAllowedTargets(t *testing.T) {
	t.Parallel()

	m, _ := newMachine()
	a := mustTransition(t, m, newPending(), StatusConfirmed)

	assert.ElementsMatch(t, []Status{StatusCompleted, StatusCancelled, StatusPending}, AllowedTargets(a))
	assert.ElementsMatch(t, []Status{StatusConfirmed, StatusCancelled}, AllowedTargets(newPending()))
}
