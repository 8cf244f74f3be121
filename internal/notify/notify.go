// Package notify holds the event consumers the scheduling service reports to.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/alefm12/jAgendamento-sub001/internal/appointment"
	"github.com/alefm12/jAgendamento-sub001/internal/scheduling"
)

// EventWriter is the part of appointment.Repository the event log needs.
type EventWriter interface {
	InsertEvent(ctx context.Context, ev appointment.EventLog) error
}

// EventLogNotifier persists every event in the event_logs table.
type EventLogNotifier struct {
	store EventWriter
}

func NewEventLogNotifier(store EventWriter) *EventLogNotifier {
	return &EventLogNotifier{store: store}
}

func (n *EventLogNotifier) Notify(ctx context.Context, ev scheduling.Event) error {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", ev.Type, err)
	}

	apptID := ev.AppointmentID
	return n.store.InsertEvent(ctx, appointment.EventLog{
		EventType:     ev.Type,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     ev.EmittedAt,
	})
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, ev scheduling.Event) error {
	n.logger.Info("event",
		zap.String("type", ev.Type),
		zap.String("appointment_id", ev.AppointmentID.String()),
		zap.Any("payload", ev.Payload),
		zap.Time("emitted_at", ev.EmittedAt),
	)
	return nil
}

// Multi hands each event to every notifier, even when one of them fails.
type Multi []scheduling.Notifier

func (m Multi) Notify(ctx context.Context, ev scheduling.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
