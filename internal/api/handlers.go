package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/alefm12/jAgendamento-sub001/internal/appointment"
	"github.com/alefm12/jAgendamento-sub001/internal/callqueue"
	"github.com/alefm12/jAgendamento-sub001/internal/scheduling"
	"github.com/alefm12/jAgendamento-sub001/internal/slots"
)

const actorHeader = "X-Actor"

// Scheduler is the command and query surface served over HTTP.
type Scheduler interface {
	Book(ctx context.Context, req scheduling.BookRequest, actor string) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Confirm(ctx context.Context, id uuid.UUID, priority appointment.Priority, actor string) (*appointment.Appointment, error)
	Call(ctx context.Context, id uuid.UUID, room, booth, actor string) (*callqueue.Announcement, error)
	Recall(ctx context.Context, id uuid.UUID, actor string) (*callqueue.Announcement, error)
	Complete(ctx context.Context, id uuid.UUID, actor string) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, category appointment.CancellationCategory, reason, actor string) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, id uuid.UUID, newDate, newTime, actor string) (*appointment.Appointment, error)
	Rollback(ctx context.Context, id uuid.UUID, reason, actor string) (*appointment.Appointment, error)
	Advance(ctx context.Context, id uuid.UUID, to appointment.Status, reason, actor string) (*appointment.Appointment, error)
	AvailableSlots(ctx context.Context, locationID, date string) ([]slots.Slot, error)
	Queue(locationID string) []callqueue.Announcement
	RescheduleStatus(ctx context.Context, citizenID string) (scheduling.RescheduleStatus, error)
}

// CallboardReader serves the replay snapshot a display loads on connect.
type CallboardReader interface {
	Replay(ctx context.Context, locationID string) (callqueue.Snapshot, error)
}

func bookAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Book(r.Context(), scheduling.BookRequest{
			LocationID:   req.LocationID,
			Date:         req.Date,
			Time:         req.Time,
			CitizenID:    req.CitizenID,
			CitizenName:  req.CitizenName,
			CitizenPhone: req.CitizenPhone,
			CitizenEmail: req.CitizenEmail,
			Priority:     appointment.Priority(req.Priority),
		}, actor(r))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		appt, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirmAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req ConfirmRequest
		if !decodeOptional(w, r, &req) {
			return
		}
		appt, err := svc.Confirm(r.Context(), id, appointment.Priority(req.Priority), actor(r))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func callHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req CallRequest
		if !decodeOptional(w, r, &req) {
			return
		}
		ann, err := svc.Call(r.Context(), id, req.Room, req.Booth, actor(r))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ann)
	}
}

func recallHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		ann, err := svc.Recall(r.Context(), id, actor(r))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ann)
	}
}

func completeHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		appt, err := svc.Complete(r.Context(), id, actor(r))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req CancelRequest
		if !decodeOptional(w, r, &req) {
			return
		}
		appt, err := svc.Cancel(r.Context(), id, appointment.CancellationCategory(req.Category), req.Reason, actor(r))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req RescheduleRequest
		if !decodeOptional(w, r, &req) {
			return
		}
		appt, err := svc.Reschedule(r.Context(), id, req.Date, req.Time, actor(r))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rollbackHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req RollbackRequest
		if !decodeOptional(w, r, &req) {
			return
		}
		appt, err := svc.Rollback(r.Context(), id, req.Reason, actor(r))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func advanceHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentID(w, r)
		if !ok {
			return
		}
		var req AdvanceRequest
		if !decodeOptional(w, r, &req) {
			return
		}
		appt, err := svc.Advance(r.Context(), id, appointment.Status(req.To), req.Reason, actor(r))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func availableSlotsHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locationID := chi.URLParam(r, "id")
		date := r.URL.Query().Get("date")
		if date == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", "date query parameter is required")
			return
		}
		list, err := svc.AvailableSlots(r.Context(), locationID, date)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		if list == nil {
			list = []slots.Slot{}
		}
		writeJSON(w, http.StatusOK, SlotsResponse{LocationID: locationID, Date: date, Slots: list})
	}
}

func queueHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := svc.Queue(r.URL.Query().Get("location"))
		if entries == nil {
			entries = []callqueue.Announcement{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func rescheduleStatusHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.RescheduleStatus(r.Context(), chi.URLParam(r, "citizenID"))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func callboardHandler(board CallboardReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := board.Replay(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func actor(r *http.Request) string {
	return r.Header.Get(actorHeader)
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// decodeOptional accepts an empty body and leaves dst untouched.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
	return false
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, appointment.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, appointment.ErrMissingActor):
		return http.StatusUnauthorized
	case errors.Is(err, appointment.ErrDateNotBookable),
		errors.Is(err, appointment.ErrMissingReason),
		errors.Is(err, appointment.ErrMissingRoomAssignment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, appointment.ErrSlotCapacityExceeded),
		errors.Is(err, appointment.ErrInvalidTransition),
		errors.Is(err, appointment.ErrNotCurrentlyQueued),
		errors.Is(err, appointment.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, appointment.ErrRescheduleLimitExceeded),
		errors.Is(err, appointment.ErrNoShowLimitExceeded):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func handleServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	details := appointment.Message(err)
	if status == http.StatusInternalServerError {
		details = ""
	}
	writeError(w, status, appointment.Code(err), details)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
