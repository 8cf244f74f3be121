package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/alefm12/jAgendamento-sub001/internal/appointment"
	"github.com/alefm12/jAgendamento-sub001/internal/callqueue"
	"github.com/alefm12/jAgendamento-sub001/internal/scheduling"
	"github.com/alefm12/jAgendamento-sub001/internal/slots"
)

const clerk = "clerk@counter-1"

type testServer struct {
	handler http.Handler
	clock   *clockwork.FakeClock
}

func newTestServer(t *testing.T, mutate func(*RouterConfig)) *testServer {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	calendar := slots.NewCalendar(slots.Settings{
		MaxAppointmentsPerSlot: 1,
		BookingWindowDays:      30,
		DefaultWorkingHours:    []string{"09:00", "09:30"},
		DefaultWorkingDays:     []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		TimeZone:               time.UTC,
	}, []slots.Location{{ID: "loc-1", Name: "Central"}}, nil, clock)

	svc := scheduling.NewService(scheduling.Deps{
		Repo:     appointment.NewMemoryRepository(),
		Calendar: calendar,
		Clock:    clock,
	})
	cfg := RouterConfig{Service: svc, Env: "test", Version: "v-test"}
	if mutate != nil {
		mutate(&cfg)
	}
	return &testServer{handler: NewRouter(cfg), clock: clock}
}

func (s *testServer) do(t *testing.T, method, path string, body any, actor string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != "" {
		req.Header.Set(actorHeader, actor)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) book(t *testing.T, citizenID, date, tm string) AppointmentResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/appointments", BookAppointmentRequest{
		LocationID:  "loc-1",
		Date:        date,
		Time:        tm,
		CitizenID:   citizenID,
		CitizenName: "Citizen " + citizenID,
	}, clerk)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestBookAndGetAppointment(t *testing.T) {
	s := newTestServer(t, nil)

	created := s.book(t, "111", "2026-02-02", "09:00")
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, "normal", created.Priority)
	assert.Empty(t, created.History)
	assert.ElementsMatch(t, []string{"confirmed", "cancelled"}, created.AllowedTargets)

	rec := s.do(t, http.MethodGet, "/appointments/"+created.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.Protocol, got.Protocol)
}

func TestBook_ErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)
	s.book(t, "111", "2026-02-02", "09:00")

	tests := []struct {
		name   string
		body   any
		actor  string
		status int
		code   string
	}{
		{
			name:   "full slot",
			body:   BookAppointmentRequest{LocationID: "loc-1", Date: "2026-02-02", Time: "09:00", CitizenID: "222", CitizenName: "B"},
			actor:  clerk,
			status: http.StatusConflict,
			code:   "slot_capacity_exceeded",
		},
		{
			name:   "weekend",
			body:   BookAppointmentRequest{LocationID: "loc-1", Date: "2026-02-07", Time: "09:00", CitizenID: "222", CitizenName: "B"},
			actor:  clerk,
			status: http.StatusUnprocessableEntity,
			code:   "date_not_bookable",
		},
		{
			name:   "missing fields",
			body:   BookAppointmentRequest{LocationID: "loc-1"},
			actor:  clerk,
			status: http.StatusBadRequest,
			code:   "invalid_input",
		},
		{
			name:   "no actor",
			body:   BookAppointmentRequest{LocationID: "loc-1", Date: "2026-02-03", Time: "09:00", CitizenID: "222", CitizenName: "B"},
			status: http.StatusUnauthorized,
			code:   "missing_actor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/appointments", tt.body, tt.actor)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestBook_MalformedBody(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString("{"))
	req.Header.Set(actorHeader, clerk)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeError(t, rec).Error)
}

func TestGetAppointment_NotFoundAndBadID(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/appointments/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/appointments/3f1c7a52-8a55-4f6e-9d8e-2b7f3c9e1a11", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decodeError(t, rec).Error)
}

func TestLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.book(t, "111", "2026-02-02", "09:00")
	base := "/appointments/" + a.ID.String()

	rec := s.do(t, http.MethodPost, base+"/confirm", ConfirmRequest{Priority: "high"}, clerk)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, base+"/call", CallRequest{}, clerk)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "missing_room_assignment", decodeError(t, rec).Error)

	rec = s.do(t, http.MethodPost, base+"/call", CallRequest{Room: "Room 2", Booth: "B"}, clerk)
	require.Equal(t, http.StatusOK, rec.Code)
	var ann callqueue.Announcement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ann))
	assert.Equal(t, "Central", ann.LocationName)
	assert.Equal(t, "high", string(ann.Priority))

	rec = s.do(t, http.MethodGet, "/queue?location=loc-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var queue []callqueue.Announcement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queue))
	require.Len(t, queue, 1)

	rec = s.do(t, http.MethodPost, base+"/recall", nil, clerk)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/complete", nil, clerk)
	require.Equal(t, http.StatusOK, rec.Code)
	var done AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &done))
	assert.Equal(t, "completed", done.Status)
	assert.Contains(t, done.AllowedTargets, "confirmed")

	rec = s.do(t, http.MethodPost, base+"/recall", nil, clerk)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_currently_queued", decodeError(t, rec).Error)

	rec = s.do(t, http.MethodPost, base+"/advance", AdvanceRequest{To: "awaiting-issuance"}, clerk)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/rollback", RollbackRequest{Reason: "clicked too early"}, clerk)
	require.Equal(t, http.StatusOK, rec.Code)
	var rolled AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rolled))
	assert.Equal(t, "completed", rolled.Status)
	assert.Len(t, rolled.History, 4)
}

func TestCancelAndReschedule(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.book(t, "111", "2026-02-02", "09:00")
	base := "/appointments/" + a.ID.String()

	rec := s.do(t, http.MethodPost, base+"/reschedule", RescheduleRequest{Date: "2026-02-03", Time: "09:30"}, clerk)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var moved AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &moved))
	assert.Equal(t, "2026-02-03", moved.Date)
	assert.Equal(t, "09:30", moved.Time)

	rec = s.do(t, http.MethodGet, "/citizens/111/reschedule-status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st scheduling.RescheduleStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Count)
	assert.False(t, st.Blocked)

	rec = s.do(t, http.MethodPost, base+"/cancel", CancelRequest{Category: "user-request"}, clerk)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "missing_reason", decodeError(t, rec).Error)

	rec = s.do(t, http.MethodPost, base+"/cancel", CancelRequest{Category: "user-request", Reason: "travelling"}, clerk)
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Empty(t, cancelled.AllowedTargets)

	rec = s.do(t, http.MethodPost, base+"/confirm", nil, clerk)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeError(t, rec).Error)
}

func TestRescheduleLimitReturns429(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.book(t, "111", "2026-02-02", "09:00")
	base := "/appointments/" + a.ID.String()

	for _, date := range []string{"2026-02-03", "2026-02-04", "2026-02-05"} {
		rec := s.do(t, http.MethodPost, base+"/reschedule", RescheduleRequest{Date: date, Time: "09:00"}, clerk)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodPost, base+"/reschedule", RescheduleRequest{Date: "2026-02-06", Time: "09:00"}, clerk)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "reschedule_limit_exceeded", resp.Error)
	assert.Contains(t, resp.Details, "3 times within 7 days")
}

func TestAvailableSlots(t *testing.T) {
	s := newTestServer(t, nil)
	s.book(t, "111", "2026-02-02", "09:00")

	rec := s.do(t, http.MethodGet, "/locations/loc-1/slots?date=2026-02-02", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SlotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []slots.Slot{{Time: "09:30", RemainingCapacity: 1}}, resp.Slots)

	rec = s.do(t, http.MethodGet, "/locations/loc-1/slots", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubCallboard struct {
	snap callqueue.Snapshot
	err  error
}

func (s stubCallboard) Replay(context.Context, string) (callqueue.Snapshot, error) {
	return s.snap, s.err
}

func TestCallboardSnapshot(t *testing.T) {
	latest := callqueue.Announcement{CitizenName: "Ana", Room: "Room 1", LocationID: "loc-1"}
	s := newTestServer(t, func(cfg *RouterConfig) {
		cfg.Callboard = stubCallboard{snap: callqueue.Snapshot{
			Latest:  &latest,
			History: []callqueue.Announcement{latest},
		}}
	})

	rec := s.do(t, http.MethodGet, "/locations/loc-1/callboard", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap callqueue.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.NotNil(t, snap.Latest)
	assert.Equal(t, "Ana", snap.Latest.CitizenName)
	assert.Len(t, snap.History, 1)
}

func TestReadiness(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		checks []DependencyCheck
		status int
		want   string
	}{
		{"all up", []DependencyCheck{{Name: "postgres", Critical: true, Ping: ok}, {Name: "redis", Ping: ok}}, http.StatusOK, "ok"},
		{"redis down", []DependencyCheck{{Name: "postgres", Critical: true, Ping: ok}, {Name: "redis", Ping: down}}, http.StatusOK, "degraded"},
		{"postgres down", []DependencyCheck{{Name: "postgres", Critical: true, Ping: down}, {Name: "redis", Ping: ok}}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, func(cfg *RouterConfig) { cfg.Checks = tt.checks })
			rec := s.do(t, http.MethodGet, "/health/ready", nil, "")
			assert.Equal(t, tt.status, rec.Code)

			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Dependencies, 2)
		})
	}
}

func TestLiveness(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/health/live", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "v-test", resp.Version)
}

func TestRateLimit(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := newTestServer(t, func(cfg *RouterConfig) {
		cfg.Logger = zap.New(core)
		cfg.RateLimitRPS = 0.001
		cfg.RateLimitBurst = 2
	})

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodGet, "/queue", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := s.do(t, http.MethodGet, "/queue", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("rate limit exceeded").Len())

	// health endpoints are never limited
	rec = s.do(t, http.MethodGet, "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
