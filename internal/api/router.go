package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Service   Scheduler
	Callboard CallboardReader
	Checks    []DependencyCheck
	Logger    *zap.Logger
	Env       string
	Version   string

	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst, logger))

		r.Post("/appointments", bookAppointmentHandler(cfg.Service))
		r.Route("/appointments/{id}", func(r chi.Router) {
			r.Get("/", getAppointmentHandler(cfg.Service))
			r.Post("/confirm", confirmAppointmentHandler(cfg.Service))
			r.Post("/call", callHandler(cfg.Service))
			r.Post("/recall", recallHandler(cfg.Service))
			r.Post("/complete", completeHandler(cfg.Service))
			r.Post("/cancel", cancelHandler(cfg.Service))
			r.Post("/reschedule", rescheduleHandler(cfg.Service))
			r.Post("/rollback", rollbackHandler(cfg.Service))
			r.Post("/advance", advanceHandler(cfg.Service))
		})

		r.Get("/locations/{id}/slots", availableSlotsHandler(cfg.Service))
		if cfg.Callboard != nil {
			r.Get("/locations/{id}/callboard", callboardHandler(cfg.Callboard))
		}
		r.Get("/queue", queueHandler(cfg.Service))
		r.Get("/citizens/{citizenID}/reschedule-status", rescheduleStatusHandler(cfg.Service))
	})

	return r
}
