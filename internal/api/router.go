package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Service     Service
	Health      *HealthHandler
	Logger      *zap.Logger
	RateLimiter *RateLimiter
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health/live", cfg.Health.Liveness)
	r.Get("/health/ready", cfg.Health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(RateLimitMiddleware(cfg.RateLimiter))
		}

		r.Post("/bookings", createBookingHandler(cfg.Service))
		r.Get("/bookings/{id}", getBookingHandler(cfg.Service))
		r.Post("/bookings/{id}/cancel", cancelBookingHandler(cfg.Service))
		r.Post("/bookings/{id}/reserve", retryReservationHandler(cfg.Service))
		r.Post("/bookings/{id}/calls", beginCallHandler(cfg.Service))
		r.Post("/sessions/{id}/end", endCallHandler(cfg.Service))

		r.Put("/providers/{id}/availability", putAvailabilityHandler(cfg.Service))
		r.Get("/providers/{id}/availability", getAvailabilityHandler(cfg.Service))
	})

	return r
}
