// Package server exposes the daemon's local status and control API.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mesophy/signaged/internal/config"
	"github.com/mesophy/signaged/internal/event"
	"github.com/mesophy/signaged/internal/handler"
	"github.com/mesophy/signaged/internal/middleware"
	"github.com/mesophy/signaged/internal/repository"
	"github.com/mesophy/signaged/internal/sse"
)

type Deps struct {
	Status              handler.StatusProvider
	Broker              *sse.Broker
	Events              event.Poster
	PlaybackLogs        repository.PlaybackLogRepository
	SyncLogs            repository.SyncLogRepository
	ControlPasswordHash string
	StartedAt           time.Time
}

// NewRouter builds the local API. Control routes require the operator
// password and are disabled outright when no hash is configured.
func NewRouter(d Deps) chi.Router {
	statusHandler := handler.NewStatusHandler(d.Status, d.StartedAt)
	eventsHandler := handler.NewEventsHandler(d.Broker)
	logsHandler := handler.NewLogsHandler(d.PlaybackLogs, d.SyncLogs)
	controlHandler := handler.NewControlHandler(d.Events)

	controlAuth := middleware.NewControlAuthMiddleware(d.ControlPasswordHash)
	controlLimiter := middleware.NewControlRateLimiter()

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.LimitBody(0))

	// Streams are long lived and stay outside the request timeout.
	r.Get("/events", eventsHandler.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

		r.Get("/health", statusHandler.Health)
		r.Get("/status", statusHandler.Status)
		r.Mount("/logs", logsHandler.Routes())

		r.Route("/control", func(r chi.Router) {
			r.Use(controlLimiter.Handler)
			r.Use(controlAuth.Handler)
			r.Mount("/", controlHandler.Routes())
		})
	})

	return r
}

// New wraps the router in an http.Server with the daemon's timeouts.
// WriteTimeout stays zero so event streams are not cut off.
func New(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}
}
