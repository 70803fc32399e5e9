// Package api exposes the relay over HTTP: request intake, status polling,
// quota and usage reports, health and operator actions.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/chat-relay/internal/api/handlers"
	"github.com/pysugar/chat-relay/internal/api/middleware"
	"github.com/pysugar/chat-relay/internal/db/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps wires the router. When Selector or Queue is nil the intake routes are
// not mounted, so a worker-only process serves just /health and the admin API.
type Deps struct {
	DB             *gorm.DB
	Selector       handlers.AccountSelector
	Limiter        handlers.RateLimiter
	Queue          handlers.Enqueuer
	Usage          handlers.UsageReporter
	Pool           handlers.ResourceInvalidator
	MaxPromptChars int
	AdminPassword  string

	WorkerID string
	Started  time.Time
	Stats    func() models.UsageStats

	Logger *zap.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", handlers.HealthHandler(d.WorkerID, d.Started, d.Stats))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(d.DB, logger))
			if d.Selector != nil && d.Queue != nil {
				r.Post("/chat", handlers.ChatHandler(handlers.ChatDeps{
					DB:             d.DB,
					Selector:       d.Selector,
					Limiter:        d.Limiter,
					Queue:          d.Queue,
					MaxPromptChars: d.MaxPromptChars,
					Logger:         logger,
				}))
			}
			r.Get("/status/{id}", handlers.StatusHandler(d.DB))
			r.Get("/quotas", handlers.QuotasHandler(d.DB))
			if d.Usage != nil {
				r.Get("/usage", handlers.UsageHandler(d.DB, d.Usage))
			}
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminAuth(d.AdminPassword))
			r.Post("/accounts/{id}/invalidate", handlers.InvalidateAccountHandler(d.DB, d.Pool, logger))
		})
	})

	return r
}

// Server runs the router on an address until its context ends.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.Named("http"),
	}
}

// Run blocks until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}
