// Package httpserver exposes the operational HTTP surface: Prometheus
// metrics, health probes, the dashboard REST API and the SSE event
// stream. API routes mount only when their backing component is
// wired, so stripped-down tools reuse the same server.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/books"
	"github.com/mselser95/crossarb/internal/circuitbreaker"
	"github.com/mselser95/crossarb/internal/dashboard"
	"github.com/mselser95/crossarb/internal/exposure"
	"github.com/mselser95/crossarb/internal/scanner"
	"github.com/mselser95/crossarb/internal/tasks"
	"github.com/mselser95/crossarb/pkg/healthprobe"
	"github.com/mselser95/crossarb/pkg/types"
)

// TaskEngine drives task lifecycles. *executor.Engine implements it.
type TaskEngine interface {
	StartTask(id string) error
	CancelTask(id string) error
}

// Server provides HTTP endpoints for the dashboard and operations.
type Server struct {
	server *http.Server
	logger *zap.Logger

	hub      *dashboard.Hub
	scanner  *scanner.Scanner
	books    *books.Manager
	store    *tasks.Store
	engine   TaskEngine
	exposure *exposure.Monitor
	guard    *circuitbreaker.Breaker
	pairs    func() []*types.MarketPair

	staleUI time.Duration
}

// Config holds server configuration. Health and Logger are required;
// everything else is optional and gates its routes.
type Config struct {
	Port   string
	Logger *zap.Logger
	Health *healthprobe.HealthChecker

	Hub      *dashboard.Hub
	Scanner  *scanner.Scanner
	Books    *books.Manager
	Store    *tasks.Store
	Engine   TaskEngine
	Exposure *exposure.Monitor
	Guard    *circuitbreaker.Breaker
	Pairs    func() []*types.MarketPair

	// APIToken enables bearer auth on /api and /events when set.
	APIToken string
	// StaleUI marks /api/books responses older than this as stale.
	StaleUI time.Duration
}

// New creates a new HTTP server.
func New(cfg *Config) *Server {
	staleUI := cfg.StaleUI
	if staleUI <= 0 {
		staleUI = 30 * time.Second
	}

	s := &Server{
		logger:   cfg.Logger.Named("http"),
		hub:      cfg.Hub,
		scanner:  cfg.Scanner,
		books:    cfg.Books,
		store:    cfg.Store,
		engine:   cfg.Engine,
		exposure: cfg.Exposure,
		guard:    cfg.Guard,
		pairs:    cfg.Pairs,
		staleUI:  staleUI,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", cfg.Health.Health())
	r.Get("/ready", cfg.Health.Ready())

	// SSE stream lives outside the timeout middleware: it is a
	// long-lived response.
	if cfg.Hub != nil {
		r.Group(func(gr chi.Router) {
			if cfg.APIToken != "" {
				gr.Use(bearerAuth(cfg.APIToken))
			}
			gr.Get("/events", s.handleEvents)
		})
	}

	r.Group(func(gr chi.Router) {
		gr.Use(middleware.Timeout(30 * time.Second))
		if cfg.APIToken != "" {
			gr.Use(bearerAuth(cfg.APIToken))
		}
		gr.Route("/api", func(ar chi.Router) {
			if cfg.Scanner != nil {
				ar.Get("/opportunities", s.handleOpportunities)
			}
			if cfg.Pairs != nil {
				ar.Get("/pairs", s.handlePairs)
			}
			if cfg.Books != nil && cfg.Pairs != nil {
				ar.Get("/books", s.handleBooks)
			}
			if cfg.Store != nil {
				ar.Get("/tasks", s.handleListTasks)
				ar.Get("/tasks/{id}", s.handleGetTask)
				if cfg.Engine != nil {
					ar.Post("/tasks", s.handleCreateTask)
					ar.Delete("/tasks/{id}", s.handleCancelTask)
				}
			}
			if cfg.Exposure != nil {
				ar.Get("/exposure", s.handleExposure)
			}
			if cfg.Guard != nil {
				ar.Get("/guard", s.handleGuard)
			}
		})
	})

	// No WriteTimeout: /events streams indefinitely.
	s.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start starts the HTTP server. Blocking; returns when the server
// stops or fails to listen.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("http-server-shutdown-complete")
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	want := "Bearer " + token
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != want {
				writeError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
