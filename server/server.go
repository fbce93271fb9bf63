// Package server exposes the infractl HTTP API. Every request passes the
// admission pipeline: network isolation, bearer auth, rate limiting, then
// request timing.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/razumnyak/infractl/config"
	"github.com/razumnyak/infractl/deploy"
	"github.com/razumnyak/infractl/logger"
	"github.com/razumnyak/infractl/metrics"
	"github.com/razumnyak/infractl/storage"
)

const (
	rateLimitRequests = 100
	rateLimitWindow   = 60 * time.Second
)

type Server struct {
	cfg       *config.Config
	log       logger.Logger
	store     *storage.Store
	queue     *deploy.Queue
	executor  *deploy.Executor
	collector *metrics.Collector
	admission *admission
	startedAt time.Time

	httpServer *http.Server
}

// New wires the HTTP surface. store, executor and collector may be nil
// when their modules are disabled.
func New(cfg *config.Config, store *storage.Store, queue *deploy.Queue, executor *deploy.Executor, collector *metrics.Collector, log logger.Logger) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		log:       log.WithPrefix("server"),
		store:     store,
		queue:     queue,
		executor:  executor,
		collector: collector,
		startedAt: time.Now(),
	}

	// Webhooks are not exempt: their callers hold a bearer token, and a
	// configured webhook secret is checked on top.
	skipAuth := []string{"/", "/health", "/monitoring"}

	adm, err := newAdmission(
		cfg.Server.Isolation(),
		cfg.Server.AllowedNetworks,
		[]byte(cfg.Auth.JWTSecret),
		skipAuth,
		NewRateLimiter(rateLimitRequests, rateLimitWindow),
		store,
		s.log,
	)
	if err != nil {
		return nil, fmt.Errorf("building admission pipeline: %w", err)
	}
	s.admission = adm

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Bind, cfg.Server.Port),
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.admission.Network)
	r.Use(s.admission.Auth)
	r.Use(s.admission.RateLimit)
	r.Use(s.admission.Timing)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Post("/webhook/deploy/{name}", s.handleWebhookDeploy)
	r.Post("/webhook/shutdown/{name}", s.handleWebhookShutdown)
	r.Get("/webhook/status/{id}", s.handleJobStatus)
	r.Get("/webhook/queue", s.handleQueueStatus)

	if s.cfg.Mode == config.ModeHome {
		r.Get("/monitoring", s.handleDashboard)
		r.Route("/api", func(r chi.Router) {
			r.Get("/agents", s.handleAgents)
			r.Get("/agents/statuses", s.handleAgentStatuses)
			r.Get("/agents/{name}/status", s.handleAgentStatus)
			r.Get("/metrics", s.handleMetrics)
			r.Get("/deploys", s.handleDeployHistory)
			r.Get("/suspicious", s.handleSuspicious)
			r.Get("/deployments", s.handleListDeployments)
			r.Get("/deployments/{name}", s.handleGetDeployment)
		})
	}

	return r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the context is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	go s.admission.limiter.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Notice("Listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Notice("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
