// Package coordinator exposes the coordinator<->worker wire protocol and the
// operator surface over HTTP. All job/worker state mutation funnels through
// the queue package behind these handlers; workers never touch the database.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sl224/casparianflow-sub011/internal/catalog"
	"github.com/sl224/casparianflow-sub011/internal/queue"
	"github.com/sl224/casparianflow-sub011/internal/registry"
	"github.com/sl224/casparianflow-sub011/internal/sink"
)

// Config holds coordinator server settings.
type Config struct {
	Listen         string
	StaleThreshold time.Duration
	SweepInterval  time.Duration
}

// Server serves the wire protocol and operator endpoints and runs the
// stale-worker sweeper.
type Server struct {
	config    Config
	queue     *queue.Queue
	catalog   *catalog.Catalog
	registry  *registry.Registry
	sinks     *sink.Store
	checker   registry.Checker
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a coordinator server. The checker is used by the plugin
// validation endpoint; pass nil to reject validation requests.
func New(config Config, q *queue.Queue, cat *catalog.Catalog, reg *registry.Registry, sinks *sink.Store, checker registry.Checker, logger *slog.Logger) *Server {
	if config.SweepInterval <= 0 {
		config.SweepInterval = 10 * time.Second
	}
	return &Server{
		config:    config,
		queue:     q,
		catalog:   cat,
		registry:  reg,
		sinks:     sinks,
		checker:   checker,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the coordinator's HTTP handler without starting a
// listener. Embedding tests mount it directly.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server and sweeper (blocking until ctx is cancelled).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("coordinator starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go s.sweepLoop(ctx)

	select {
	case <-ctx.Done():
		s.logger.Info("coordinator shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// sweepLoop periodically requeues jobs held by workers whose heartbeat went
// stale. Sweeps share the single writer handle with claim processing, so a
// job cannot be requeued in the middle of being claimed.
func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.queue.SweepStale(ctx, s.config.StaleThreshold)
			if err != nil {
				s.logger.Error("stale worker sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				s.logger.Warn("removed stale workers", "count", removed)
			}
		}
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/v1", func(r chi.Router) {
		// Wire protocol (worker-facing).
		r.Post("/workers/register", s.handleRegister)
		r.Post("/workers/{host}/heartbeat", s.handleHeartbeat)
		r.Post("/workers/{host}/claim", s.handleClaim)
		r.Post("/jobs/{jobID}/report", s.handleReport)
		r.Get("/plugins/{plugin}/active", s.handleResolveActive)
		r.Get("/plugins/{plugin}/sinks", s.handlePluginSinks)

		// Operator surface.
		r.Post("/files", s.handleObserveFile)
		r.Post("/jobs", s.handleEnqueueJob)
		r.Post("/plugins", s.handlePublishPlugin)
		r.Post("/plugins/{plugin}/versions/{version}/validate", s.handleValidatePlugin)
		r.Post("/plugins/{plugin}/sinks", s.handlePutSink)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Post("/jobs/{jobID}/retry", s.handleRetryJob)
		r.Post("/jobs/retry-all", s.handleRetryAll)
		r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)
		r.Get("/workers", s.handleListWorkers)
		r.Get("/workers/{host}", s.handleGetWorker)
		r.Post("/workers/{host}/drain", s.handleDrainWorker)
		r.Delete("/workers/{host}", s.handleRemoveWorker)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
