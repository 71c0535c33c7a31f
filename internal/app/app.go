// Package app wires configuration, logging, metrics, the upload ingestor,
// and the endpoint registry into a running HTTP service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"inlet/internal/config"
	"inlet/internal/dispatch"
	"inlet/internal/ingest"
	"inlet/internal/metrics"
	"inlet/internal/shape"
)

// Application is the service container.
type Application struct {
	Config   *config.Config
	Logger   *slog.Logger
	Router   *chi.Mux
	Server   *http.Server
	Ingestor *ingest.Ingestor
	Registry *dispatch.Registry
	Metrics  *metrics.Ingest
}

// New builds a fully wired application from configuration.
func New(cfg *config.Config) (*Application, error) {
	logger := newLogger(cfg.Logging)

	if err := cfg.EnsureStagingDir(); err != nil {
		return nil, fmt.Errorf("staging directory: %w", err)
	}

	m := metrics.NewIngest(prometheus.NewRegistry())
	ingestor := ingest.New(cfg.Upload.StagingDir, logger,
		ingest.WithChunkSize(cfg.Upload.ChunkSize),
		ingest.WithMetrics(m))
	checker := shape.NewStructChecker()
	registry := dispatch.NewRegistry(ingestor, checker, logger)

	app := &Application{
		Config:   cfg,
		Logger:   logger,
		Ingestor: ingestor,
		Registry: registry,
		Metrics:  m,
	}

	if err := app.registerEndpoints(); err != nil {
		return nil, fmt.Errorf("register endpoints: %w", err)
	}
	app.setupRouter()
	app.createServer()

	return app, nil
}

// newLogger builds the process logger from configuration.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// setupRouter installs middleware and mounts the endpoint registry.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(a.Logger))

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.Metrics.Handler())

	a.Registry.Mount(r)
	a.Router = r
}

// createServer builds the HTTP server with configured timeouts.
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("server listening",
			slog.String("addr", a.Server.Addr),
			slog.String("staging_dir", a.Config.Upload.StagingDir))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		a.Logger.Info("shutting down")
		return a.Server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// requestLogger logs one line per completed request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	l := logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			l.InfoContext(r.Context(), "request completed",
				slog.String("request_id", chimiddleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)))
		})
	}
}
