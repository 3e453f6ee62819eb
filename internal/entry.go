// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/api"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/index"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/itemservice"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/mcpserver"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/sse"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/storage"
)

// bootstrap wires the storage, index, and item service shared by all
// run modes, registers the built-in types, and runs an initial index
// rebuild so the SQLite side reflects the files on disk.
func bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger) (*itemservice.Service, *index.DB, *storage.FS, error) {
	if err := os.MkdirAll(cfg.Data.Path, 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Data.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init index: %w", err)
	}

	svc := itemservice.NewService(store, db, logger)
	if err := svc.RegisterBuiltins(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("register builtin types: %w", err)
	}

	if _, err := svc.RebuildAll(ctx); err != nil {
		logger.Warn("initial index rebuild failed", slog.String("error", err.Error()))
	}

	return svc, db, store, nil
}

func newLogger(cfg *Config, out *os.File) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config
	logger := newLogger(cfg, os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("data_path", cfg.Data.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	svc, db, store, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// SSE broker; item mutations from the service and the watcher both
	// fan out to connected clients.
	broker := sse.NewBroker()
	defer broker.Close()
	svc.SetNotify(broker.PublishItemEvent)

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token,
		cfg.RateLimit.RPS, cfg.RateLimit.Burst, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher so out-of-band edits to the data directory
	// reach the index and SSE clients.
	g.Go(func() error {
		if err := index.Watch(gCtx, db, store, cfg.Data.Path, logger, func(kind, typ, id string) {
			broker.PublishItemEvent(kind, typ, id)
		}); err != nil {
			logger.Warn("file watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP server on stdio. Logs go to stderr because
// stdout carries the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config
	logger := newLogger(cfg, os.Stderr)

	svc, db, _, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("MCP server starting on stdio",
		slog.String("data_path", cfg.Data.Path))

	srv := mcpserver.New(svc)
	if err := srv.ServeStdio(); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// RunRebuild rebuilds the SQLite index from the data directory and
// prints a per-type summary, then exits.
func RunRebuild(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config
	logger := newLogger(cfg, os.Stdout)

	svc, db, _, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// bootstrap already rebuilt once; run again explicitly so failures
	// surface as a command error instead of a warning.
	results, err := svc.RebuildAll(ctx)
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	for _, res := range results {
		logger.Info("rebuilt type index",
			slog.String("type", res.Type),
			slog.Int("indexed", res.Indexed),
			slog.Int("skipped", res.Skipped))
	}
	return nil
}
