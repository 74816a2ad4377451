// Package app wires configuration into the running service: storage backend,
// external clients, the ingestion pipeline, the runner, and the HTTP API.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"HireScout/internal/api"
	"HireScout/internal/broadcast"
	"HireScout/internal/browser"
	"HireScout/internal/config"
	"HireScout/internal/extractor"
	"HireScout/internal/ingest"
	"HireScout/internal/logging"
	"HireScout/internal/ports"
	"HireScout/internal/prefs"
	"HireScout/internal/quota"
	"HireScout/internal/runner"
	"HireScout/internal/scoring"
	"HireScout/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// repositories groups the persistence ports regardless of backend.
type repositories struct {
	posts   ports.PostRepository
	matches ports.MatchRepository
	windows ports.QuotaRepository
}

// Application owns the wired components and their lifecycle.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	runner *runner.Controller
	server *api.Server
	hub    *broadcast.Hub
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	repos, err := openStorage(cfg.Storage, baseLogger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	// The observer wraps the transport used to reach the automation agent,
	// so feed traffic proxied through it is inspected as a side effect.
	observer := extractor.NewObserver(http.DefaultTransport, cfg.Extractor.Marker, cfg.Extractor.BufferCap)
	agentHTTP := &http.Client{Transport: observer}

	agent := browser.NewClient(cfg.Agent.BaseURL, agentHTTP,
		cfg.Agent.DirectiveTimeout.Std(), cfg.Agent.ReadyPollInterval.Std(),
		baseLogger.With("component", "browser"))
	prefStore := prefs.NewClient(cfg.Prefs.BaseURL, nil)

	structural := extractor.NewStructural(cfg.Extractor, baseLogger.With("component", "extractor"))
	dual := extractor.NewDual(structural, observer, baseLogger.With("component", "extractor"))

	scorer := scoring.New(cfg.Scoring.MinScore)
	ledger := quota.New(repos.matches, repos.windows, quota.Caps{
		Base: cfg.Quota.Caps.Base,
		Mid:  cfg.Quota.Caps.Mid,
		High: cfg.Quota.Caps.High,
	}, cfg.Quota.Location(), baseLogger.With("component", "quota"))

	gateway := ingest.NewGateway(repos.posts, repos.matches, prefStore, scorer, ledger,
		baseLogger.With("component", "ingest"))

	hub := broadcast.NewHub()
	controller := runner.New(agent, prefStore, dual, observer, gateway, hub,
		cfg.Runner, baseLogger.With("component", "runner"))

	server := api.NewServer(gateway, ledger, controller, prefStore, cfg.HTTP.Addr,
		baseLogger.With("component", "api"))

	return &Application{
		cfg:    cfg,
		logger: baseLogger,
		runner: controller,
		server: server,
		hub:    hub,
	}, nil
}

// Run serves the API until the context is cancelled or a termination signal
// arrives, then stops the runner and drains the listener.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	if err := a.runner.Stop(); err != nil && err != runner.ErrNotRunning {
		a.logger.Warn("runner stop", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.server.Stop(shutdownCtx)
}

func openStorage(cfg config.StorageConfig, logger *slog.Logger) (repositories, error) {
	switch cfg.Driver {
	case "", "memory":
		logger.Info("using in-memory storage")
		mem := storage.NewMemory()
		return repositories{posts: mem.Posts, matches: mem.Matches, windows: mem.Quota}, nil
	case "sqlite":
		store, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return repositories{}, err
		}
		logger.Info("using sqlite storage", "path", cfg.SQLitePath)
		return repositories{posts: store.Posts, matches: store.Matches, windows: store.Quota}, nil
	case "postgres":
		store, err := storage.OpenPostgres(cfg.DSN)
		if err != nil {
			return repositories{}, err
		}
		logger.Info("using postgres storage")
		return repositories{posts: store.Posts, matches: store.Matches, windows: store.Quota}, nil
	default:
		return repositories{}, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
