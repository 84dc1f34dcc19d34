package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dropagent/internal/actions"
	"dropagent/internal/agent"
	"dropagent/internal/artifact"
	"dropagent/internal/backend"
	"dropagent/internal/bundle"
	appcfg "dropagent/internal/config"
	"dropagent/internal/exchange"
	"dropagent/internal/journal"
	"dropagent/internal/server"
)

func main() {
	// Load config
	cfg, err := appcfg.Load("")
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	// Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	// Run journal (SQLite)
	store, err := journal.NewSQLiteStore(cfg.Journal.DatabasePath)
	if err != nil {
		logger.Error("sqlite open", "err", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	// Backend transport
	client := backend.New(cfg.Backend)

	// Action dispatcher
	var verify func(string) error
	if cfg.Agent.VerifyWorkbooks {
		verify = artifact.ProbeWorkbook
	}
	dispatcher := actions.NewDispatcher(logger, client, cfg.Agent.PDFDir, verify)

	// Exchange folder plumbing
	writer := exchange.NewWriter(cfg.Agent.ExchangeDir)
	watcher := exchange.NewWatcher(logger, cfg.Agent.ExchangeDir, cfg.Agent.ResultPollInterval, cfg.Agent.ResultExtensions)

	// Result bundler
	bundler := bundle.New(logger, client, bundle.Options{
		SettleDelay:   cfg.Agent.SettleDelay,
		CompanionWait: cfg.Agent.CompanionWait,
		DefaultAuxDir: cfg.Agent.PDFDir,
		MaxResultSize: uint64(cfg.Agent.MaxResultSize),
	})

	// Orchestrator
	a := agent.New(logger, cfg.Agent, client, dispatcher, writer, watcher, bundler, store)

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	agentDone := make(chan struct{})
	go func() {
		defer close(agentDone)
		a.Run(rootCtx)
	}()

	// Status HTTP server
	svc := &server.Service{
		Log:   logger,
		Cfg:   cfg,
		Agent: a,
		Store: store,
	}
	httpSrv := server.NewHTTPServer(svc)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status server starting", "address", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("status server error", "err", err)
		}
	}
	cancel()

	// Graceful shutdown: let an in-flight job's wait unwind as a timeout.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	select {
	case <-agentDone:
	case <-shutdownCtx.Done():
		logger.Warn("agent did not stop before deadline")
	}
	logger.Info("agent stopped")
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
