package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/obsidianstack/hydrowatch/internal/alerts"
	"github.com/obsidianstack/hydrowatch/internal/api"
	"github.com/obsidianstack/hydrowatch/internal/config"
	"github.com/obsidianstack/hydrowatch/internal/health"
	"github.com/obsidianstack/hydrowatch/internal/mirror"
	"github.com/obsidianstack/hydrowatch/internal/pipeline"
	"github.com/obsidianstack/hydrowatch/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(load func() settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run every configured source and serve the status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, load())
		},
	}
}

func runServe(ctx context.Context, s settings) error {
	cfg, err := loadConfig(s)
	if err != nil {
		return err
	}
	logger, err := newLogger(os.Stdout, cfg.Log.Level)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	slog.Info("hydrowatch starting",
		"config", s.configPath,
		"sources", len(cfg.Sources),
		"mirror_backend", cfg.Mirror.Backend,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	spawn := func(run func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run()
		}()
	}

	// Durable mirror: store, then the asynchronous writer the registry
	// publishes into.
	st, maintain, err := openStore(cfg.Mirror, false, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	spawn(func() { maintain(ctx) })

	m := mirror.New(st, logger)
	writer := mirror.NewWriter(m, cfg.Mirror.QueueSize, cfg.Mirror.WriteTimeout, logger)
	spawn(func() { writer.Run(ctx) })

	reg := health.NewRegistry(writer, logger)
	indicators := api.NewIndicators()
	sched := pipeline.NewScheduler(logger)
	a := &app{registry: reg, scheduler: sched, emit: indicators.Record, logger: logger}
	a.apply(cfg.Sources)

	// Restore verdicts from the previous process before the first run.
	if n := reg.Hydrate(ctx, m); n > 0 {
		slog.Info("hydrated adapters from mirror", "count", n)
	}
	spawn(func() { sched.Run(ctx) })

	engine := alerts.New(cfg.Alerts, logger)
	spawn(func() { engine.Run(ctx, reg, cfg.Alerts.EvalInterval) })

	reader := api.NewReader(reg, m, logger)
	hub := ws.New(reader, cfg.Server.StreamInterval, logger)
	spawn(func() { hub.Run(ctx) })

	go func() {
		if err := config.Watch(ctx, s.configPath, func(updated *config.Config) {
			slog.Info("config hot-reloaded", "sources", len(updated.Sources))
			a.apply(updated.Sources)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           newMux(cfg.Server, api.New(reader, indicators, engine), hub, api.Metrics(reader)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = errors.Wrap(err, "http server")
	}

	slog.Info("hydrowatch shutting down")
	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	wg.Wait()

	// Updates still queued when the writer stopped.
	if n := writer.Pending(); n > 0 {
		slog.Info("flushing mirror updates", "pending", n)
		writer.Flush(shutdownCtx)
	}
	return runErr
}
