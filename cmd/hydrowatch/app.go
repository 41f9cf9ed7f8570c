package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/obsidianstack/hydrowatch/internal/auth"
	"github.com/obsidianstack/hydrowatch/internal/config"
	"github.com/obsidianstack/hydrowatch/internal/health"
	"github.com/obsidianstack/hydrowatch/internal/pipeline"
	"github.com/obsidianstack/hydrowatch/internal/scraper"
	"github.com/obsidianstack/hydrowatch/internal/store"
)

// memoryEvictInterval is how often the memory mirror sweeps expired keys.
const memoryEvictInterval = time.Minute

// app ties configured sources to the registry and the scheduler.
type app struct {
	registry  *health.Registry
	scheduler *pipeline.Scheduler
	emit      scraper.Emit
	logger    *slog.Logger
}

// apply registers every source and replaces the scheduled jobs with one per
// source. Registration is an upsert, so a reload applies new cadences at
// once. A source that cannot be built is skipped; sources dropped from the
// config stop running but stay registered and age to EXPIRED.
func (a *app) apply(sources []config.Source) {
	jobs := make([]pipeline.Job, 0, len(sources))
	for _, src := range sources {
		if err := a.registry.RegisterAdapter(src.HealthConfig()); err != nil {
			a.logger.Error("skipping source, registration failed", "source", src.ID, "err", err)
			continue
		}
		job, err := scraper.Build(src, a.registry, a.emit, a.logger)
		if err != nil {
			a.logger.Error("skipping source, could not build scraper", "source", src.ID, "err", err)
			continue
		}
		jobs = append(jobs, job)
		a.logger.Info("registered source",
			"id", src.ID,
			"type", src.Type,
			"endpoint", src.Endpoint,
			"interval", src.Interval(),
			"items", len(src.Items),
		)
	}
	if len(jobs) == 0 {
		a.logger.Warn("no sources configured, hydrowatch will idle")
	}
	a.scheduler.Set(jobs)
}

// openStore opens the mirror's backing store and returns the loop that
// maintains it (eviction or value-log GC).
func openStore(mc config.MirrorConfig, readOnly bool, logger *slog.Logger) (store.Store, func(context.Context), error) {
	switch mc.Backend {
	case "memory":
		mem := store.NewMemory()
		return mem, func(ctx context.Context) { mem.Run(ctx, memoryEvictInterval) }, nil
	default:
		b, err := store.OpenBadger(store.BadgerOptions{Dir: mc.Path, ReadOnly: readOnly, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return b, b.Run, nil
	}
}

// newMux mounts the status API behind API-key auth, plus the websocket
// stream and the metrics endpoint.
func newMux(sc config.ServerConfig, apiHandler, hub, metrics http.Handler) *http.ServeMux {
	protect := auth.APIKey(sc.Auth.Mode, sc.Auth.Header, sc.Auth.Key())

	mux := http.NewServeMux()
	mux.Handle("/api/", protect(apiHandler))
	mux.Handle("/ws/stream", hub)
	mux.Handle("/metrics", metrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

