package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodically executed adapter run.
type Job struct {
	ID       string
	Interval time.Duration
	// Rev fingerprints the settings the job was built from. A job set again
	// under the same ID with a different Rev is restarted.
	Rev string
	Run func(ctx context.Context)
}

type running struct {
	interval time.Duration
	rev      string
	cancel   context.CancelFunc
	done     chan struct{}
}

// Scheduler runs each job on its own ticker. The first run of a job starts
// immediately; runs of the same job never overlap, and a slow run delays
// only its own job.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	parent  context.Context
	pending []Job
	jobs    map[string]*running
}

// NewScheduler creates an idle scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger.With("component", "scheduler"),
		jobs:   make(map[string]*running),
	}
}

// Set replaces the scheduled jobs. Jobs whose id, interval, and rev are
// unchanged keep running; removed jobs are stopped and new or changed ones
// started.
// Jobs set before Run are started when Run is called.
func (s *Scheduler) Set(jobs []Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.parent == nil {
		s.pending = append([]Job(nil), jobs...)
		return
	}

	want := make(map[string]Job, len(jobs))
	for _, j := range jobs {
		want[j.ID] = j
	}
	for id, r := range s.jobs {
		if j, ok := want[id]; ok && j.Interval == r.interval && j.Rev == r.rev {
			delete(want, id)
			continue
		}
		r.cancel()
		delete(s.jobs, id)
		s.logger.Info("pipeline: job stopped", "adapter", id)
	}
	for _, j := range want {
		s.start(j)
	}
}

// Len returns the number of running jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// start launches j. Callers hold mu.
func (s *Scheduler) start(j Job) {
	if j.Interval <= 0 {
		s.logger.Warn("pipeline: job has no interval, not scheduled", "adapter", j.ID)
		return
	}
	ctx, cancel := context.WithCancel(s.parent)
	r := &running{interval: j.Interval, rev: j.Rev, cancel: cancel, done: make(chan struct{})}
	s.jobs[j.ID] = r
	s.logger.Info("pipeline: job started", "adapter", j.ID, "interval", j.Interval)

	go func() {
		defer close(r.done)
		t := time.NewTicker(j.Interval)
		defer t.Stop()

		j.Run(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				j.Run(ctx)
			}
		}
	}()
}

// Run starts the pending jobs and blocks until ctx is cancelled, then waits
// for in-flight runs to return.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.parent = ctx
	for _, j := range s.pending {
		s.start(j)
	}
	s.pending = nil
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	waits := make([]chan struct{}, 0, len(s.jobs))
	for _, r := range s.jobs {
		r.cancel()
		waits = append(waits, r.done)
	}
	s.mu.Unlock()
	for _, w := range waits {
		<-w
	}
}
