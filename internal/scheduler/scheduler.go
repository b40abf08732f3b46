package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"

	"github.com/daniele-boerio/calcolatore-spese-BE/internal/log"
)

// Job is one registered batch job. Jobs are independent: a failure is
// logged and reported but never stops the other jobs.
type Job func(ctx context.Context) error

type jobEntry struct {
	name string
	run  Job
	busy atomic.Bool
}

// Scheduler triggers the registered jobs on their cron expressions. It
// owns no state beyond the registry itself and deliberately is not a
// general-purpose scheduler: no persistence, no distribution, no
// dynamic reconfiguration.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context

	mu      sync.Mutex
	running bool
	jobs    []*jobEntry
}

func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		ctx:  context.Background(),
	}
}

// Register adds a named job at the given cron expression. Must be
// called before Start.
func (s *Scheduler) Register(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("cannot register %q: scheduler already started", name)
	}

	entry := &jobEntry{name: name, run: job}
	if err := s.cron.AddFunc(spec, func() { s.runJob(s.ctx, entry) }); err != nil {
		return fmt.Errorf("register job %q: %w", name, err)
	}
	s.jobs = append(s.jobs, entry)

	slog.Info("Registered scheduled job", log.FieldJob, name, "spec", spec)
	return nil
}

// Start begins triggering jobs. ctx is passed to every job invocation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.ctx = ctx
	s.running = true
	s.cron.Start()

	slog.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop halts triggering. A job already in flight finishes on its own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false

	slog.Info("Scheduler stopped")
}

// RunAll invokes every registered job once, in registration order,
// with the same isolation and overlap rules as scheduled triggers.
// Used by the manual single-run mode.
func (s *Scheduler) RunAll(ctx context.Context) {
	for _, entry := range s.jobs {
		s.runJob(ctx, entry)
	}
}

// runJob executes one job, skipping the trigger when the previous run
// of the same job has not finished. Two concurrent runs of an engine
// would double-apply balance deltas.
func (s *Scheduler) runJob(ctx context.Context, entry *jobEntry) {
	if !entry.busy.CompareAndSwap(false, true) {
		slog.Warn("Skipping job trigger, previous run still active", log.FieldJob, entry.name)
		return
	}
	defer entry.busy.Store(false)

	start := time.Now()
	slog.InfoContext(ctx, "Job started", log.FieldJob, entry.name)

	if err := entry.run(ctx); err != nil {
		slog.ErrorContext(ctx, "Job failed",
			log.FieldJob, entry.name,
			log.FieldDuration, time.Since(start).Milliseconds(),
			log.FieldError, err)
		return
	}

	slog.InfoContext(ctx, "Job finished",
		log.FieldJob, entry.name,
		log.FieldDuration, time.Since(start).Milliseconds())
}
