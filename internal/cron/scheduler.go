package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type entry struct {
	job      Job
	schedule cron.Schedule
	running  sync.Mutex
}

// Scheduler runs registered jobs on their schedules. A job never overlaps
// itself: a tick that finds the previous run still going is skipped.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries []*entry
	byName  map[string]*entry
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs must be registered before Start.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		byName: make(map[string]*entry),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterJob parses the job's schedule and adds it. Duplicate names and
// invalid schedules are rejected.
func (s *Scheduler) RegisterJob(j Job) error {
	sched, err := ParseSchedule(j.Schedule())
	if err != nil {
		return fmt.Errorf("job %q: %w", j.Name(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[j.Name()]; exists {
		return fmt.Errorf("cron: duplicate job name %q", j.Name())
	}
	e := &entry{job: j, schedule: sched}
	s.entries = append(s.entries, e)
	s.byName[j.Name()] = e
	return nil
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.job.Name())
	}
	return out
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("cron: scheduler already started")
	}

	s.cron = cron.New(cron.WithParser(parser))
	for _, e := range s.entries {
		s.cron.Schedule(e.schedule, cron.FuncJob(func() { s.run(s.ctx, e) }))
		s.logger.Debug("cron: job scheduled", "job", e.job.Name(), "next", e.schedule.Next(time.Now()))
	}
	s.cron.Start()
	s.logger.Info("cron: scheduler started", "jobs", len(s.entries))
	return nil
}

// RunNow runs the named job once outside its schedule. It reports false
// when the job is unknown or already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) bool {
	s.mu.Lock()
	e, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return s.run(ctx, e)
}

func (s *Scheduler) run(ctx context.Context, e *entry) bool {
	name := e.job.Name()
	if !e.running.TryLock() {
		s.logger.Warn("cron: job still running, skipping tick", "job", name)
		return false
	}
	defer e.running.Unlock()

	start := time.Now()
	if err := e.job.Run(ctx); err != nil {
		s.logger.Error("cron: job failed", "job", name, "error", err)
		return true
	}
	s.logger.Debug("cron: job completed", "job", name, "elapsed", time.Since(start))
	return true
}

// Stop cancels running jobs and waits for them until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("cron: scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cron: waiting for running jobs: %w", ctx.Err())
	}
}
