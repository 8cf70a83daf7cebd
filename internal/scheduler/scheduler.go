package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// Scheduler runs named jobs on cron schedules and as one-shot runs. Two
// invocations of the same job never overlap: a tick that arrives while the
// job is still running is skipped.
type Scheduler struct {
	logger *slog.Logger
	cron   *cron.Cron

	wg sync.WaitGroup

	mu        sync.Mutex
	ctx       context.Context
	stopped   bool
	jobs      map[string]JobFunc
	schedules map[string]cron.Schedule
	entries   map[string]cron.EntryID
	oneShots  map[string]*time.Timer
	running   map[string]bool
}

// New creates a Scheduler. Jobs must be registered before they can be
// scheduled.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger:    logger,
		cron:      cron.New(),
		ctx:       context.Background(),
		jobs:      make(map[string]JobFunc),
		schedules: make(map[string]cron.Schedule),
		entries:   make(map[string]cron.EntryID),
		oneShots:  make(map[string]*time.Timer),
		running:   make(map[string]bool),
	}
}

// Register binds a job name to its body. Registering an existing name
// replaces the body.
func (s *Scheduler) Register(name string, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = fn
}

// AddCron schedules a registered job on a standard 5-field cron expression,
// replacing any previous cron schedule for the name.
func (s *Scheduler) AddCron(name, expr string) error {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("parse cron %q for job %s: %w", expr, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; !ok {
		return fmt.Errorf("job %s is not registered", name)
	}
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
	}
	s.entries[name] = s.cron.Schedule(schedule, cron.FuncJob(func() { s.run(name) }))
	s.schedules[name] = schedule
	return nil
}

// ScheduleOnce arms a one-shot run of a registered job, replacing any
// pending one-shot for the same name. Times in the past run immediately.
func (s *Scheduler) ScheduleOnce(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.oneShots[name]; ok {
		timer.Stop()
	}
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.oneShots[name] = time.AfterFunc(delay, func() { s.run(name) })
}

// NextFire returns the next cron firing time of a job, and whether the job
// has a cron schedule at all.
func (s *Scheduler) NextFire(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.schedules[name]
	if !ok {
		return time.Time{}, false
	}
	return schedule.Next(time.Now()), true
}

// CancelAll removes every cron schedule and pending one-shot. Registered
// job bodies are kept.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, name)
		delete(s.schedules, name)
	}
	for name, timer := range s.oneShots {
		timer.Stop()
		delete(s.oneShots, name)
	}
}

// Start begins firing scheduled jobs. Jobs run with the given base context.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop halts the cron loop and pending one-shots. Jobs mid-run finish,
// one-shot runs included; the returned context is done once they all have.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.CancelAll()
	cronDone := s.cron.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		<-cronDone.Done()
		s.wg.Wait()
	}()
	return ctx
}

func (s *Scheduler) run(name string) {
	s.mu.Lock()
	fn, ok := s.jobs[name]
	if !ok || s.running[name] || s.stopped {
		s.mu.Unlock()
		return
	}
	s.running[name] = true
	s.wg.Add(1)
	ctx := s.ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[name] = false
		s.mu.Unlock()
		s.wg.Done()
	}()

	start := time.Now()
	if err := fn(ctx); err != nil {
		s.logger.Error("job failed", "job", name, "error", err)
		return
	}
	s.logger.Debug("job complete", "job", name, "duration", time.Since(start))
}
