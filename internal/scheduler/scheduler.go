// Package scheduler runs named background jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

var (
	ErrJobExists   = errors.New("job already registered")
	ErrJobNotFound = errors.New("job not found")
	ErrJobRunning  = errors.New("job is already running")
)

// Scheduler manages cron-driven background jobs.
type Scheduler struct {
	cron   *cron.Cron
	parser *CronParser
	loc    *time.Location
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	jobs    map[string]*entry
	running map[string]int // job name -> count of running executions
	started bool
}

type entry struct {
	config JobConfig
	job    Job
	id     cron.EntryID
	status JobStatus
}

// New creates a scheduler whose expressions are evaluated in loc.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}

	ctx, cancel := context.WithCancel(context.Background())
	parser := NewCronParser()

	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithParser(parser.parser)),
		parser:  parser,
		loc:     loc,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*entry),
		running: make(map[string]int),
	}
}

// Add registers a job. Jobs may be added before or after Start.
func (s *Scheduler) Add(cfg JobConfig, job Job) error {
	if cfg.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job == nil {
		return fmt.Errorf("job %q has no function", cfg.Name)
	}

	schedule, err := s.parser.Parse(cfg.Expression)
	if err != nil {
		return fmt.Errorf("job %q: %w", cfg.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[cfg.Name]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, cfg.Name)
	}

	e := &entry{config: cfg, job: job, status: JobStatus{Name: cfg.Name}}
	name := cfg.Name
	e.id = s.cron.Schedule(schedule, cron.FuncJob(func() {
		if err := s.execute(s.ctx, name); err != nil && !errors.Is(err, ErrJobRunning) {
			log.Error().Err(err).Str("job", name).Msg("Scheduled job failed")
		}
	}))
	s.jobs[name] = e

	log.Debug().
		Str("job", name).
		Str("expression", cfg.Expression).
		Msg("Job registered")

	return nil
}

// Remove unregisters a job. A run already in progress is not interrupted.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	s.cron.Remove(e.id)
	delete(s.jobs, name)
	return nil
}

// Start begins background processing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.cron.Start()

	log.Info().
		Int("jobs", len(s.jobs)).
		Str("timezone", s.loc.String()).
		Msg("Scheduler started")
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()

	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	if started {
		<-s.cron.Stop().Done()
	}
	log.Info().Msg("Scheduler stopped")
}

// RunNow executes a job immediately on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	return s.execute(ctx, name)
}

// Status reports a job's last run and next scheduled run.
func (s *Scheduler) Status(name string) (JobStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[name]
	if !ok {
		return JobStatus{}, false
	}
	return s.statusOf(e), true
}

// Jobs lists the status of every registered job, sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, s.statusOf(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) statusOf(e *entry) JobStatus {
	st := e.status
	st.NextRun = s.cron.Entry(e.id).Next
	// cron only fills in Next once started.
	if st.NextRun.IsZero() {
		if next, err := s.parser.NextRun(e.config.Expression, s.loc, time.Now()); err == nil {
			st.NextRun = next
		}
	}
	st.Running = s.running[e.config.Name] > 0
	return st
}

// execute runs a job once, honoring its concurrency setting and timeout.
func (s *Scheduler) execute(ctx context.Context, name string) error {
	e, err := s.begin(name)
	if err != nil {
		return err
	}
	defer s.decrementRunning(name)

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	err = safeRun(ctx, e.job)
	elapsed := time.Since(start)

	s.mu.Lock()
	e.status.Runs++
	e.status.LastRun = &start
	e.status.LastErr = err
	e.status.Duration = elapsed
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}

	log.Debug().
		Str("job", name).
		Dur("duration", elapsed).
		Msg("Job finished")

	return nil
}

// begin looks up a job and claims a running slot for it.
func (s *Scheduler) begin(name string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	if e.config.SkipIfRunning && s.running[name] > 0 {
		e.status.Skipped++
		log.Debug().Str("job", name).Msg("Skipping job still running from previous tick")
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}

	s.running[name]++
	return e, nil
}

func (s *Scheduler) decrementRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running[name]--
	if s.running[name] <= 0 {
		delete(s.running, name)
	}
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job(ctx)
}
