package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/watzon/cadence/internal/config"
	"github.com/watzon/cadence/internal/database"
	"github.com/watzon/cadence/internal/series"
	"github.com/watzon/cadence/internal/store"
)

// testDB creates a test database with migrations.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	cfg := config.Default().Database
	cfg.Path = filepath.Join(t.TempDir(), "test.db")

	db, err := database.Open(&cfg)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestScheduler_Add(t *testing.T) {
	s := New(time.UTC)
	noop := func(context.Context) error { return nil }

	if err := s.Add(JobConfig{Name: "sweep", Expression: "@every 1h"}, noop); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	err := s.Add(JobConfig{Name: "sweep", Expression: "@every 1h"}, noop)
	if !errors.Is(err, ErrJobExists) {
		t.Errorf("duplicate Add() error = %v, want ErrJobExists", err)
	}

	if err := s.Add(JobConfig{Name: "bad", Expression: "not a cron"}, noop); err == nil {
		t.Error("Add() with invalid expression should fail")
	}
	if err := s.Add(JobConfig{Expression: "@hourly"}, noop); err == nil {
		t.Error("Add() without name should fail")
	}
	if err := s.Add(JobConfig{Name: "nil", Expression: "@hourly"}, nil); err == nil {
		t.Error("Add() without function should fail")
	}

	jobs := s.Jobs()
	if len(jobs) != 1 || jobs[0].Name != "sweep" {
		t.Fatalf("Jobs() = %+v, want only sweep", jobs)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(time.UTC)
	ctx := context.Background()

	var calls atomic.Int32
	fail := errors.New("boom")
	if err := s.Add(JobConfig{Name: "count", Expression: "@daily"}, func(context.Context) error {
		if calls.Add(1) == 2 {
			return fail
		}
		return nil
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := s.RunNow(ctx, "count"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if err := s.RunNow(ctx, "count"); !errors.Is(err, fail) {
		t.Errorf("RunNow() error = %v, want wrapped %v", err, fail)
	}

	status, ok := s.Status("count")
	if !ok {
		t.Fatal("Status() did not find job")
	}
	if status.Runs != 2 {
		t.Errorf("Runs = %d, want 2", status.Runs)
	}
	if status.LastRun == nil {
		t.Error("LastRun not recorded")
	}
	if !errors.Is(status.LastErr, fail) {
		t.Errorf("LastErr = %v, want %v", status.LastErr, fail)
	}
	if status.Running {
		t.Error("job reported running after it returned")
	}

	if err := s.RunNow(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("RunNow(missing) error = %v, want ErrJobNotFound", err)
	}
}

func TestScheduler_RecoversPanics(t *testing.T) {
	s := New(time.UTC)
	if err := s.Add(JobConfig{Name: "panic", Expression: "@daily"}, func(context.Context) error {
		panic("bad job")
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := s.RunNow(context.Background(), "panic"); err == nil {
		t.Error("RunNow() should report the panic as an error")
	}
}

func TestScheduler_Timeout(t *testing.T) {
	s := New(time.UTC)
	if err := s.Add(JobConfig{Name: "slow", Expression: "@daily", Timeout: 10 * time.Millisecond}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	err := s.RunNow(context.Background(), "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunNow() error = %v, want deadline exceeded", err)
	}
}

func TestScheduler_ConcurrencyControl(t *testing.T) {
	s := New(time.UTC)
	started := make(chan struct{})
	release := make(chan struct{})

	if err := s.Add(JobConfig{Name: "single", Expression: "@daily", SkipIfRunning: true}, func(context.Context) error {
		close(started)
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "single") }()
	<-started

	if err := s.RunNow(context.Background(), "single"); !errors.Is(err, ErrJobRunning) {
		t.Errorf("overlapping RunNow() error = %v, want ErrJobRunning", err)
	}

	status, _ := s.Status("single")
	if !status.Running {
		t.Error("job should be reported running")
	}
	if status.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", status.Skipped)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run error = %v", err)
	}
}

func TestScheduler_Remove(t *testing.T) {
	s := New(time.UTC)
	if err := s.Add(JobConfig{Name: "gone", Expression: "@hourly"}, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := s.Remove("gone"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok := s.Status("gone"); ok {
		t.Error("removed job still reported")
	}
	if err := s.Remove("gone"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("second Remove() error = %v, want ErrJobNotFound", err)
	}
}

func TestScheduler_StatusBeforeStart(t *testing.T) {
	s := New(time.UTC)
	if err := s.Add(JobConfig{Name: "hourly", Expression: "0 * * * *"}, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	before := time.Now()
	status, ok := s.Status("hourly")
	if !ok {
		t.Fatal("Status() reported job missing")
	}
	if !status.NextRun.After(before) {
		t.Errorf("NextRun = %v, want a time after %v", status.NextRun, before)
	}
	if status.NextRun.Minute() != 0 || status.NextRun.Second() != 0 {
		t.Errorf("NextRun = %v, want the top of an hour", status.NextRun)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(time.UTC)
	ran := make(chan struct{}, 1)

	if err := s.Add(JobConfig{Name: "tick", Expression: "@every 1s", SkipIfRunning: true}, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	s.Start()
	s.Start()

	status, _ := s.Status("tick")
	if status.NextRun.IsZero() {
		t.Error("NextRun should be set once started")
	}

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run within 3s")
	}

	s.Stop()
}

type fakeReconciler struct {
	calls int
	err   error
}

func (f *fakeReconciler) Reconcile(context.Context) (*series.ReconcileReport, error) {
	f.calls++
	return &series.ReconcileReport{}, f.err
}

func TestReconcileJob(t *testing.T) {
	r := &fakeReconciler{}
	job := ReconcileJob(r)

	if err := job(context.Background()); err != nil {
		t.Fatalf("job error = %v", err)
	}
	if r.calls != 1 {
		t.Errorf("Reconcile calls = %d, want 1", r.calls)
	}

	r.err = errors.New("store down")
	if err := job(context.Background()); !errors.Is(err, r.err) {
		t.Errorf("job error = %v, want %v", err, r.err)
	}
}

func TestReconcileJob_WithManager(t *testing.T) {
	db := testDB(t)
	s := New(time.UTC)

	m := series.NewManager(store.NewSQLStore(db, nil))
	if err := s.Add(JobConfig{Name: JobReconcile, Expression: "@every 15m", SkipIfRunning: true}, ReconcileJob(m)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Add(JobConfig{Name: JobDBStats, Expression: "@every 30s"}, DBStatsJob(db)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	for _, name := range []string{JobReconcile, JobDBStats} {
		if err := s.RunNow(context.Background(), name); err != nil {
			t.Errorf("RunNow(%s) error = %v", name, err)
		}
	}
}
