package schedule

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestIntervalJobRuns(t *testing.T) {
	s := New(discardLogger())
	defer s.Stop()

	var ticks atomic.Int32
	if err := s.AddInterval("tick", 50*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}

	s.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for ticks.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestAddIntervalRejectsNonPositive(t *testing.T) {
	s := New(discardLogger())
	if err := s.AddInterval("bad", 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestUpsertByNameReplacesJob(t *testing.T) {
	s := New(discardLogger())
	defer s.Stop()

	var first, second atomic.Int32
	if err := s.AddInterval("job", 40*time.Millisecond, func(ctx context.Context) error {
		first.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
	// Same name replaces the old registration; the first fn must not run.
	if err := s.AddInterval("job", 40*time.Millisecond, func(ctx context.Context) error {
		second.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}

	s.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for second.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("replacement job never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if first.Load() != 0 {
		t.Fatalf("replaced job still ran %d times", first.Load())
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	// Drive run() directly: cron's interval resolution is one second,
	// too coarse to provoke an overlap from a real schedule.
	s := New(discardLogger())
	defer s.Stop()
	s.Start(context.Background())

	e := &entry{name: "slow"}
	release := make(chan struct{})
	var runs atomic.Int32
	job := func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}

	go s.run(e, job)
	for runs.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	// Second tick while the first is still running must be dropped.
	s.run(e, job)
	close(release)

	time.Sleep(20 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
}

func TestStopCancelsJobContext(t *testing.T) {
	s := New(discardLogger())

	started := make(chan struct{})
	canceled := make(chan struct{})
	if err := s.AddInterval("waiter", 20*time.Millisecond, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		select {
		case canceled <- struct{}{}:
		default:
		}
		return ctx.Err()
	}); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}

	s.Start(context.Background())
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	s.Stop()
	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not canceled on stop")
	}
}
