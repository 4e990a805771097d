package services

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeReplicator struct {
	mu   sync.Mutex
	runs []time.Time
	ran  chan struct{}
}

func newFakeReplicator() *fakeReplicator {
	return &fakeReplicator{ran: make(chan struct{}, 16)}
}

func (f *fakeReplicator) ProcessRecurringExpenses(_ context.Context, now time.Time) (ReplicationResult, error) {
	f.mu.Lock()
	f.runs = append(f.runs, now)
	f.mu.Unlock()
	select {
	case f.ran <- struct{}{}:
	default:
	}
	return ReplicationResult{Created: 1}, nil
}

func waitRun(t *testing.T, f *fakeReplicator) {
	t.Helper()
	select {
	case <-f.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("replicator was not run")
	}
}

func TestReplicationSchedulerLifecycle(t *testing.T) {
	ctx := context.Background()
	rep := newFakeReplicator()
	s := NewReplicationScheduler(rep, SchedulerConfig{Interval: 10 * time.Millisecond})
	fixed := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	if s.IsRunning() {
		t.Fatal("running before Start")
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	// runs at once, then on every tick
	waitRun(t, rep)
	waitRun(t, rep)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.IsRunning() {
		t.Error("running after Stop")
	}
	if s.Runs() < 2 {
		t.Errorf("runs = %d, want at least 2", s.Runs())
	}

	rep.mu.Lock()
	defer rep.mu.Unlock()
	if !rep.runs[0].Equal(fixed) {
		t.Errorf("run at %v, want the scheduler clock", rep.runs[0])
	}
}

func TestReplicationSchedulerWithoutReplicator(t *testing.T) {
	s := NewReplicationScheduler(nil, DefaultSchedulerConfig())
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start without a replicator should fail")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop on a stopped scheduler: %v", err)
	}
}

func TestReplicationSchedulerStopsWithContext(t *testing.T) {
	rep := newFakeReplicator()
	s := NewReplicationScheduler(rep, SchedulerConfig{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitRun(t, rep)
	cancel()

	stopCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if err := s.Stop(stopCtx); err != nil {
		t.Errorf("Stop after cancellation: %v", err)
	}
}
