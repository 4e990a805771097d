package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	applog "gastos/internal/log"
)

// Replicator is the batch job the scheduler drives.
type Replicator interface {
	ProcessRecurringExpenses(ctx context.Context, now time.Time) (ReplicationResult, error)
}

// SchedulerConfig holds configuration for the replication scheduler
type SchedulerConfig struct {
	// Interval is how often replication runs (default: 1h)
	Interval time.Duration

	// RunTimeout bounds a single run (default: 10m)
	RunTimeout time.Duration
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:   time.Hour,
		RunTimeout: 10 * time.Minute,
	}
}

// ReplicationScheduler runs a Replicator immediately on Start and then on
// every tick until stopped.
type ReplicationScheduler struct {
	replicator Replicator
	config     SchedulerConfig
	now        func() time.Time

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	runs    int
}

func NewReplicationScheduler(replicator Replicator, config SchedulerConfig) *ReplicationScheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultSchedulerConfig().Interval
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = DefaultSchedulerConfig().RunTimeout
	}
	return &ReplicationScheduler{
		replicator: replicator,
		config:     config,
		now:        time.Now,
	}
}

// Start begins the scheduling loop. Returns an error if already running.
func (s *ReplicationScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("replication scheduler is already running")
	}
	if s.replicator == nil {
		s.mu.Unlock()
		return fmt.Errorf("replication scheduler has no replicator")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	slog.InfoContext(ctx, "Replication scheduler started",
		"interval", s.config.Interval,
		"run_timeout", s.config.RunTimeout)

	return nil
}

// Stop signals the loop and waits for the current run to finish.
func (s *ReplicationScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Replication scheduler stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Replication scheduler stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	return nil
}

func (s *ReplicationScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Runs returns the number of completed runs.
func (s *ReplicationScheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func (s *ReplicationScheduler) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run immediately on startup
	s.runOnce(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *ReplicationScheduler) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	logger := applog.FromContext(ctx)
	start := time.Now()
	res, err := s.replicator.ProcessRecurringExpenses(runCtx, s.now())
	if err != nil {
		fields := applog.NewFields().WithOperation(applog.OpReplicate).WithError(err)
		logger.ErrorContext(ctx, "Recurring replication failed",
			append(fields.ToSlice(),
				"created", res.Created,
				applog.FieldDuration, time.Since(start))...)
	} else {
		logger.DebugContext(ctx, "Recurring replication run finished",
			"created", res.Created,
			applog.FieldDuration, time.Since(start))
	}

	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
}
