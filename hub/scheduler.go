package hub

import (
	"context"
	"sync"
	"time"
)

// SchedulerConfig fixes the cadence of the hub's background jobs. A zero
// interval disables the job.
type SchedulerConfig struct {
	RateRefreshInterval time.Duration
	ExpirySweepInterval time.Duration
	ArchiveInterval     time.Duration
	ArchiveBatchSize    int
}

// Scheduler drives the hub's periodic work: rate refreshes, TTL sweeps and
// archive hand-offs. Jobs never overlap with themselves; each runs on its
// own ticker.
type Scheduler struct {
	hub *Hub
	cfg SchedulerConfig

	wg sync.WaitGroup
}

// NewScheduler binds a scheduler to the hub.
func NewScheduler(h *Hub, cfg SchedulerConfig) *Scheduler {
	if cfg.ArchiveBatchSize <= 0 {
		cfg.ArchiveBatchSize = 100
	}
	return &Scheduler{hub: h, cfg: cfg}
}

// Start launches the enabled jobs. They stop when ctx is cancelled; Wait
// blocks until they have drained.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.RateRefreshInterval > 0 {
		s.launch(ctx, s.cfg.RateRefreshInterval, func() {
			_ = s.hub.RefreshRates(ctx)
		})
	}
	if s.cfg.ExpirySweepInterval > 0 {
		s.launch(ctx, s.cfg.ExpirySweepInterval, func() {
			s.hub.TickInvoices()
		})
	}
	if s.cfg.ArchiveInterval > 0 {
		s.launch(ctx, s.cfg.ArchiveInterval, func() {
			_, _ = s.hub.ArchiveBatch(ctx, s.cfg.ArchiveBatchSize)
		})
	}
}

// Wait blocks until every job goroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) launch(ctx context.Context, interval time.Duration, job func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				job()
			}
		}
	}()
}
