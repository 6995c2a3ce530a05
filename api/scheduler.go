/*
scheduler.go - Missing-POD sweep scheduler

PURPOSE:
  Periodically raises MISSING_POD exceptions for trips that came back
  (RETURNED) but still have no proof of delivery after the deadline.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Delegates the scan to dispatch.Service.SweepMissingPOD, which is
    idempotent: a trip that already has a MISSING_POD exception is skipped
  - Locked days are never touched

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 15 minutes)
  - Deadline:      How long a RETURNED trip may wait for its POD (default: 24h)
  - LookbackDays:  How many past dates each sweep scans (default: 7)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewPODSweepScheduler(svc)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - dispatch/service.go: SweepMissingPOD
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/tanker-dispatch/dispatch"
)

// SweepObserver receives the counts of each sweep. metrics.Recorder
// implements it.
type SweepObserver interface {
	ObserveSweep(scanned, raised, failed int)
}

// PODSweepScheduler handles automated missing-POD detection.
type PODSweepScheduler struct {
	Service       *dispatch.Service
	Observer      SweepObserver
	CheckInterval time.Duration
	Deadline      time.Duration
	LookbackDays  int
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPODSweepScheduler creates a new scheduler.
func NewPODSweepScheduler(svc *dispatch.Service) *PODSweepScheduler {
	return &PODSweepScheduler{
		Service:       svc,
		CheckInterval: 15 * time.Minute,
		Deadline:      24 * time.Hour,
		LookbackDays:  7,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (s *PODSweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.CheckInterval <= 0 {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	log.Printf("[Scheduler] Started with check interval: %v, POD deadline: %v", s.CheckInterval, s.Deadline)
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (s *PODSweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		log.Println("[Scheduler] Stopped")
	}
}

func (s *PODSweepScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunOnce(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunOnce(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunOnce performs a single sweep.
func (s *PODSweepScheduler) RunOnce(ctx context.Context) dispatch.SweepResult {
	res, err := s.Service.SweepMissingPOD(ctx, s.Deadline, s.LookbackDays)
	if err != nil {
		log.Printf("[Scheduler] Sweep failed: %v", err)
		return res
	}
	if s.Observer != nil {
		s.Observer.ObserveSweep(res.DaysScanned, res.Raised, res.Failed)
	}
	if res.Raised > 0 || res.Failed > 0 {
		log.Printf("[Scheduler] Completed: %d days scanned, %d MISSING_POD raised, %d failed",
			res.DaysScanned, res.Raised, res.Failed)
	}
	return res
}
