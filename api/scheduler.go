/*
scheduler.go - Automated credit cycle allocation

PURPOSE:
  Periodically opens the current credit cycle for every member on a plan.
  A member on a monthly plan gets a fresh meeting-room-hours balance on the
  first pass after the month turns; passes in between find the balance
  already there and create nothing.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start so a restart never waits a full interval
  - Every pass is recorded as an AllocationRun for audit and the API
  - Passes are serialized; a manual trigger waits for a scheduled one

CONFIGURATION:
  - Interval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewCycleScheduler(allocator, store, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerAllocation endpoint (manual pass)
  - membership/allocator.go: AllocateCurrent
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/membership"
	"github.com/sirupsen/logrus"
)

// CycleScheduler allocates credit cycles on a timer.
type CycleScheduler struct {
	Allocator *membership.Allocator
	Runs      membership.RunStore
	Interval  time.Duration
	Enabled   bool
	Log       logrus.FieldLogger
	Now       func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	// pass serializes allocation passes.
	pass    sync.Mutex
	lastRun time.Time
}

// NewCycleScheduler creates a scheduler with a one hour interval.
func NewCycleScheduler(allocator *membership.Allocator, runs membership.RunStore, log logrus.FieldLogger) *CycleScheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CycleScheduler{
		Allocator: allocator,
		Runs:      runs,
		Interval:  time.Hour,
		Enabled:   true,
		Log:       log.WithField("component", "scheduler"),
		Now:       time.Now,
	}
}

// Start begins the scheduler.
func (cs *CycleScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		cs.Log.Info("Scheduler disabled, not starting")
		return
	}
	if cs.ticker != nil {
		return
	}

	cs.ticker = time.NewTicker(cs.Interval)
	cs.stop = make(chan struct{})
	cs.wg.Add(1)

	go cs.run(cs.ticker, cs.stop)

	cs.Log.WithField("interval", cs.Interval.String()).Info("Scheduler started")
}

// Stop stops the scheduler and waits for an in-flight pass.
func (cs *CycleScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker == nil {
		return
	}
	cs.ticker.Stop()
	close(cs.stop)
	cs.wg.Wait()
	cs.ticker = nil
	cs.Log.Info("Scheduler stopped")
}

func (cs *CycleScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer cs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	cs.tick(ctx)

	for {
		select {
		case <-ticker.C:
			cs.tick(ctx)
		case <-stop:
			return
		}
	}
}

func (cs *CycleScheduler) tick(ctx context.Context) {
	if _, err := cs.RunAt(ctx, cs.now()); err != nil {
		cs.Log.WithError(err).Error("Allocation pass failed")
	}
}

func (cs *CycleScheduler) now() time.Time {
	if cs.Now == nil {
		return time.Now()
	}
	return cs.Now()
}

// RunAt performs one allocation pass for the cycles containing at and
// records it. The returned run is complete even when err is non-nil.
func (cs *CycleScheduler) RunAt(ctx context.Context, at time.Time) (membership.AllocationRun, error) {
	cs.pass.Lock()
	defer cs.pass.Unlock()

	run := membership.NewAllocationRun(at, cs.now())
	if err := cs.Runs.SaveAllocationRun(ctx, run); err != nil {
		return run, fmt.Errorf("record allocation run: %w", err)
	}

	result, err := cs.Allocator.AllocateCurrent(ctx, at)
	run.Complete(result, err, cs.now())

	if saveErr := cs.Runs.SaveAllocationRun(ctx, run); saveErr != nil && err == nil {
		err = fmt.Errorf("record allocation run: %w", saveErr)
	}
	cs.lastRun = run.StartedAt

	cs.Log.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"at":       at.Format(time.RFC3339),
		"members":  run.Members,
		"created":  run.Created,
		"existing": run.Existing,
		"failed":   run.Failed,
		"status":   run.Status,
	}).Info("Allocation pass finished")

	return run, err
}

// NextRunTime returns when the next scheduled pass will occur.
func (cs *CycleScheduler) NextRunTime() time.Time {
	cs.pass.Lock()
	defer cs.pass.Unlock()
	if cs.lastRun.IsZero() {
		return cs.now()
	}
	return cs.lastRun.Add(cs.Interval)
}
