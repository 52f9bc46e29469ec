/*
scheduler.go - Automated settlement scheduler

PURPOSE:
  Periodically starts the revenue sharing settlements of the period that
  just ended, for every teacher and merchant that earned revenue in it.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each check targets PeriodType.Previous(now)
  - Entities already settled or in progress for that period are skipped
    (settlement.Engine.StartAll reports them), pending ones are recomputed
  - Work per check is bounded by Concurrency (errgroup)

CONFIGURATION:
  - CheckInterval: How often to check (settlement.interval, default 24h)
  - Enabled:       settlement.scheduler_enabled (default false)
  - Concurrency:   settlement.concurrency (default 4)

USAGE:
  scheduler := NewSettlementScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunSettlements endpoint (manual trigger)
  - settlement/engine.go: StartAll
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sportcoin/coin-engine/generic"
	"github.com/sportcoin/coin-engine/logging"
	"github.com/sportcoin/coin-engine/settlement"
)

// SettlementScheduler handles automated period-end settlement.
type SettlementScheduler struct {
	Engine        *settlement.Engine
	Clock         generic.Clock
	PeriodType    generic.PeriodType
	CheckInterval time.Duration
	Concurrency   int
	Enabled       bool

	log    *logging.Logger
	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex

	// lastMu is separate from mu: Stop holds mu while waiting for run.
	lastMu sync.Mutex
	last   *settlement.BatchResult
}

// NewSettlementScheduler creates a new scheduler.
func NewSettlementScheduler(engine *settlement.Engine, log *logging.Logger) *SettlementScheduler {
	if log == nil {
		log = logging.Discard()
	}
	return &SettlementScheduler{
		Engine:        engine,
		Clock:         generic.SystemClock{},
		PeriodType:    generic.PeriodMonthly,
		CheckInterval: 24 * time.Hour,
		Concurrency:   4,
		Enabled:       true,
		log:           log.With("Scheduler"),
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (s *SettlementScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Infof("Disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan bool)
	s.wg.Add(1)

	go s.run()

	s.log.Infof("Started with check interval: %v", s.CheckInterval)
}

// Stop stops the scheduler and waits for a running check to finish.
func (s *SettlementScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.log.Infof("Stopped")
	}
}

func (s *SettlementScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.checkAndProcess()

	for {
		select {
		case <-s.ticker.C:
			s.checkAndProcess()
		case <-s.stop:
			return
		}
	}
}

func (s *SettlementScheduler) checkAndProcess() {
	if _, err := s.RunNow(context.Background()); err != nil {
		s.log.Errorf(err, "settlement run failed")
	}
}

// RunNow starts the settlements of the previous period immediately.
func (s *SettlementScheduler) RunNow(ctx context.Context) (*settlement.BatchResult, error) {
	period := s.PeriodType.Previous(s.Clock.Now())
	s.log.Infof("Checking settlements for %s", period)

	res, err := s.Engine.StartAll(ctx, period, s.Concurrency)
	if err != nil {
		return nil, err
	}
	for e, ferr := range res.Failed {
		s.log.Errorf(ferr, "settlement %s/%s", e.Type, e.ID)
	}
	if len(res.Started) > 0 || len(res.Skipped) > 0 || len(res.Failed) > 0 {
		s.log.Infof("Completed %s: %d started, %d skipped (already in progress), %d failed",
			period, len(res.Started), len(res.Skipped), len(res.Failed))
	}

	s.lastMu.Lock()
	s.last = res
	s.lastMu.Unlock()
	return res, nil
}

// LastRun returns the result of the most recent check, nil before the first.
func (s *SettlementScheduler) LastRun() *settlement.BatchResult {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.last
}

// GetNextRunTime returns when the next scheduled check will occur.
func (s *SettlementScheduler) GetNextRunTime() time.Time {
	return s.Clock.Now().Add(s.CheckInterval)
}
