package consolidation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs a Service on a cron schedule, plus a startup catch-up run
// when the last pass is older than catchUpAfter. Grounded on
// original_source/src/main.py's use of APScheduler's BackgroundScheduler with
// CronTrigger.from_crontab for the nightly job, translated to robfig/cron/v3
// since no cron library ships in this module's teacher lineage.
type Scheduler struct {
	svc          *Service
	cronExpr     string
	catchUpAfter time.Duration
	logger       *log.Logger

	loadLastRun func() time.Time
	saveLastRun func(time.Time)

	mu      sync.Mutex
	lastRun time.Time
	cron    *cron.Cron
}

// NewScheduler builds a Scheduler. cronExpr is a standard 5-field cron
// expression (e.g. "0 3 * * *" for 03:00 daily, §4.9's default). loadLastRun
// and saveLastRun persist last_consolidation across restarts (§4.9 step 6);
// loadLastRun returning the zero Time forces an immediate catch-up run.
func NewScheduler(svc *Service, cronExpr string, catchUpAfter time.Duration, loadLastRun func() time.Time, saveLastRun func(time.Time)) *Scheduler {
	return &Scheduler{
		svc:          svc,
		cronExpr:     cronExpr,
		catchUpAfter: catchUpAfter,
		logger:       log.New(log.Writer(), "ConsolidationScheduler: ", log.Flags()),
		loadLastRun:  loadLastRun,
		saveLastRun:  saveLastRun,
	}
}

// Start registers the cron job and, if the last recorded run is older than
// catchUpAfter (default 24h, §4.9 startup catch-up if stale), starts one
// catch-up run in a background goroutine before returning.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.lastRun = s.loadLastRun()
	stale := time.Since(s.lastRun) > s.catchUpAfter
	s.mu.Unlock()

	c := cron.New()
	if _, err := c.AddFunc(s.cronExpr, func() { s.runOnce(ctx) }); err != nil {
		return err
	}
	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	c.Start()

	if stale {
		s.logger.Printf("last consolidation at %s is stale, running catch-up pass", s.lastRun)
		go s.runOnce(ctx)
	}
	return nil
}

// runOnce executes a single consolidation pass and, on success, advances
// last_consolidation. A failure leaves it unchanged so the next scheduled or
// catch-up run retries (§7), per types.NewConsolidationError's contract.
func (s *Scheduler) runOnce(ctx context.Context) {
	stats, err := s.svc.Consolidate(ctx)
	if err != nil {
		s.logger.Printf("consolidation pass failed, last_consolidation unchanged: %v", err)
		return
	}

	now := time.Now()
	s.mu.Lock()
	s.lastRun = now
	s.mu.Unlock()
	s.saveLastRun(now)
	s.logger.Printf("consolidation pass succeeded: %+v", stats)
}

// Stop halts the cron scheduler and blocks until any in-flight cron-triggered
// run completes. A catch-up run started by Start is not waited for.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}
