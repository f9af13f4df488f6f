/*
auditor.go - Automated drift audit scheduler

PURPOSE:
  Periodically replays the ledger and compares it with the live
  balance/stock projections. Drift is a bug or a non-ledger-mediated
  write; the auditor raises it loudly in the logs and leaves the data
  untouched for operator intervention.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start, then on every tick
  - Never repairs projections

USAGE:
  auditor := NewDriftAuditor(reconciler, logger)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - ledger/reconcile.go: The replay itself
  - handlers.go: Reconcile endpoint (manual audit)
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/fridge-ledger/ledger"
)

// DriftAuditor runs periodic ledger-vs-projection audits.
type DriftAuditor struct {
	Reconciler    *ledger.Reconciler
	CheckInterval time.Duration
	Enabled       bool

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewDriftAuditor(reconciler *ledger.Reconciler, logger *zap.Logger) *DriftAuditor {
	return &DriftAuditor{
		Reconciler:    reconciler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		logger:        logger,
		stop:          make(chan struct{}),
	}
}

// Start begins the audit loop.
func (a *DriftAuditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled {
		a.logger.Info("drift auditor disabled, not starting")
		return
	}

	a.ticker = time.NewTicker(a.CheckInterval)
	a.wg.Add(1)
	go a.run()

	a.logger.Info("drift auditor started", zap.Duration("interval", a.CheckInterval))
}

// Stop stops the audit loop and waits for an in-flight audit to finish.
func (a *DriftAuditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker != nil {
		a.ticker.Stop()
		close(a.stop)
		a.wg.Wait()
		a.logger.Info("drift auditor stopped")
	}
}

func (a *DriftAuditor) run() {
	defer a.wg.Done()

	a.RunNow()

	for {
		select {
		case <-a.ticker.C:
			a.RunNow()
		case <-a.stop:
			return
		}
	}
}

// RunNow performs one audit immediately (also used by tests and admins).
func (a *DriftAuditor) RunNow() {
	report, err := a.Reconciler.Reconcile(context.Background())
	if err == nil {
		a.logger.Debug("drift audit clean")
		return
	}
	if report == nil {
		a.logger.Error("drift audit failed", zap.Error(err))
		return
	}

	// Log every diverged entity; the data stays as-is.
	for _, acc := range report.Accounts {
		a.logger.Error("account balance drift",
			zap.String("user_id", string(acc.UserID)),
			zap.String("ledger", acc.Ledger.String()),
			zap.String("live", acc.Live.String()),
		)
	}
	for _, it := range report.Items {
		a.logger.Error("item stock drift",
			zap.String("item_code", it.Code),
			zap.Int("ledger", it.Ledger),
			zap.Int("live", it.Live),
		)
	}
}
