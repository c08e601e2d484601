// Package hub aggregates outcomes from every virtual user into one report.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chatload/internal/logging"
	"chatload/pkg/types"
)

// Observer is notified of every outcome after it has been aggregated
type Observer interface {
	Observe(outcome *types.Outcome)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(outcome *types.Outcome)

func (f ObserverFunc) Observe(outcome *types.Outcome) {
	f(outcome)
}

// Collector merges outcomes submitted by concurrent drivers
// ARCHITECTURAL DISCOVERY: Single collector goroutine owns the report, so drivers
// share no mutable state with each other and the lock only guards snapshots
type Collector struct {
	// TECHNICAL DISCOVERY: Buffer absorbs a burst of simultaneous iteration ends
	outcomeChannel  chan *types.Outcome
	shutdownChannel chan struct{}
	done            chan struct{}

	observers []Observer
	logger    logrus.FieldLogger

	reportMu sync.RWMutex
	report   *types.Report

	running bool
	stopped bool
	mu      sync.RWMutex
}

// NewCollector creates a collector for one run
func NewCollector(runID, scenario string, virtualUsers int, logger logrus.FieldLogger, observers ...Observer) *Collector {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Collector{
		outcomeChannel:  make(chan *types.Outcome, 1024),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
		observers:       observers,
		logger:          logger.WithField("run_id", runID),
		report:          types.NewReport(runID, scenario, virtualUsers),
	}
}

// Start begins aggregation. A collector runs at most once.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running || c.stopped {
		c.mu.Unlock()
		return ErrCollectorAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Debug("collector started")
	go c.run(ctx)
	return nil
}

// Stop drains every outcome already submitted, then halts aggregation
func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrCollectorNotRunning
	}
	c.running = false
	c.stopped = true
	c.mu.Unlock()

	close(c.shutdownChannel)
	<-c.done

	c.reportMu.Lock()
	c.report.Elapsed = time.Since(c.report.StartedAt)
	c.reportMu.Unlock()

	c.logger.Debug("collector stopped")
	return nil
}

// Submit hands an outcome to the collector
// FUNCTIONAL DISCOVERY: Submit blocks instead of dropping when the buffer is full;
// a lost outcome would silently skew the pass rates
func (c *Collector) Submit(outcome *types.Outcome) error {
	if outcome == nil {
		return ErrNilOutcome
	}

	c.mu.RLock()
	running := c.running
	c.mu.RUnlock()
	if !running {
		return ErrCollectorNotRunning
	}

	select {
	case <-c.done:
		return ErrCollectorNotRunning
	default:
	}

	select {
	case c.outcomeChannel <- outcome:
		return nil
	case <-c.done:
		return ErrCollectorNotRunning
	}
}

// Report returns a snapshot of the aggregate
func (c *Collector) Report() *types.Report {
	c.reportMu.RLock()
	defer c.reportMu.RUnlock()
	return c.report.Clone()
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case outcome := <-c.outcomeChannel:
			c.handleOutcome(outcome)

		case <-c.shutdownChannel:
			c.drain()
			return

		case <-ctx.Done():
			c.logger.Warn("collector context cancelled")
			c.drain()
			return
		}
	}
}

// drain aggregates whatever is still buffered
func (c *Collector) drain() {
	for {
		select {
		case outcome := <-c.outcomeChannel:
			c.handleOutcome(outcome)
		default:
			return
		}
	}
}

func (c *Collector) handleOutcome(outcome *types.Outcome) {
	c.reportMu.Lock()
	c.report.Add(outcome)
	c.reportMu.Unlock()

	if !outcome.Passed() {
		c.logger.WithFields(logrus.Fields{
			"vu":        outcome.VirtualUser,
			"iteration": outcome.Iteration,
			"failed":    failedNames(outcome),
		}).Debug("iteration failed checks")
	}

	for _, o := range c.observers {
		o.Observe(outcome)
	}
}

func failedNames(outcome *types.Outcome) []string {
	var names []string
	for _, check := range outcome.Checks {
		if !check.Passed {
			names = append(names, check.Name)
		}
	}
	return names
}
