// Package coordinator fans a scenario out over concurrent virtual users and
// merges their outcomes into one report.
package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"chatload/internal/driver"
	"chatload/internal/hub"
	"chatload/internal/logging"
	"chatload/pkg/interfaces"
	"chatload/pkg/types"
)

// Config bounds one load run
type Config struct {
	VirtualUsers int
	Duration     time.Duration
	Iterations   int // per virtual user, 0 means until Duration elapses
	ThinkTime    time.Duration
}

// Validate checks the run bounds
func (c Config) Validate() error {
	if c.VirtualUsers < 1 {
		return ErrInvalidVirtualUsers
	}
	if c.Duration <= 0 {
		return ErrInvalidDuration
	}
	if c.Iterations < 0 {
		return ErrInvalidIterations
	}
	return nil
}

// ScenarioFactory returns the scenario a virtual user runs. Returning the
// same value for every id is fine since identity travels as a parameter.
type ScenarioFactory func(virtualUser int) interfaces.Scenario

// ActivityTracker is implemented by observers that count live virtual users
type ActivityTracker interface {
	VirtualUserStarted(scenario string)
	VirtualUserStopped(scenario string)
}

// Coordinator owns one load run
type Coordinator struct {
	config    Config
	factory   ScenarioFactory
	observers []hub.Observer
	logger    logrus.FieldLogger

	runID string
}

// New creates a coordinator. observers receive every aggregated outcome.
func New(cfg Config, factory ScenarioFactory, logger logrus.FieldLogger, observers ...hub.Observer) *Coordinator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Coordinator{
		config:    cfg,
		factory:   factory,
		observers: observers,
		logger:    logger,
		runID:     uuid.NewString(),
	}
}

// RunID identifies the run in logs, metrics and the history store
func (c *Coordinator) RunID() string {
	return c.runID
}

// Run spawns every virtual user, waits for all of them and returns the report.
// The report is returned even when ctx is cancelled, together with ErrRunCanceled.
func (c *Coordinator) Run(ctx context.Context) (*types.Report, error) {
	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run configuration: %w", err)
	}

	scenarios := make([]interfaces.Scenario, c.config.VirtualUsers)
	for i := range scenarios {
		if scenarios[i] = c.factory(i); scenarios[i] == nil {
			return nil, fmt.Errorf("virtual user %d: %w", i, ErrNilScenario)
		}
	}
	name := scenarios[0].Name()

	logger := c.logger.WithFields(logrus.Fields{"run_id": c.runID, "scenario": name})
	collector := hub.NewCollector(c.runID, name, c.config.VirtualUsers, logger, c.observers...)

	// TECHNICAL DISCOVERY: The collector must outlive a cancelled run so the
	// outcomes of interrupted iterations still land in the report
	if err := collector.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, fmt.Errorf("failed to start collector: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"vus":        c.config.VirtualUsers,
		"duration":   c.config.Duration,
		"iterations": c.config.Iterations,
	}).Info("starting load run")

	// ARCHITECTURAL DISCOVERY: stop is separate from ctx. Closing it ends the
	// spawning of new iterations while in-flight ones keep their context
	stop := make(chan struct{})
	timer := time.AfterFunc(c.config.Duration, func() { close(stop) })
	defer timer.Stop()

	var iterations atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i, scenario := range scenarios {
		vu := &driver.VirtualUser{
			ID:            i,
			Scenario:      scenario,
			Sink:          collector,
			ThinkTime:     c.config.ThinkTime,
			MaxIterations: c.config.Iterations,
			Logger:        logger,
		}
		g.Go(func() error {
			c.track(name, true)
			defer c.track(name, false)
			iterations.Add(int64(vu.Run(gctx, stop)))
			return nil
		})
	}
	_ = g.Wait()

	if err := collector.Stop(); err != nil {
		logger.WithError(err).Error("failed to stop collector")
	}
	report := collector.Report()

	logger.WithFields(logrus.Fields{
		"iterations": iterations.Load(),
		"elapsed":    report.Elapsed,
		"failed":     report.Failed(),
	}).Info("load run finished")

	if ctx.Err() != nil {
		return report, fmt.Errorf("%w: %v", ErrRunCanceled, ctx.Err())
	}
	return report, nil
}

func (c *Coordinator) track(scenario string, started bool) {
	for _, o := range c.observers {
		tracker, ok := o.(ActivityTracker)
		if !ok {
			continue
		}
		if started {
			tracker.VirtualUserStarted(scenario)
		} else {
			tracker.VirtualUserStopped(scenario)
		}
	}
}
