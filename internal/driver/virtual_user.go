// Package driver runs one virtual user's iteration loop.
package driver

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"chatload/internal/logging"
	"chatload/pkg/interfaces"
)

// VirtualUser repeatedly runs a scenario under one fixed identity
type VirtualUser struct {
	ID            int
	Scenario      interfaces.Scenario
	Sink          interfaces.OutcomeSink
	ThinkTime     time.Duration
	MaxIterations int // 0 means unbounded
	Logger        logrus.FieldLogger
}

// Run loops until stop fires, the iteration budget is spent, or ctx is cancelled,
// and returns the number of completed iterations.
// FUNCTIONAL DISCOVERY: stop only gates the start of the next iteration; an
// iteration already running finishes under ctx and is still submitted
func (v *VirtualUser) Run(ctx context.Context, stop <-chan struct{}) int {
	logger := v.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithFields(logrus.Fields{"vu": v.ID, "scenario": v.Scenario.Name()})

	completed := 0
	for {
		if v.MaxIterations > 0 && completed >= v.MaxIterations {
			logger.Debug("iteration budget spent")
			return completed
		}
		select {
		case <-stop:
			return completed
		case <-ctx.Done():
			return completed
		default:
		}

		outcome := v.Scenario.Run(ctx, v.ID)
		outcome.Iteration = completed
		completed++

		if err := v.Sink.Submit(outcome); err != nil {
			logger.WithError(err).Error("failed to submit outcome")
		}

		if v.MaxIterations > 0 && completed >= v.MaxIterations {
			continue
		}
		if !v.think(ctx, stop) {
			return completed
		}
	}
}

// think sleeps for the configured delay and reports whether looping should continue
func (v *VirtualUser) think(ctx context.Context, stop <-chan struct{}) bool {
	if v.ThinkTime <= 0 {
		return true
	}

	timer := time.NewTimer(v.ThinkTime)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}
