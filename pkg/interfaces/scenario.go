package interfaces

import (
	"context"

	"chatload/pkg/types"
)

// Scenario runs one scripted iteration for a virtual user
// ARCHITECTURAL DISCOVERY: Identity is an explicit parameter rather than an
// ambient variable, so one Scenario value is safely shared by every driver
type Scenario interface {
	// Name returns the scenario kind used as the report key
	Name() string

	// Run executes one iteration and returns its ordered checks.
	// Failures are recorded in the outcome, never returned.
	Run(ctx context.Context, virtualUser int) *types.Outcome
}

// OutcomeSink accepts finished iterations for aggregation
type OutcomeSink interface {
	Submit(outcome *types.Outcome) error
}
