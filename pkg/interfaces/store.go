package interfaces

import (
	"context"

	"chatload/pkg/types"
)

// ReportStore persists finished run reports
// FUNCTIONAL DISCOVERY: Optional collaborator - a run without a store still
// produces the in-memory report for its caller
type ReportStore interface {
	// SaveReport stores a report and its per-check counters atomically
	SaveReport(ctx context.Context, report *types.Report) error

	// GetRun loads one report by run ID
	GetRun(ctx context.Context, runID string) (*types.Report, error)

	// ListRuns returns the most recent reports, newest first
	ListRuns(ctx context.Context, limit int) ([]*types.Report, error)

	// HealthCheck verifies the store is reachable
	HealthCheck(ctx context.Context) error

	Close() error
}
