// Package database persists finished load run reports in SQLite.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chatload/internal/logging"
	dbconfig "chatload/pkg/database"
	"chatload/pkg/interfaces"
	"chatload/pkg/types"
)

// Manager implements interfaces.ReportStore
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       logrus.FieldLogger
	writeChannel chan writeOperation // single writer for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

var _ interfaces.ReportStore = (*Manager)(nil)

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations and starts the writer
func NewManager(config *dbconfig.Config, logger logrus.FieldLogger) (*Manager, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.WithField("database", config.DatabasePath),
		writeChannel: make(chan writeOperation),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine serializes SQLite writes
	// while reads go straight to the pool
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.WithError(err).Error("database write failed")
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write and waits for the writer's verdict
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	// TECHNICAL DISCOVERY: The channel is unbuffered, so a handed-off write is
	// already in the writer's hands and always gets an answer
	return <-result
}

// SaveReport stores a finished run with its per-check counters
func (m *Manager) SaveReport(ctx context.Context, report *types.Report) error {
	if report == nil {
		return ErrNilReport
	}
	if report.RunID == "" {
		return ErrEmptyRunID
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO runs (id, scenario, started_at, elapsed_ms, virtual_users, iterations, failed)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			report.RunID,
			report.Scenario,
			report.StartedAt.UTC(),
			report.Elapsed.Milliseconds(),
			report.VirtualUsers,
			report.Iterations,
			report.Failed(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		for position, check := range report.Checks {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO run_checks (run_id, name, position, passes, fails)
				VALUES (?, ?, ?, ?, ?)
			`, report.RunID, check.Name, position, check.Passes, check.Fails)
			if err != nil {
				return fmt.Errorf("failed to insert check %q: %w", check.Name, err)
			}
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit run: %w", err)
		}
		return nil
	})
}

// GetRun loads one run by id
func (m *Manager) GetRun(ctx context.Context, runID string) (*types.Report, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, scenario, started_at, elapsed_ms, virtual_users, iterations
		FROM runs
		WHERE id = ?
	`, runID)

	report, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	if err := m.loadChecks(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// ListRuns returns the most recent runs first. A non-positive limit returns all runs.
func (m *Manager) ListRuns(ctx context.Context, limit int) ([]*types.Report, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, scenario, started_at, elapsed_ms, virtual_users, iterations
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	var reports []*types.Report
	for rows.Next() {
		report, err := scanRun(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	_ = rows.Close()

	for _, report := range reports {
		if err := m.loadChecks(ctx, report); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*types.Report, error) {
	var report types.Report
	var elapsedMS int64
	err := row.Scan(
		&report.RunID,
		&report.Scenario,
		&report.StartedAt,
		&elapsedMS,
		&report.VirtualUsers,
		&report.Iterations,
	)
	if err != nil {
		return nil, err
	}
	report.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	report.Checks = []types.CheckStats{}
	return &report, nil
}

func (m *Manager) loadChecks(ctx context.Context, report *types.Report) error {
	rows, err := m.db.QueryContext(ctx, `
		SELECT name, passes, fails
		FROM run_checks
		WHERE run_id = ?
		ORDER BY position
	`, report.RunID)
	if err != nil {
		return fmt.Errorf("failed to query checks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var stats types.CheckStats
		if err := rows.Scan(&stats.Name, &stats.Passes, &stats.Fails); err != nil {
			return fmt.Errorf("failed to scan check: %w", err)
		}
		report.Checks = append(report.Checks, stats)
	}
	return rows.Err()
}

// HealthCheck validates connectivity and that the schema is readable
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the pool. Closing twice is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
