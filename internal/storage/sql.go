package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"tss/internal/domain"
)

const (
	// DriverMySQL stores runs in MySQL via go-sql-driver/mysql.
	DriverMySQL = "mysql"
	// DriverSQLite stores runs in an SQLite file via modernc.org/sqlite.
	DriverSQLite = "sqlite"
)

// SQLStorage keeps every run: one row per run holding the encoded summary,
// plus outcome and failure rows for history queries and the viewer.
type SQLStorage struct {
	db     *sql.DB
	driver string
}

// OpenSQL connects to the database and applies the schema.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStorage, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, &domain.ConfigError{Field: "storage.dsn", Reason: "required for driver " + driver}
	}

	switch driver {
	case DriverSQLite:
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
	case DriverMySQL:
		if err := EnsureDatabase(ctx, dsn); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite prefers a single writer; one connection also keeps :memory: shared.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	s := &SQLStorage{db: db, driver: driver}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Save inserts the run, its outcomes and its failures in one transaction.
func (s *SQLStorage) Save(ctx context.Context, summary domain.RunSummary) error {
	blob, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tss_runs(run_id, started_at, total_tests, completed, failed, total_cost, summary)
		 VALUES(?,?,?,?,?,?,?)`,
		summary.RunID, summary.StartedAt.UnixNano(), summary.TotalTests, summary.Completed,
		summary.Failed, summary.TotalCost, string(blob),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, o := range summary.Outcomes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tss_outcomes(run_id, test_id, status, duration_ms) VALUES(?,?,?,?)`,
			summary.RunID, o.TestID, string(o.Status), o.Duration.Milliseconds(),
		); err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.TestID, err)
		}
	}
	for _, f := range summary.Failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tss_failures(run_id, test_id, shard_id, runner_id, cause, resolved) VALUES(?,?,?,?,?,?)`,
			summary.RunID, f.TestID, f.ShardID, f.RunnerID, f.Cause, f.Resolved,
		); err != nil {
			return fmt.Errorf("insert failure %s: %w", f.TestID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// Load returns the most recently started run with current resolved flags.
func (s *SQLStorage) Load(ctx context.Context) (*domain.RunSummary, error) {
	var runID, blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, summary FROM tss_runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&runID, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, fmt.Errorf("query latest run: %w", err)
	}

	var summary domain.RunSummary
	if err := json.Unmarshal([]byte(blob), &summary); err != nil {
		return nil, fmt.Errorf("parse summary of run %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT test_id, resolved FROM tss_failures WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()
	resolved := make(map[string]bool)
	for rows.Next() {
		var (
			id string
			r  bool
		)
		if err := rows.Scan(&id, &r); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		resolved[id] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range summary.Failures {
		summary.Failures[i].Resolved = resolved[summary.Failures[i].TestID]
	}
	return &summary, nil
}

// SaveResolved updates the resolved flag of each failure of a run.
func (s *SQLStorage) SaveResolved(ctx context.Context, runID string, failures []domain.TestFailure) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, f := range failures {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tss_failures SET resolved = ? WHERE run_id = ? AND test_id = ?`,
			f.Resolved, runID, f.TestID,
		); err != nil {
			return fmt.Errorf("update failure %s: %w", f.TestID, err)
		}
	}
	return tx.Commit()
}

// SuccessRates aggregates pass rates over every stored outcome.
func (s *SQLStorage) SuccessRates(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT test_id,
		        SUM(CASE WHEN status IN ('pass','skip') THEN 1 ELSE 0 END),
		        COUNT(*)
		 FROM tss_outcomes GROUP BY test_id`)
	if err != nil {
		return nil, fmt.Errorf("query success rates: %w", err)
	}
	defer rows.Close()

	rates := make(map[string]float64)
	for rows.Next() {
		var (
			id            string
			passed, total int64
		)
		if err := rows.Scan(&id, &passed, &total); err != nil {
			return nil, fmt.Errorf("scan success rate: %w", err)
		}
		if total > 0 {
			rates[id] = float64(passed) / float64(total)
		}
	}
	return rates, rows.Err()
}

// Close closes the database handle.
func (s *SQLStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
