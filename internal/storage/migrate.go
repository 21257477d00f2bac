package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// schema holds the DDL per driver. MySQL needs bounded VARCHAR keys.
var schema = map[string][]string{
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS tss_runs (
			run_id      TEXT PRIMARY KEY,
			started_at  INTEGER NOT NULL,
			total_tests INTEGER NOT NULL,
			completed   INTEGER NOT NULL,
			failed      INTEGER NOT NULL,
			total_cost  REAL NOT NULL,
			summary     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS tss_runs_started_at ON tss_runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS tss_outcomes (
			run_id      TEXT NOT NULL,
			test_id     TEXT NOT NULL,
			status      TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			PRIMARY KEY (run_id, test_id)
		)`,
		`CREATE INDEX IF NOT EXISTS tss_outcomes_test_id ON tss_outcomes(test_id)`,
		`CREATE TABLE IF NOT EXISTS tss_failures (
			run_id    TEXT NOT NULL,
			test_id   TEXT NOT NULL,
			shard_id  TEXT NOT NULL,
			runner_id TEXT NOT NULL,
			cause     TEXT NOT NULL,
			resolved  BOOLEAN NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, test_id)
		)`,
	},
	DriverMySQL: {
		`CREATE TABLE IF NOT EXISTS tss_runs (
			run_id      VARCHAR(64) PRIMARY KEY,
			started_at  BIGINT NOT NULL,
			total_tests INT NOT NULL,
			completed   INT NOT NULL,
			failed      INT NOT NULL,
			total_cost  DOUBLE NOT NULL,
			summary     LONGTEXT NOT NULL,
			INDEX tss_runs_started_at (started_at)
		)`,
		`CREATE TABLE IF NOT EXISTS tss_outcomes (
			run_id      VARCHAR(64) NOT NULL,
			test_id     VARCHAR(512) NOT NULL,
			status      VARCHAR(16) NOT NULL,
			duration_ms BIGINT NOT NULL,
			PRIMARY KEY (run_id, test_id),
			INDEX tss_outcomes_test_id (test_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tss_failures (
			run_id    VARCHAR(64) NOT NULL,
			test_id   VARCHAR(512) NOT NULL,
			shard_id  VARCHAR(64) NOT NULL,
			runner_id VARCHAR(128) NOT NULL,
			cause     VARCHAR(64) NOT NULL,
			resolved  BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (run_id, test_id)
		)`,
	},
}

// Migrate creates the tables if they do not exist.
func (s *SQLStorage) Migrate(ctx context.Context) error {
	stmts, ok := schema[s.driver]
	if !ok {
		return fmt.Errorf("no schema for driver %q", s.driver)
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.driver, err)
		}
	}
	return nil
}

// EnsureDatabase creates the database named in a MySQL DSN if it is missing.
func EnsureDatabase(ctx context.Context, dsn string) error {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fmt.Errorf("invalid mysql dsn: %w", err)
	}
	name := cfg.DBName
	if name == "" {
		return fmt.Errorf("mysql dsn has no database name")
	}
	if !isValidDatabaseName(name) {
		return fmt.Errorf("invalid database name: %s", name)
	}

	// Connect to MySQL server (without specifying database)
	cfg.DBName = ""
	db, err := sql.Open(DriverMySQL, cfg.FormatDSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database server: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database server: %w", err)
	}

	var exists bool
	query := "SELECT EXISTS(SELECT SCHEMA_NAME FROM INFORMATION_SCHEMA.SCHEMATA WHERE SCHEMA_NAME = ?)"
	if err := db.QueryRowContext(ctx, query, name).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check database %s: %w", name, err)
	}
	if exists {
		return nil
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)); err != nil {
		return fmt.Errorf("failed to create database %s: %w", name, err)
	}
	return nil
}

// isValidDatabaseName allows plain identifiers only.
func isValidDatabaseName(name string) bool {
	if len(name) == 0 || len(name) > 64 {
		return false
	}
	return strings.IndexFunc(name, func(r rune) bool {
		return !(r == '_' || r == '-' || r == '$' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) < 0
}
