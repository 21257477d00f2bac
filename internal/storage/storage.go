// Package storage persists run summaries and serves per-test history.
package storage

import (
	"context"
	"errors"
	"fmt"

	"tss/internal/config"
	"tss/internal/domain"
)

// ErrNoRuns is returned by Load when nothing has been stored yet.
var ErrNoRuns = errors.New("no stored runs")

// Storage persists and loads run summaries (e.g. for the failure viewer).
type Storage interface {
	Save(ctx context.Context, summary domain.RunSummary) error
	// Load returns the most recent run.
	Load(ctx context.Context) (*domain.RunSummary, error)
	// SaveResolved stores the viewer's resolved flags for one run's failures.
	SaveResolved(ctx context.Context, runID string, failures []domain.TestFailure) error
	// SuccessRates returns the historical pass rate per test id.
	SuccessRates(ctx context.Context) (map[string]float64, error)
	Close() error
}

// Open returns the Storage selected by cfg.Storage.Driver.
func Open(ctx context.Context, cfg *config.Config) (Storage, error) {
	switch cfg.Storage.Driver {
	case "", DriverJSON:
		return NewJSONStorage(cfg), nil
	case DriverMySQL, DriverSQLite:
		return OpenSQL(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	}
	return nil, &domain.ConfigError{
		Field:  "storage.driver",
		Reason: fmt.Sprintf("unknown driver %q (want json, mysql or sqlite)", cfg.Storage.Driver),
	}
}

// History adapts a success-rate table to the planner's History interface.
type History map[string]float64

// SuccessRate implements planner.History.
func (h History) SuccessRate(testID string) (float64, bool) {
	v, ok := h[testID]
	return v, ok
}

func successRates(outcomes []domain.TestOutcome) map[string]float64 {
	type tally struct{ passed, total int }
	counts := make(map[string]*tally)
	for _, o := range outcomes {
		t, ok := counts[o.TestID]
		if !ok {
			t = &tally{}
			counts[o.TestID] = t
		}
		t.total++
		if o.Passed() {
			t.passed++
		}
	}
	rates := make(map[string]float64, len(counts))
	for id, t := range counts {
		rates[id] = float64(t.passed) / float64(t.total)
	}
	return rates
}
