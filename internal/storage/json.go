package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"tss/internal/config"
	"tss/internal/domain"
)

// DriverJSON keeps the latest summary in a single JSON file.
const DriverJSON = "json"

// JSONStorage stores the latest run summary in a JSON file under the configured output path.
type JSONStorage struct {
	cfg *config.Config
}

// NewJSONStorage returns a Storage that reads/writes the config's output JSON path.
func NewJSONStorage(cfg *config.Config) *JSONStorage {
	return &JSONStorage{cfg: cfg}
}

// Save writes the run summary to the configured JSON output file.
func (s *JSONStorage) Save(_ context.Context, summary domain.RunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	path := s.cfg.GetOutputPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// Load reads the last run summary from the configured JSON output file.
func (s *JSONStorage) Load(_ context.Context) (*domain.RunSummary, error) {
	data, err := os.ReadFile(s.cfg.GetOutputPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, fmt.Errorf("read summary file: %w", err)
	}
	var summary domain.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}
	return &summary, nil
}

// SaveResolved rewrites the stored summary with updated resolved flags.
func (s *JSONStorage) SaveResolved(ctx context.Context, runID string, failures []domain.TestFailure) error {
	summary, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if summary.RunID != runID {
		return fmt.Errorf("stored run is %s, not %s", summary.RunID, runID)
	}
	resolved := make(map[string]bool, len(failures))
	for _, f := range failures {
		resolved[f.TestID] = f.Resolved
	}
	for i := range summary.Failures {
		summary.Failures[i].Resolved = resolved[summary.Failures[i].TestID]
	}
	return s.Save(ctx, *summary)
}

// SuccessRates derives pass rates from the outcomes of the stored run.
func (s *JSONStorage) SuccessRates(ctx context.Context) (map[string]float64, error) {
	summary, err := s.Load(ctx)
	if errors.Is(err, ErrNoRuns) {
		return map[string]float64{}, nil
	}
	if err != nil {
		return nil, err
	}
	return successRates(summary.Outcomes), nil
}

// Close implements Storage.
func (s *JSONStorage) Close() error { return nil }
