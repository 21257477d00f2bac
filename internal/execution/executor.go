// Package execution dispatches shards to runners under a concurrency budget.
package execution

import (
	"context"

	"tss/internal/domain"
)

// Executor runs one shard on the runner named by shard.RunnerID and returns
// per-test outcomes. A non-nil error is a whole-shard execution fault.
// Implementations must honor ctx cancellation.
type Executor interface {
	Execute(ctx context.Context, shard *domain.Shard) ([]domain.TestOutcome, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, shard *domain.Shard) ([]domain.TestOutcome, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, shard *domain.Shard) ([]domain.TestOutcome, error) {
	return f(ctx, shard)
}

// Progress receives terminal test counts while a run is in progress.
type Progress interface {
	Update(passed, failed int)
	Finish()
}
