package domain

import (
	"errors"
	"fmt"
)

// ErrRunAborted marks work that did not finish because the run was cancelled.
var ErrRunAborted = errors.New("run aborted")

// ConfigError is a fatal configuration problem detected before scheduling.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// NoEligibleRunnerError means no known, healthy, non-excluded runner satisfies a shard.
type NoEligibleRunnerError struct {
	ShardID      string
	Requirements Requirements
	Excluded     []string
}

func (e *NoEligibleRunnerError) Error() string {
	if len(e.Excluded) > 0 {
		return fmt.Sprintf("no eligible runner for shard %s (%s, excluded %v)", e.ShardID, e.Requirements, e.Excluded)
	}
	return fmt.Sprintf("no eligible runner for shard %s (%s)", e.ShardID, e.Requirements)
}

// ExecutionFault is a whole-shard execution failure reported by the executor.
type ExecutionFault struct {
	ShardID  string
	RunnerID string
	Err      error
}

func (e *ExecutionFault) Error() string {
	return fmt.Sprintf("shard %s failed on runner %s: %v", e.ShardID, e.RunnerID, e.Err)
}

func (e *ExecutionFault) Unwrap() error { return e.Err }

// RetryExhaustedError means a shard faulted on its final permitted attempt.
type RetryExhaustedError struct {
	ShardID  string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("shard %s exhausted retries after %d attempts: %v", e.ShardID, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// FailureCause classifies why a test ended in the failed set.
func FailureCause(err error) string {
	var (
		noRunner  *NoEligibleRunnerError
		exhausted *RetryExhaustedError
		fault     *ExecutionFault
	)
	switch {
	case err == nil:
		return "test_failed"
	case errors.Is(err, ErrRunAborted):
		return "run_aborted"
	case errors.As(err, &noRunner):
		return "no_eligible_runner"
	case errors.As(err, &exhausted):
		return "retry_exhausted"
	case errors.As(err, &fault):
		return "execution_fault"
	}
	return "error"
}
