// Package aggregate folds shard and test outcomes into a run summary.
package aggregate

import (
	"sort"
	"sync"
	"time"

	"tss/internal/domain"
)

// Aggregator collects run-level counters and terminal test results. It is
// updated concurrently by dispatch workers.
type Aggregator struct {
	mu sync.Mutex

	totalCost float64
	inFlight  int
	peak      int

	terminal  map[string]struct{}
	outcomes  []domain.TestOutcome
	completed int
	failures  []domain.TestFailure
	shards    []domain.ShardReport
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{terminal: make(map[string]struct{})}
}

// AttemptStarted counts a shard execution entering the Running state and
// returns the number in flight.
func (a *Aggregator) AttemptStarted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight++
	a.peak = max(a.peak, a.inFlight)
	return a.inFlight
}

// AttemptFinished charges unitCost per minute of elapsed time and returns the
// running total cost.
func (a *Aggregator) AttemptFinished(unitCost float64, elapsed time.Duration) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight--
	a.totalCost += unitCost * (float64(elapsed) / float64(time.Minute))
	return a.totalCost
}

// InFlight returns the number of executions currently running.
func (a *Aggregator) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight
}

// PeakConcurrency returns the highest number of simultaneous executions seen.
func (a *Aggregator) PeakConcurrency() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peak
}

// TotalCost returns the accumulated cost.
func (a *Aggregator) TotalCost() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalCost
}

// RecordOutcome stores the terminal result of a test that ran. Failed
// outcomes also land in the failure list. Duplicates are ignored.
func (a *Aggregator) RecordOutcome(tc domain.TestCase, shardID, runnerID string, o domain.TestOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.markTerminal(tc) {
		return
	}
	o.TestID = tc.ID
	a.outcomes = append(a.outcomes, o)
	if o.Passed() {
		a.completed++
		return
	}
	a.failures = append(a.failures, domain.TestFailure{
		TestID:   tc.ID,
		Kind:     tc.Kind,
		ShardID:  shardID,
		RunnerID: runnerID,
		Cause:    domain.FailureCause(nil),
		Output:   o.Output,
	})
}

// RecordShardFailure moves every member of a terminally failed shard into the
// failed set with the given cause.
func (a *Aggregator) RecordShardFailure(shard *domain.Shard, runnerID string, cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, tc := range shard.Tests {
		if !a.markTerminal(tc) {
			continue
		}
		f := domain.TestFailure{
			TestID:   tc.ID,
			Kind:     tc.Kind,
			ShardID:  shard.ID,
			RunnerID: runnerID,
			Cause:    domain.FailureCause(cause),
		}
		if cause != nil {
			f.Message = cause.Error()
		}
		a.failures = append(a.failures, f)
		a.outcomes = append(a.outcomes, domain.TestOutcome{TestID: tc.ID, Status: domain.TestStatusFail})
	}
}

// RecordShard stores how a shard ended.
func (a *Aggregator) RecordShard(r domain.ShardReport) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shards = append(a.shards, r)
}

func (a *Aggregator) markTerminal(tc domain.TestCase) bool {
	if _, seen := a.terminal[tc.ID]; seen {
		return false
	}
	a.terminal[tc.ID] = struct{}{}
	return true
}

// Input carries what the aggregator cannot observe itself.
type Input struct {
	RunID          string
	StartedAt      time.Time
	Duration       time.Duration
	Aborted        bool
	TotalTests     int
	MaxConcurrency int
	TargetDuration time.Duration
	Runners        []domain.RunnerState
}

// Summarize builds the immutable run summary.
func (a *Aggregator) Summarize(in Input) domain.RunSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	failed := len(a.failures)
	s := domain.RunSummary{
		RunID:           in.RunID,
		StartedAt:       in.StartedAt,
		Duration:        in.Duration,
		Aborted:         in.Aborted,
		TotalTests:      in.TotalTests,
		Completed:       a.completed,
		Failed:          failed,
		TotalCost:       a.totalCost,
		PeakConcurrency: a.peak,
		MaxConcurrency:  in.MaxConcurrency,
	}
	if a.completed+failed > 0 {
		s.SuccessRate = float64(a.completed) / float64(a.completed+failed)
	}

	var sum time.Duration
	for _, o := range a.outcomes {
		if o.Passed() {
			sum += o.Duration
		}
	}
	if a.completed > 0 {
		s.AverageExecutionMs = float64(sum.Milliseconds()) / float64(a.completed)
	}

	s.Shards = append([]domain.ShardReport(nil), a.shards...)
	sort.Slice(s.Shards, func(i, j int) bool { return s.Shards[i].ID < s.Shards[j].ID })
	s.Failures = append([]domain.TestFailure(nil), a.failures...)
	sort.Slice(s.Failures, func(i, j int) bool { return s.Failures[i].TestID < s.Failures[j].TestID })
	s.Outcomes = append([]domain.TestOutcome(nil), a.outcomes...)
	sort.Slice(s.Outcomes, func(i, j int) bool { return s.Outcomes[i].TestID < s.Outcomes[j].TestID })

	s.RunnerUtilization = Utilization(in.Runners)
	s.Insights = deriveInsights(s, in)
	return s
}

// Utilization computes the per-runner section of the summary.
func Utilization(runners []domain.RunnerState) map[string]domain.RunnerUtilization {
	out := make(map[string]domain.RunnerUtilization, len(runners))
	for _, r := range runners {
		u := domain.RunnerUtilization{
			TotalExecuted:     r.Stats.TotalExecuted,
			FailureRate:       r.Stats.FailureRate(),
			AverageDurationMs: r.Stats.AverageDurationMs,
			HealthScore:       r.HealthScore,
			UnitCost:          r.Spec.UnitCost,
		}
		if denom := r.Spec.UnitCost * r.Stats.AverageDurationMs / 60000; denom > 0 {
			u.CostEffectiveness = float64(r.Stats.TotalExecuted) / denom
		}
		out[r.Spec.ID] = u
	}
	return out
}
