package domain

import "time"

// RunnerUtilization is the per-runner section of a run summary.
type RunnerUtilization struct {
	TotalExecuted     int     `json:"total_executed"`
	FailureRate       float64 `json:"failure_rate"`
	AverageDurationMs float64 `json:"average_duration_ms"`
	CostEffectiveness float64 `json:"cost_effectiveness"`
	HealthScore       float64 `json:"health_score"`
	UnitCost          float64 `json:"unit_cost"`
}

// Insights are derived observations about a run.
type Insights struct {
	MostCostEffectiveRunner string   `json:"most_cost_effective_runner,omitempty"`
	FastestRunner           string   `json:"fastest_runner,omitempty"`
	MostReliableRunner      string   `json:"most_reliable_runner,omitempty"`
	Bottlenecks             []string `json:"bottlenecks"`
	ScalingRecommendations  []string `json:"scaling_recommendations"`
}

// ShardReport records how a shard ended.
type ShardReport struct {
	ID           string        `json:"id"`
	Tests        int           `json:"tests"`
	Estimated    time.Duration `json:"estimated"`
	Priority     string        `json:"priority"`
	Requirements string        `json:"requirements,omitempty"`
	RunnerID     string        `json:"runner_id,omitempty"`
	Attempts     int           `json:"attempts"`
	Status       ShardStatus   `json:"status"`
	Cause        string        `json:"cause,omitempty"`
	Exclusions   []string      `json:"exclusions,omitempty"`
}

// RunSummary is produced once at the end of a run and never mutated afterwards.
type RunSummary struct {
	RunID              string                       `json:"run_id"`
	StartedAt          time.Time                    `json:"started_at"`
	Duration           time.Duration                `json:"duration"`
	Aborted            bool                         `json:"aborted,omitempty"`
	TotalTests         int                          `json:"total_tests"`
	Completed          int                          `json:"completed"`
	Failed             int                          `json:"failed"`
	SuccessRate        float64                      `json:"success_rate"`
	AverageExecutionMs float64                      `json:"average_execution_ms"`
	TotalCost          float64                      `json:"total_cost"`
	PeakConcurrency    int                          `json:"peak_concurrency"`
	MaxConcurrency     int                          `json:"max_concurrency"`
	RunnerUtilization  map[string]RunnerUtilization `json:"runner_utilization"`
	Insights           Insights                     `json:"insights"`
	Shards             []ShardReport                `json:"shards,omitempty"`
	Failures           []TestFailure                `json:"failures,omitempty"`
	Outcomes           []TestOutcome                `json:"outcomes,omitempty"`
}
