package domain

// RunnerStatus is the availability of a runner for new work.
type RunnerStatus string

const (
	// RunnerAvailable means healthy with free capacity.
	RunnerAvailable RunnerStatus = "available"
	// RunnerRunning means healthy but every capacity slot is taken.
	RunnerRunning RunnerStatus = "running"
	// RunnerUnhealthy means the health score is below the configured threshold.
	RunnerUnhealthy RunnerStatus = "unhealthy"
)

// RunnerSpec holds the static attributes of an execution runner.
type RunnerSpec struct {
	ID           string   `yaml:"id" json:"id"`
	Type         string   `yaml:"type" json:"type,omitempty"`
	Region       string   `yaml:"region" json:"region,omitempty"`
	Capacity     int      `yaml:"capacity" json:"capacity"`
	UnitCost     float64  `yaml:"unit_cost" json:"unit_cost"` // currency per minute
	Capabilities []string `yaml:"capabilities" json:"capabilities,omitempty"`
	MemoryTier   int      `yaml:"memory" json:"memory_tier,omitempty"`
	CPUTier      int      `yaml:"cpu" json:"cpu_tier,omitempty"`
	HealthURL    string   `yaml:"health_url" json:"health_url,omitempty"`
	// InitialHealth seeds the health score; nil means 1.0.
	InitialHealth *float64 `yaml:"initial_health" json:"initial_health,omitempty"`
}

// RunnerStats are the cumulative execution statistics of a runner.
type RunnerStats struct {
	TotalExecuted     int     `json:"total_executed"`
	TotalFailed       int     `json:"total_failed"`
	AverageDurationMs float64 `json:"average_duration_ms"`
}

// FailureRate returns TotalFailed/TotalExecuted, or 0 with no executions.
func (s RunnerStats) FailureRate() float64 {
	if s.TotalExecuted == 0 {
		return 0
	}
	return float64(s.TotalFailed) / float64(s.TotalExecuted)
}

// RunnerState is a point-in-time copy of a runner's static and runtime state.
type RunnerState struct {
	Spec        RunnerSpec
	Status      RunnerStatus
	CurrentLoad int
	HealthScore float64
	Stats       RunnerStats
}
