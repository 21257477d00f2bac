package config

import "time"

const (
	// DefaultMaxConcurrentShards is the default concurrency budget
	DefaultMaxConcurrentShards = 4
	// DefaultTargetShardDuration is the default greedy packing bound
	DefaultTargetShardDuration = 60 * time.Second
	// DefaultMaxRetries is the default number of re-dispatches after an execution fault
	DefaultMaxRetries = 2
	// DefaultHealthCheckInterval is the default health monitor period
	DefaultHealthCheckInterval = 5 * time.Second
	// DefaultUnhealthyThreshold is the minimum health score of a selectable runner
	DefaultUnhealthyThreshold = 0.5
	// DefaultNoRunnerWait is how long a shard may stay blocked without an eligible runner
	DefaultNoRunnerWait = 30 * time.Second

	// DefaultOutputPath is where JSON storage writes the run summary
	DefaultOutputPath = "storage/tss-summary.json"
	// DefaultStorageDriver is the default results sink
	DefaultStorageDriver = "json"
	// DefaultLogLevel is the default zerolog level
	DefaultLogLevel = "info"
	// DefaultEnvFile is loaded by ApplyEnv when present
	DefaultEnvFile = ".env"
	// DefaultScanPath is where test files are discovered when no catalog is given
	DefaultScanPath = "."
	// DefaultTestDuration is assumed for scanned tests without a catalog estimate
	DefaultTestDuration = 5 * time.Second
)

// DefaultCommand runs one package's selected tests and emits test2json events.
var DefaultCommand = []string{"go", "test", "-json", "-count=1"}

// DefaultWeights are the planner weights.
var DefaultWeights = Weights{
	Duration:    100,
	Priority:    20,
	Reliability: 50,
	Complexity:  5,
}

// DefaultSelectionWeights reduce the selector score to capacity/cost*health.
var DefaultSelectionWeights = SelectionWeights{
	Capacity: 1,
	Cost:     1,
	Health:   1,
}

// DefaultPathsToIgnore are the default directories to ignore when scanning for tests
var DefaultPathsToIgnore = []string{
	"vendor",
	"node_modules",
	"testdata",
	"_examples",
	"storage",
}
