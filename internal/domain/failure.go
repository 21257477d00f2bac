package domain

// TestFailure is a test in the permanently-failed set, or a test that ran and failed.
type TestFailure struct {
	TestID   string `json:"test_id"`
	Kind     Kind   `json:"kind"`
	ShardID  string `json:"shard_id"`
	RunnerID string `json:"runner_id,omitempty"`
	Cause    string `json:"cause"`
	Message  string `json:"message,omitempty"`
	Output   string `json:"output,omitempty"`
	Resolved bool   `json:"resolved,omitempty"` // marked in the failure viewer
}
