package domain

import (
	"sort"
	"time"
)

// ShardStatus is the lifecycle state of a shard.
type ShardStatus string

const (
	ShardPending   ShardStatus = "pending"
	ShardAssigned  ShardStatus = "assigned"
	ShardRunning   ShardStatus = "running"
	ShardCompleted ShardStatus = "completed"
	ShardFailed    ShardStatus = "failed"
)

// Terminal reports whether no further transitions happen from s.
func (s ShardStatus) Terminal() bool {
	return s == ShardCompleted || s == ShardFailed
}

// Shard is a duration-bounded group of tests executed as a unit.
// Membership is fixed once the planner closes the shard; only the
// state-machine fields (Status, RunnerID, RetryCount, exclusions) change afterwards.
type Shard struct {
	ID           string
	Seq          int // position in the planner queue
	Tests        []TestCase
	Duration     time.Duration
	Requirements Requirements
	Priority     Priority

	Status     ShardStatus
	RunnerID   string
	RetryCount int

	excluded map[string]struct{}
}

// NewShard returns an empty pending shard.
func NewShard(id string, seq int) *Shard {
	return &Shard{ID: id, Seq: seq, Status: ShardPending}
}

// Add appends a test and folds it into the aggregates.
func (s *Shard) Add(tc TestCase) {
	if len(s.Tests) == 0 {
		s.Priority = tc.Priority
	} else if tc.Priority > s.Priority {
		s.Priority = tc.Priority
	}
	s.Tests = append(s.Tests, tc)
	s.Duration += tc.Duration
	s.Requirements = s.Requirements.Merge(tc.Requirements)
}

// Len returns the number of member tests.
func (s *Shard) Len() int { return len(s.Tests) }

// TestIDs returns member ids in shard order.
func (s *Shard) TestIDs() []string {
	ids := make([]string, len(s.Tests))
	for i, tc := range s.Tests {
		ids[i] = tc.ID
	}
	return ids
}

// Exclude marks a runner as ineligible for future attempts of this shard.
func (s *Shard) Exclude(runnerID string) {
	if s.excluded == nil {
		s.excluded = make(map[string]struct{})
	}
	s.excluded[runnerID] = struct{}{}
}

// Excluded reports whether runnerID previously failed this shard.
func (s *Shard) Excluded(runnerID string) bool {
	_, ok := s.excluded[runnerID]
	return ok
}

// Exclusions returns a copy of the excluded runner set.
func (s *Shard) Exclusions() map[string]struct{} {
	out := make(map[string]struct{}, len(s.excluded))
	for id := range s.excluded {
		out[id] = struct{}{}
	}
	return out
}

// ExclusionList returns the excluded runner ids, sorted.
func (s *Shard) ExclusionList() []string {
	out := make([]string, 0, len(s.excluded))
	for id := range s.excluded {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
