// Package selector picks the runner for a shard.
package selector

import (
	"math"

	"tss/internal/config"
	"tss/internal/domain"
)

// Selector filters eligible runners and picks the best by a deterministic score.
type Selector struct {
	weights   config.SelectionWeights
	threshold float64
}

// New creates a Selector.
func New(weights config.SelectionWeights, threshold float64) *Selector {
	return &Selector{weights: weights, threshold: threshold}
}

// Eligible reports whether a runner can take the shard right now: Available,
// healthy, with a free capacity slot, satisfying the requirements and not excluded.
func (s *Selector) Eligible(r domain.RunnerState, req domain.Requirements, excluded map[string]struct{}) bool {
	if _, ok := excluded[r.Spec.ID]; ok {
		return false
	}
	if r.Status != domain.RunnerAvailable || r.HealthScore < s.threshold {
		return false
	}
	if r.CurrentLoad >= r.Spec.Capacity {
		return false
	}
	return req.SatisfiedBy(r.Spec)
}

// Score is capacity^wCapacity / unitCost^wCost * health^wHealth.
func (s *Selector) Score(r domain.RunnerState) float64 {
	cost := r.Spec.UnitCost
	if cost <= 0 {
		cost = math.SmallestNonzeroFloat64
	}
	return math.Pow(float64(r.Spec.Capacity), s.weights.Capacity) /
		math.Pow(cost, s.weights.Cost) *
		math.Pow(r.HealthScore, s.weights.Health)
}

// Select returns the id of the best eligible runner. Ties are broken by the
// lowest current load, then the lowest id. ok is false when nothing is eligible.
func (s *Selector) Select(req domain.Requirements, runners []domain.RunnerState, excluded map[string]struct{}) (id string, ok bool) {
	var (
		best      domain.RunnerState
		bestScore float64
	)
	for _, r := range runners {
		if !s.Eligible(r, req, excluded) {
			continue
		}
		score := s.Score(r)
		if !ok || better(score, r, bestScore, best) {
			best, bestScore, ok = r, score, true
		}
	}
	if !ok {
		return "", false
	}
	return best.Spec.ID, true
}

func better(score float64, r domain.RunnerState, bestScore float64, best domain.RunnerState) bool {
	if score != bestScore {
		return score > bestScore
	}
	if r.CurrentLoad != best.CurrentLoad {
		return r.CurrentLoad < best.CurrentLoad
	}
	return r.Spec.ID < best.Spec.ID
}

// Satisfiable reports whether any registered runner could ever take the shard,
// ignoring its current status, load and health.
func Satisfiable(req domain.Requirements, runners []domain.RunnerState, excluded map[string]struct{}) bool {
	for _, r := range runners {
		if _, ok := excluded[r.Spec.ID]; ok {
			continue
		}
		if req.SatisfiedBy(r.Spec) {
			return true
		}
	}
	return false
}

// Reachable reports whether a healthy, non-excluded runner satisfies req,
// ignoring its current load. A shard with a reachable runner only waits for a
// capacity slot.
func (s *Selector) Reachable(req domain.Requirements, runners []domain.RunnerState, excluded map[string]struct{}) bool {
	for _, r := range runners {
		if _, ok := excluded[r.Spec.ID]; ok {
			continue
		}
		if r.Status == domain.RunnerUnhealthy || r.HealthScore < s.threshold {
			continue
		}
		if req.SatisfiedBy(r.Spec) {
			return true
		}
	}
	return false
}
