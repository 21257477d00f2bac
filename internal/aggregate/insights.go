package aggregate

import (
	"fmt"
	"sort"

	"tss/internal/domain"
)

const (
	// failureRateBottleneck flags runners failing more than this share of attempts.
	failureRateBottleneck = 0.25
	// imbalanceFactor flags runners handling more than this multiple of the mean attempts.
	imbalanceFactor = 2.0
)

func deriveInsights(s domain.RunSummary, in Input) domain.Insights {
	ins := domain.Insights{
		Bottlenecks:            []string{},
		ScalingRecommendations: []string{},
	}

	runners := append([]domain.RunnerState(nil), in.Runners...)
	sort.Slice(runners, func(i, j int) bool { return runners[i].Spec.ID < runners[j].Spec.ID })

	var (
		bestCE, fastest, reliable          string
		bestCEScore, fastestMs, reliableSc float64
		totalAttempts                      int
	)
	for _, r := range runners {
		u := s.RunnerUtilization[r.Spec.ID]
		totalAttempts += u.TotalExecuted
		if u.TotalExecuted == 0 {
			continue
		}
		if bestCE == "" || u.CostEffectiveness > bestCEScore {
			bestCE, bestCEScore = r.Spec.ID, u.CostEffectiveness
		}
		if fastest == "" || u.AverageDurationMs < fastestMs {
			fastest, fastestMs = r.Spec.ID, u.AverageDurationMs
		}
		if rel := (1 - u.FailureRate) * r.HealthScore; reliable == "" || rel > reliableSc {
			reliable, reliableSc = r.Spec.ID, rel
		}
	}
	ins.MostCostEffectiveRunner = bestCE
	ins.FastestRunner = fastest
	ins.MostReliableRunner = reliable

	// Bottlenecks
	for _, r := range runners {
		u := s.RunnerUtilization[r.Spec.ID]
		if u.TotalExecuted > 0 && u.FailureRate > failureRateBottleneck {
			ins.Bottlenecks = append(ins.Bottlenecks, fmt.Sprintf(
				"runner %s faulted on %.0f%% of %d shard attempts", r.Spec.ID, u.FailureRate*100, u.TotalExecuted))
		}
		if r.Status == domain.RunnerUnhealthy {
			ins.Bottlenecks = append(ins.Bottlenecks, fmt.Sprintf(
				"runner %s ended the run unhealthy (health %.2f)", r.Spec.ID, r.HealthScore))
		}
	}

	blocked := make(map[string]int)
	var blockedKeys []string
	for _, sh := range s.Shards {
		if sh.Cause == "no_eligible_runner" {
			key := sh.Requirements
			if blocked[key] == 0 {
				blockedKeys = append(blockedKeys, key)
			}
			blocked[key]++
		}
		if in.TargetDuration > 0 && sh.Tests == 1 && sh.Estimated > in.TargetDuration {
			ins.Bottlenecks = append(ins.Bottlenecks, fmt.Sprintf(
				"shard %s holds a single test estimated at %s, above the %s target", sh.ID, sh.Estimated, in.TargetDuration))
		}
	}
	for _, key := range blockedKeys {
		ins.Bottlenecks = append(ins.Bottlenecks, fmt.Sprintf(
			"%d shard(s) found no eligible runner for %s", blocked[key], key))
	}

	if kind, n := dominantKind(s.Failures); n > 0 && n*2 >= len(s.Failures) {
		if kind == "" {
			kind = "unclassified"
		}
		ins.Bottlenecks = append(ins.Bottlenecks, fmt.Sprintf(
			"%s tests account for %d of %d failures", kind, n, len(s.Failures)))
	}

	// Scaling recommendations
	if in.MaxConcurrency > 0 && s.PeakConcurrency >= in.MaxConcurrency && len(s.Shards) > in.MaxConcurrency {
		ins.ScalingRecommendations = append(ins.ScalingRecommendations, fmt.Sprintf(
			"concurrency budget of %d was saturated; raising max_concurrent_shards may shorten the run", in.MaxConcurrency))
	}
	if len(runners) > 1 && totalAttempts > 0 {
		mean := float64(totalAttempts) / float64(len(runners))
		for _, r := range runners {
			u := s.RunnerUtilization[r.Spec.ID]
			switch {
			case u.TotalExecuted == 0:
				ins.ScalingRecommendations = append(ins.ScalingRecommendations, fmt.Sprintf(
					"runner %s was idle; remove it or broaden its capabilities", r.Spec.ID))
			case float64(u.TotalExecuted) > imbalanceFactor*mean:
				ins.ScalingRecommendations = append(ins.ScalingRecommendations, fmt.Sprintf(
					"runner %s handled %d of %d shard attempts; add capacity with capabilities %v to spread load",
					r.Spec.ID, u.TotalExecuted, totalAttempts, r.Spec.Capabilities))
			}
		}
	}
	return ins
}

func dominantKind(failures []domain.TestFailure) (domain.Kind, int) {
	counts := make(map[domain.Kind]int)
	for _, f := range failures {
		counts[f.Kind]++
	}
	var (
		best domain.Kind
		n    int
	)
	for k, c := range counts {
		if c > n || (c == n && k < best) {
			best, n = k, c
		}
	}
	return best, n
}
