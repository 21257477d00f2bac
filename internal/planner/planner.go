// Package planner groups discovered tests into duration-bounded shards.
package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"tss/internal/config"
	"tss/internal/domain"
)

// History supplies the historical success rate of a test.
type History interface {
	SuccessRate(testID string) (float64, bool)
}

// StaticHistory is a History backed by a map of success rates.
type StaticHistory map[string]float64

// SuccessRate implements History.
func (h StaticHistory) SuccessRate(testID string) (float64, bool) {
	v, ok := h[testID]
	return v, ok
}

// defaultSuccessRate is assumed for tests without history.
const defaultSuccessRate = 1.0

// Planner orders tests by a weighted score and bin-packs them into shards.
type Planner struct {
	weights  config.Weights
	target   time.Duration
	ceiling  time.Duration
	history  History
	log      zerolog.Logger
	idFormat string
}

// New creates a Planner from the run configuration. history may be nil.
func New(cfg *config.Config, history History, log zerolog.Logger) *Planner {
	return &Planner{
		weights:  cfg.Weights,
		target:   cfg.TargetShardDuration,
		ceiling:  cfg.DurationCeiling,
		history:  history,
		log:      log.With().Str("component", "planner").Logger(),
		idFormat: "shard-%03d",
	}
}

// Score computes the ordering score of one test.
//
//	wDuration*(Dmax-d)/Dmax + wPriority*priority + wReliability*successRate - wComplexity*|requirements|
//
// The duration term is normalized to [0,1]; the default weights assume that scale.
func (p *Planner) Score(tc domain.TestCase, dmax time.Duration) float64 {
	var durationTerm float64
	if dmax > 0 {
		durationTerm = float64(dmax-tc.Duration) / float64(dmax)
	}
	rate := defaultSuccessRate
	if p.history != nil {
		if r, ok := p.history.SuccessRate(tc.ID); ok {
			rate = r
		}
	}
	return p.weights.Duration*durationTerm +
		p.weights.Priority*tc.Priority.Value() +
		p.weights.Reliability*rate -
		p.weights.Complexity*float64(tc.Requirements.Complexity())
}

// Order returns the tests sorted by descending score, ties broken by id.
func (p *Planner) Order(tests []domain.TestCase) []domain.TestCase {
	dmax := p.ceiling
	if dmax <= 0 {
		for _, tc := range tests {
			dmax = max(dmax, tc.Duration)
		}
	}

	type scored struct {
		tc    domain.TestCase
		score float64
	}
	items := make([]scored, len(tests))
	for i, tc := range tests {
		items[i] = scored{tc: tc, score: p.Score(tc, dmax)}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].tc.ID < items[j].tc.ID
	})

	out := make([]domain.TestCase, len(items))
	for i, it := range items {
		out[i] = it.tc
	}
	return out
}

// Plan builds the shard queue. A shard is closed when the next test would push
// it above the target duration, unless the shard is still empty: a single test
// longer than the target forms its own shard.
func (p *Planner) Plan(tests []domain.TestCase) []*domain.Shard {
	if len(tests) == 0 {
		return nil
	}

	var (
		shards  []*domain.Shard
		current *domain.Shard
	)
	open := func() {
		seq := len(shards)
		current = domain.NewShard(fmt.Sprintf(p.idFormat, seq+1), seq)
	}
	closeCurrent := func() {
		if current != nil && current.Len() > 0 {
			shards = append(shards, current)
			if current.Len() == 1 && current.Duration > p.target {
				p.log.Debug().Str("shard", current.ID).Str("test", current.Tests[0].ID).
					Dur("duration", current.Duration).Msg("Oversized test forms its own shard")
			}
		}
		current = nil
	}

	open()
	for _, tc := range p.Order(tests) {
		if current.Len() > 0 && current.Duration+tc.Duration > p.target {
			closeCurrent()
			open()
		}
		current.Add(tc)
	}
	closeCurrent()

	p.log.Debug().Int("tests", len(tests)).Int("shards", len(shards)).Dur("target", p.target).Msg("Planned shards")
	return shards
}
