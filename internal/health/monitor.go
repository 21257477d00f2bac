// Package health periodically re-scores runners and toggles their availability.
package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tss/internal/domain"
	"tss/internal/metrics"
	"tss/internal/registry"
)

// maxParallelProbes bounds concurrent probes within one check round.
const maxParallelProbes = 8

// Prober reports a runner's current health in [0,1].
type Prober interface {
	Probe(ctx context.Context, runner domain.RunnerState) (float64, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, runner domain.RunnerState) (float64, error)

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, runner domain.RunnerState) (float64, error) {
	return f(ctx, runner)
}

// Monitor probes every runner once per interval and writes the scores into the
// registry. Running shards are never interrupted by a status change.
type Monitor struct {
	registry *registry.Registry
	prober   Prober
	interval time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewMonitor creates a new Monitor
func NewMonitor(reg *registry.Registry, prober Prober, interval time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		registry: reg,
		prober:   prober,
		interval: interval,
		log:      log.With().Str("component", "health").Logger(),
	}
}

// SetMetrics sets the metrics collectors for the monitor
func (m *Monitor) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

// Run checks on every tick until ctx is done. The first check happens one
// interval in, so configured initial health holds until then.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce probes every registered runner. A probe error counts as score 0.
func (m *Monitor) CheckOnce(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelProbes)

	for _, runner := range m.registry.Snapshot() {
		runner := runner
		g.Go(func() error {
			m.check(gctx, runner)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) check(ctx context.Context, runner domain.RunnerState) {
	if ctx.Err() != nil {
		return
	}
	id := runner.Spec.ID

	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	score, err := m.prober.Probe(probeCtx, runner)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.log.Warn().Err(err).Str("runner", id).Msg("Health probe failed")
		score = 0
	}

	prev, next, err := m.registry.UpdateHealth(id, score)
	if err != nil {
		m.log.Error().Err(err).Str("runner", id).Msg("Failed to update health")
		return
	}
	m.metrics.RecordHealth(id, score)

	switch {
	case next == domain.RunnerUnhealthy && prev != domain.RunnerUnhealthy:
		m.log.Info().Str("runner", id).Float64("score", score).Msg("Runner marked unhealthy")
	case prev == domain.RunnerUnhealthy && next != domain.RunnerUnhealthy:
		m.log.Info().Str("runner", id).Float64("score", score).Str("status", string(next)).Msg("Runner recovered")
	default:
		m.log.Debug().Str("runner", id).Float64("score", score).Msg("Runner health checked")
	}
}
