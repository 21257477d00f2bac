// Package coordinator sequences a scheduling run: plan, dispatch alongside the
// health monitor, then aggregate into a summary.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tss/internal/aggregate"
	"tss/internal/config"
	"tss/internal/domain"
	"tss/internal/execution"
	"tss/internal/health"
	"tss/internal/metrics"
	"tss/internal/planner"
	"tss/internal/registry"
	"tss/internal/selector"
)

// Sink persists the summary of a finished run.
type Sink interface {
	Save(ctx context.Context, summary domain.RunSummary) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithProber sets the health telemetry source. The default derives health
// from each runner's execution record.
func WithProber(p health.Prober) Option { return func(c *Coordinator) { c.prober = p } }

// WithHistory sets the source of historical success rates for planning.
func WithHistory(h planner.History) Option { return func(c *Coordinator) { c.history = h } }

// WithSink persists the summary at the end of each run.
func WithSink(s Sink) Option { return func(c *Coordinator) { c.sink = s } }

// WithMetrics records dispatch and health metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// WithProgress reports terminal test counts while the run is in progress.
func WithProgress(p execution.Progress) Option { return func(c *Coordinator) { c.progress = p } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Coordinator) { c.log = l } }

// Coordinator owns the configuration of scheduling runs.
type Coordinator struct {
	cfg      *config.Config
	executor execution.Executor
	prober   health.Prober
	history  planner.History
	sink     Sink
	metrics  *metrics.Metrics
	progress execution.Progress
	log      zerolog.Logger
}

// New creates a new Coordinator
func New(cfg *config.Config, executor execution.Executor, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		executor: executor,
		prober:   health.NewStatsProber(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "coordinator").Logger()
	return c
}

// Run schedules tests across runners with the given config and executor.
func Run(ctx context.Context, tests []domain.TestCase, runners []domain.RunnerSpec, cfg *config.Config, executor execution.Executor, opts ...Option) (domain.RunSummary, error) {
	return New(cfg, executor, opts...).Run(ctx, tests, runners)
}

// Plan validates the configuration and returns the shard queue without
// executing anything.
func (c *Coordinator) Plan(tests []domain.TestCase, runners []domain.RunnerSpec) ([]*domain.Shard, error) {
	cfg, err := c.runConfig(tests, runners)
	if err != nil {
		return nil, err
	}
	return planner.New(cfg, c.history, c.log).Plan(tests), nil
}

// Run blocks until every shard is terminal or ctx is cancelled. Cancellation
// is not an error: the summary is returned with Aborted set. Only an invalid
// configuration or registry corruption fail the run. A sink error is returned
// alongside the complete summary.
func (c *Coordinator) Run(ctx context.Context, tests []domain.TestCase, runners []domain.RunnerSpec) (domain.RunSummary, error) {
	cfg, err := c.runConfig(tests, runners)
	if err != nil {
		return domain.RunSummary{}, err
	}

	reg, err := registry.New(runners, cfg.UnhealthyThreshold)
	if err != nil {
		return domain.RunSummary{}, fmt.Errorf("build runner registry: %w", err)
	}
	shards := planner.New(cfg, c.history, c.log).Plan(tests)

	runID := uuid.NewString()
	started := time.Now()
	log := c.log.With().Str("run", runID).Logger()
	log.Info().Int("tests", len(tests)).Int("shards", len(shards)).Int("runners", len(runners)).Msg("Run started")

	agg := aggregate.New()
	dispatcher := execution.NewDispatcher(cfg, reg, selector.New(cfg.Selection, cfg.UnhealthyThreshold), c.executor, agg, log)
	dispatcher.SetMetrics(c.metrics)
	if c.progress != nil {
		dispatcher.SetProgress(c.progress)
	}

	monitor := health.NewMonitor(reg, c.prober, cfg.HealthCheckInterval, log)
	monitor.SetMetrics(c.metrics)
	monCtx, stopMonitor := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(monCtx)
	}()

	dispatchErr := dispatcher.Run(ctx, shards)
	stopMonitor()
	wg.Wait()

	aborted := errors.Is(dispatchErr, domain.ErrRunAborted)
	if dispatchErr != nil && !aborted {
		log.Error().Err(dispatchErr).Msg("Run failed")
		return domain.RunSummary{}, fmt.Errorf("dispatch: %w", dispatchErr)
	}

	summary := agg.Summarize(aggregate.Input{
		RunID:          runID,
		StartedAt:      started,
		Duration:       time.Since(started),
		Aborted:        aborted,
		TotalTests:     len(tests),
		MaxConcurrency: cfg.MaxConcurrentShards,
		TargetDuration: cfg.TargetShardDuration,
		Runners:        reg.Snapshot(),
	})
	log.Info().Int("completed", summary.Completed).Int("failed", summary.Failed).
		Float64("cost", summary.TotalCost).Dur("duration", summary.Duration).Bool("aborted", aborted).Msg("Run finished")

	if c.sink != nil {
		if err := c.sink.Save(context.WithoutCancel(ctx), summary); err != nil {
			return summary, fmt.Errorf("save summary: %w", err)
		}
	}
	return summary, nil
}

// runConfig validates the coordinator config against this run's inputs.
func (c *Coordinator) runConfig(tests []domain.TestCase, runners []domain.RunnerSpec) (*config.Config, error) {
	cfg := *c.cfg
	cfg.Runners = runners
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(tests))
	for _, tc := range tests {
		if tc.ID == "" {
			return nil, &domain.ConfigError{Field: "tests", Reason: "test with empty id"}
		}
		if _, dup := seen[tc.ID]; dup {
			return nil, &domain.ConfigError{Field: "tests", Reason: fmt.Sprintf("duplicate test id %q", tc.ID)}
		}
		seen[tc.ID] = struct{}{}
	}
	return &cfg, nil
}
