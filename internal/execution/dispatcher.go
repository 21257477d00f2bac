package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"tss/internal/aggregate"
	"tss/internal/config"
	"tss/internal/domain"
	"tss/internal/metrics"
	"tss/internal/parser"
	"tss/internal/registry"
	"tss/internal/selector"
)

// noOutcomeMessage marks member tests the executor did not report on.
const noOutcomeMessage = "no outcome reported"

// Dispatcher runs shards through an Executor. A single coordination loop owns
// the pending queue and every shard state transition; executions run in their
// own goroutines, bounded by a weighted semaphore of MaxConcurrentShards.
type Dispatcher struct {
	cfg      *config.Config
	registry *registry.Registry
	selector *selector.Selector
	executor Executor
	agg      *aggregate.Aggregator
	metrics  *metrics.Metrics
	progress Progress
	log      zerolog.Logger
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(cfg *config.Config, reg *registry.Registry, sel *selector.Selector, executor Executor, agg *aggregate.Aggregator, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		registry: reg,
		selector: sel,
		executor: executor,
		agg:      agg,
		log:      log.With().Str("component", "dispatcher").Logger(),
	}
}

// SetProgress sets the progress reporter for the dispatcher
func (d *Dispatcher) SetProgress(progress Progress) {
	d.progress = progress
}

// SetMetrics sets the metrics collectors for the dispatcher
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

// attempt is the result of one shard execution, sent back to the loop.
type attempt struct {
	shard    *domain.Shard
	runnerID string
	outcomes []domain.TestOutcome
	err      error
	aborted  bool
}

// run is the per-call state owned by the coordination loop.
type run struct {
	ctx      context.Context
	execCtx  context.Context
	queue    *shardQueue
	sem      *semaphore.Weighted
	results  chan attempt
	inFlight int
	blocked  map[*domain.Shard]time.Time
	attempts map[*domain.Shard]int
	passed   int
	failed   int
	aborted  bool
	fatal    error
}

// stopped reports whether no new executions may start.
func (r *run) stopped() bool { return r.aborted || r.fatal != nil }

// Run dispatches every shard until all reach a terminal state. On
// cancellation, pending shards fail with ErrRunAborted and Run returns an error
// wrapping it once in-flight executions are settled. Registry corruption is
// the only other error.
func (d *Dispatcher) Run(ctx context.Context, shards []*domain.Shard) error {
	if len(shards) == 0 {
		return nil
	}
	if d.progress != nil {
		defer d.progress.Finish()
	}

	r := &run{
		ctx:      ctx,
		execCtx:  ctx,
		queue:    newShardQueue(shards),
		sem:      semaphore.NewWeighted(int64(d.cfg.MaxConcurrentShards)),
		results:  make(chan attempt),
		blocked:  make(map[*domain.Shard]time.Time),
		attempts: make(map[*domain.Shard]int),
	}
	if !d.cfg.AbandonInFlight {
		r.execCtx = context.WithoutCancel(ctx)
	}

	d.log.Info().Int("shards", len(shards)).Int("max_concurrent", d.cfg.MaxConcurrentShards).Msg("Dispatching shards")

	done := ctx.Done()
	for {
		if r.fatal == nil {
			if err := d.registry.Err(); err != nil {
				r.fatal = err
				d.log.Error().Err(err).Msg("Runner registry corrupted, stopping dispatch")
				d.abortPending(r, err)
			}
		}

		if !r.stopped() && ctx.Err() != nil {
			done = nil
			d.cancel(r)
		}

		changed := d.registry.Changed()
		if !r.stopped() {
			d.dispatchReady(r)
		}
		if r.queue.Len() == 0 && r.inFlight == 0 {
			break
		}

		var (
			timer   *time.Timer
			timeout <-chan time.Time
		)
		if deadline, ok := d.nextDeadline(r); ok {
			timer = time.NewTimer(time.Until(deadline))
			timeout = timer.C
		}

		select {
		case res := <-r.results:
			r.inFlight--
			d.finish(r, res)
		case <-changed:
		case <-timeout:
		case <-done:
			done = nil
			d.cancel(r)
		}
		if timer != nil {
			timer.Stop()
		}
	}

	switch {
	case r.fatal != nil:
		return r.fatal
	case r.aborted:
		return fmt.Errorf("%w: %w", domain.ErrRunAborted, context.Cause(ctx))
	}
	return nil
}

// cancel stops new dispatches and fails every pending shard with ErrRunAborted.
func (d *Dispatcher) cancel(r *run) {
	r.aborted = true
	d.log.Warn().Err(r.ctx.Err()).Int("pending", r.queue.Len()).Int("in_flight", r.inFlight).Msg("Run cancelled")
	d.abortPending(r, domain.ErrRunAborted)
}

// dispatchReady starts every pending shard that has both a free slot in the
// concurrency budget and an eligible runner. Shards that cannot be placed are
// skipped so the ones behind them still proceed.
func (d *Dispatcher) dispatchReady(r *run) {
	var skipped []*domain.Shard
	defer func() {
		for _, sh := range skipped {
			r.queue.push(sh)
		}
	}()

	snapshot := d.registry.Snapshot()
	now := time.Now()
	for r.queue.Len() > 0 {
		if r.ctx.Err() != nil {
			return
		}
		if !r.sem.TryAcquire(1) {
			return
		}
		sh := r.queue.pop()
		excluded := sh.Exclusions()

		id, ok := d.selector.Select(sh.Requirements, snapshot, excluded)
		if !ok {
			r.sem.Release(1)
			if d.blockedTooLong(r, sh, snapshot, excluded, now) {
				d.failShard(r, sh, "", &domain.NoEligibleRunnerError{
					ShardID:      sh.ID,
					Requirements: sh.Requirements,
					Excluded:     sh.ExclusionList(),
				})
				continue
			}
			skipped = append(skipped, sh)
			continue
		}

		if err := d.registry.Acquire(id); err != nil {
			// The health monitor changed the runner after the snapshot.
			r.sem.Release(1)
			skipped = append(skipped, sh)
			snapshot = d.registry.Snapshot()
			continue
		}
		delete(r.blocked, sh)

		runner, _ := d.registry.Get(id)
		snapshot = d.registry.Snapshot()
		sh.Status = domain.ShardAssigned
		sh.RunnerID = id
		r.attempts[sh]++
		r.inFlight++

		d.log.Debug().Str("shard", sh.ID).Str("runner", id).Int("tests", sh.Len()).
			Int("retry", sh.RetryCount).Msg("Shard assigned")
		d.metrics.RecordDispatch(id, runner.CurrentLoad)

		go func(sh *domain.Shard, runner domain.RunnerState) {
			res := d.execute(r, sh, runner)
			r.sem.Release(1)
			r.results <- res
		}(sh, runner)
	}
}

// blockedTooLong reports whether a shard without an eligible runner should
// fail now. A shard no registered runner can ever host fails immediately; a
// shard waiting only for capacity on a healthy runner never times out.
func (d *Dispatcher) blockedTooLong(r *run, sh *domain.Shard, snapshot []domain.RunnerState, excluded map[string]struct{}, now time.Time) bool {
	if !selector.Satisfiable(sh.Requirements, snapshot, excluded) {
		return true
	}
	if d.selector.Reachable(sh.Requirements, snapshot, excluded) {
		delete(r.blocked, sh)
		return false
	}
	since, ok := r.blocked[sh]
	if !ok {
		r.blocked[sh] = now
		d.log.Warn().Str("shard", sh.ID).Str("requirements", sh.Requirements.String()).
			Dur("wait", d.cfg.NoRunnerWait).Msg("No eligible runner, shard blocked")
		return d.cfg.NoRunnerWait == 0
	}
	return now.Sub(since) >= d.cfg.NoRunnerWait
}

func (d *Dispatcher) nextDeadline(r *run) (time.Time, bool) {
	var (
		next  time.Time
		found bool
	)
	for _, since := range r.blocked {
		deadline := since.Add(d.cfg.NoRunnerWait)
		if !found || deadline.Before(next) {
			next, found = deadline, true
		}
	}
	return next, found
}

// execute runs one attempt and settles the runner's load, stats and cost.
func (d *Dispatcher) execute(r *run, sh *domain.Shard, runner domain.RunnerState) attempt {
	id := runner.Spec.ID
	sh.Status = domain.ShardRunning
	d.agg.AttemptStarted()

	ctx := r.execCtx
	if d.cfg.ShardTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.ShardTimeout)
		defer cancel()
	}

	start := time.Now()
	outcomes, err := d.executor.Execute(ctx, sh)
	elapsed := time.Since(start)

	aborted := err != nil && d.cfg.AbandonInFlight && r.ctx.Err() != nil
	total := d.agg.AttemptFinished(runner.Spec.UnitCost, elapsed)
	if recErr := d.registry.RecordExecution(id, elapsed, err != nil && !aborted); recErr != nil {
		d.log.Error().Err(recErr).Str("runner", id).Msg("Failed to record execution")
	}
	if relErr := d.registry.Release(id); relErr != nil {
		d.log.Error().Err(relErr).Str("runner", id).Msg("Failed to release runner")
	}
	state, _ := d.registry.Get(id)
	d.metrics.RecordAttempt(id, state.CurrentLoad, elapsed, total)

	return attempt{shard: sh, runnerID: id, outcomes: outcomes, err: err, aborted: aborted}
}

// finish applies the result of an attempt: completion, retry, or terminal failure.
func (d *Dispatcher) finish(r *run, res attempt) {
	sh := res.shard
	switch {
	case res.aborted:
		d.failShard(r, sh, res.runnerID, domain.ErrRunAborted)

	case res.err != nil:
		fault := &domain.ExecutionFault{ShardID: sh.ID, RunnerID: res.runnerID, Err: res.err}
		sh.Exclude(res.runnerID)
		switch {
		case r.aborted:
			d.failShard(r, sh, res.runnerID, domain.ErrRunAborted)
		case r.fatal != nil:
			d.failShard(r, sh, res.runnerID, r.fatal)
		case sh.RetryCount < d.cfg.MaxRetries:
			sh.RetryCount++
			sh.Status = domain.ShardPending
			sh.RunnerID = ""
			r.queue.push(sh)
			d.metrics.RecordRetry()
			d.log.Warn().Err(res.err).Str("shard", sh.ID).Str("runner", res.runnerID).
				Int("retry", sh.RetryCount).Int("max_retries", d.cfg.MaxRetries).Msg("Shard execution fault, retrying")
		default:
			d.failShard(r, sh, res.runnerID, &domain.RetryExhaustedError{
				ShardID:  sh.ID,
				Attempts: r.attempts[sh],
				Last:     fault,
			})
		}

	default:
		d.completeShard(r, sh, res.runnerID, res.outcomes)
	}
}

// completeShard records per-test outcomes. Individual test failures are
// terminal for that test and never retried.
func (d *Dispatcher) completeShard(r *run, sh *domain.Shard, runnerID string, outcomes []domain.TestOutcome) {
	sh.Status = domain.ShardCompleted

	byID := make(map[string]domain.TestOutcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.TestID] = o
	}
	reported := make([]domain.TestOutcome, 0, sh.Len())
	for _, tc := range sh.Tests {
		o, ok := byID[tc.ID]
		if !ok {
			o = domain.TestOutcome{TestID: tc.ID, Status: domain.TestStatusFail, Output: noOutcomeMessage}
		}
		d.agg.RecordOutcome(tc, sh.ID, runnerID, o)
		d.metrics.RecordTestResult(string(o.Status))
		reported = append(reported, o)
	}

	passed, failed := parser.CountResults(reported)
	d.agg.RecordShard(d.report(r, sh, nil))
	d.log.Info().Str("shard", sh.ID).Str("runner", runnerID).Int("passed", passed).Int("failed", failed).Msg("Shard completed")
	d.updateProgress(r, passed, failed)
}

// failShard moves every member test of sh into the permanently-failed set.
func (d *Dispatcher) failShard(r *run, sh *domain.Shard, runnerID string, cause error) {
	sh.Status = domain.ShardFailed
	delete(r.blocked, sh)

	d.agg.RecordShardFailure(sh, runnerID, cause)
	d.agg.RecordShard(d.report(r, sh, cause))
	d.metrics.RecordShardFailure(domain.FailureCause(cause))
	for range sh.Tests {
		d.metrics.RecordTestResult(string(domain.TestStatusFail))
	}

	ev := d.log.Error()
	if errors.Is(cause, domain.ErrRunAborted) {
		ev = d.log.Warn()
	}
	ev.Err(cause).Str("shard", sh.ID).Int("tests", sh.Len()).Msg("Shard failed")
	d.updateProgress(r, 0, sh.Len())
}

// abortPending fails every queued shard with cause.
func (d *Dispatcher) abortPending(r *run, cause error) {
	for _, sh := range r.queue.drain() {
		d.failShard(r, sh, "", cause)
	}
}

func (d *Dispatcher) report(r *run, sh *domain.Shard, cause error) domain.ShardReport {
	rep := domain.ShardReport{
		ID:           sh.ID,
		Tests:        sh.Len(),
		Estimated:    sh.Duration,
		Priority:     sh.Priority.String(),
		Requirements: sh.Requirements.String(),
		RunnerID:     sh.RunnerID,
		Attempts:     r.attempts[sh],
		Status:       sh.Status,
		Exclusions:   sh.ExclusionList(),
	}
	if cause != nil {
		rep.Cause = domain.FailureCause(cause)
	}
	return rep
}

func (d *Dispatcher) updateProgress(r *run, passed, failed int) {
	r.passed += passed
	r.failed += failed
	if d.progress != nil {
		d.progress.Update(r.passed, r.failed)
	}
}
