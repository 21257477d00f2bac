package execution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tss/internal/aggregate"
	"tss/internal/config"
	"tss/internal/domain"
	"tss/internal/logging"
	"tss/internal/registry"
	"tss/internal/selector"
)

var errTransport = errors.New("transport failure")

func health(v float64) *float64 { return &v }

func testConfig() *config.Config {
	cfg := config.New()
	cfg.MaxRetries = 2
	cfg.NoRunnerWait = time.Second
	return cfg
}

type harness struct {
	dispatcher *Dispatcher
	registry   *registry.Registry
	agg        *aggregate.Aggregator
}

func newHarness(t *testing.T, cfg *config.Config, specs []domain.RunnerSpec, exec Executor) *harness {
	t.Helper()
	reg, err := registry.New(specs, cfg.UnhealthyThreshold)
	require.NoError(t, err)
	agg := aggregate.New()
	sel := selector.New(cfg.Selection, cfg.UnhealthyThreshold)
	return &harness{
		dispatcher: NewDispatcher(cfg, reg, sel, exec, agg, logging.Nop()),
		registry:   reg,
		agg:        agg,
	}
}

func (h *harness) summary() domain.RunSummary {
	return h.agg.Summarize(aggregate.Input{Runners: h.registry.Snapshot()})
}

func shard(id string, seq int, prio domain.Priority, dur time.Duration, tests ...string) *domain.Shard {
	sh := domain.NewShard(id, seq)
	for _, tid := range tests {
		sh.Add(domain.TestCase{ID: tid, Kind: domain.KindUnit, Duration: dur / time.Duration(len(tests)), Priority: prio})
	}
	return sh
}

// passAll reports every member test as passed.
func passAll(sh *domain.Shard) []domain.TestOutcome {
	out := make([]domain.TestOutcome, 0, sh.Len())
	for _, id := range sh.TestIDs() {
		out = append(out, domain.TestOutcome{TestID: id, Status: domain.TestStatusPass, Duration: time.Millisecond})
	}
	return out
}

// recorder is a fake executor that logs which runner each attempt landed on.
type recorder struct {
	mu    sync.Mutex
	calls []string // shard@runner
	fn    func(ctx context.Context, sh *domain.Shard) ([]domain.TestOutcome, error)
}

func (r *recorder) Execute(ctx context.Context, sh *domain.Shard) ([]domain.TestOutcome, error) {
	r.mu.Lock()
	r.calls = append(r.calls, sh.ID+"@"+sh.RunnerID)
	r.mu.Unlock()
	if r.fn == nil {
		return passAll(sh), nil
	}
	return r.fn(ctx, sh)
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func scenarioRunners() []domain.RunnerSpec {
	return []domain.RunnerSpec{
		{ID: "R1", Capacity: 4, UnitCost: 0.008},
		{ID: "R2", Capacity: 8, UnitCost: 0.005},
		{ID: "R3", Capacity: 4, UnitCost: 0.001, InitialHealth: health(0.3)},
	}
}

func TestDispatcher_RetryExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	exec := &recorder{fn: func(ctx context.Context, sh *domain.Shard) ([]domain.TestOutcome, error) {
		return nil, errTransport
	}}
	h := newHarness(t, cfg, scenarioRunners(), exec)
	sh := shard("shard-001", 0, domain.PriorityMedium, time.Second, "a", "b")

	require.NoError(t, h.dispatcher.Run(context.Background(), []*domain.Shard{sh}))

	assert.Equal(t, []string{"shard-001@R2", "shard-001@R1"}, exec.Calls())
	assert.Equal(t, domain.ShardFailed, sh.Status)
	assert.Equal(t, 1, sh.RetryCount)
	assert.Equal(t, []string{"R1", "R2"}, sh.ExclusionList())

	s := h.summary()
	require.Len(t, s.Failures, 2)
	for _, f := range s.Failures {
		assert.Equal(t, "retry_exhausted", f.Cause)
		assert.Contains(t, f.Message, "transport failure")
	}
	require.Len(t, s.Shards, 1)
	assert.Equal(t, 2, s.Shards[0].Attempts)
	assert.Equal(t, 1, s.RunnerUtilization["R1"].TotalExecuted)
	assert.Equal(t, 1.0, s.RunnerUtilization["R2"].FailureRate)

	for _, st := range h.registry.Snapshot() {
		assert.Zero(t, st.CurrentLoad, st.Spec.ID)
	}
}

func TestDispatcher_RetryOnAlternateRunner(t *testing.T) {
	cfg := testConfig()
	exec := &recorder{}
	exec.fn = func(ctx context.Context, sh *domain.Shard) ([]domain.TestOutcome, error) {
		if sh.RunnerID == "R2" {
			return nil, errTransport
		}
		return passAll(sh), nil
	}
	h := newHarness(t, cfg, scenarioRunners(), exec)
	sh := shard("shard-001", 0, domain.PriorityMedium, time.Second, "a")

	require.NoError(t, h.dispatcher.Run(context.Background(), []*domain.Shard{sh}))

	assert.Equal(t, []string{"shard-001@R2", "shard-001@R1"}, exec.Calls())
	assert.Equal(t, domain.ShardCompleted, sh.Status)
	assert.Equal(t, 1, sh.RetryCount)
	assert.Equal(t, "R1", sh.RunnerID)

	s := h.summary()
	assert.Equal(t, 1, s.Completed)
	assert.Zero(t, s.Failed)
}

func TestDispatcher_TestFailuresAreNotRetried(t *testing.T) {
	exec := &recorder{fn: func(ctx context.Context, sh *domain.Shard) ([]domain.TestOutcome, error) {
		return []domain.TestOutcome{
			{TestID: "a", Status: domain.TestStatusPass},
			{TestID: "b", Status: domain.TestStatusFail, Output: "assertion failed"},
		}, nil
	}}
	h := newHarness(t, testConfig(), scenarioRunners(), exec)
	sh := shard("shard-001", 0, domain.PriorityMedium, time.Second, "a", "b", "c")

	require.NoError(t, h.dispatcher.Run(context.Background(), []*domain.Shard{sh}))

	assert.Len(t, exec.Calls(), 1)
	assert.Equal(t, domain.ShardCompleted, sh.Status)
	assert.Zero(t, sh.RetryCount)

	s := h.summary()
	assert.Equal(t, 1, s.Completed)
	require.Len(t, s.Failures, 2)
	assert.Equal(t, "b", s.Failures[0].TestID)
	assert.Equal(t, "test_failed", s.Failures[0].Cause)
	assert.Equal(t, "c", s.Failures[1].TestID)
	assert.Equal(t, noOutcomeMessage, s.Failures[1].Output)
	assert.Zero(t, s.RunnerUtilization["R2"].FailureRate)
}

// gate is an executor that blocks every attempt until released.
type gate struct {
	started chan string
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
}

func newGate(n int) *gate {
	return &gate{started: make(chan string, n), release: make(chan struct{})}
}

func (g *gate) Execute(ctx context.Context, sh *domain.Shard) ([]domain.TestOutcome, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	g.started <- sh.ID
	select {
	case <-g.release:
		return passAll(sh), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestDispatcher_ConcurrencyBound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentShards = 2
	g := newGate(3)
	h := newHarness(t, cfg, scenarioRunners(), g)
	shards := []*domain.Shard{
		shard("shard-001", 0, domain.PriorityMedium, time.Second, "a"),
		shard("shard-002", 1, domain.PriorityMedium, time.Second, "b"),
		shard("shard-003", 2, domain.PriorityMedium, time.Second, "c"),
	}

	errc := make(chan error, 1)
	go func() { errc <- h.dispatcher.Run(context.Background(), shards) }()

	<-g.started
	<-g.started
	select {
	case id := <-g.started:
		t.Fatalf("shard %s started beyond the concurrency budget", id)
	case <-time.After(50 * time.Millisecond):
	}
	close(g.release)
	require.NoError(t, <-errc)

	assert.Equal(t, int32(2), g.peak.Load())
	assert.Equal(t, 2, h.agg.PeakConcurrency())
	assert.Equal(t, 3, h.summary().Completed)
}

func TestDispatcher_RunnerCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentShards = 4
	g := newGate(3)
	close(g.release)
	h := newHarness(t, cfg, []domain.RunnerSpec{{ID: "solo", Capacity: 1, UnitCost: 0.01}}, g)
	shards := []*domain.Shard{
		shard("shard-001", 0, domain.PriorityMedium, time.Second, "a"),
		shard("shard-002", 1, domain.PriorityMedium, time.Second, "b"),
		shard("shard-003", 2, domain.PriorityMedium, time.Second, "c"),
	}

	require.NoError(t, h.dispatcher.Run(context.Background(), shards))
	assert.Equal(t, int32(1), g.peak.Load())
	assert.Equal(t, 3, h.summary().Completed)
}

func TestDispatcher_Order(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentShards = 1
	exec := &recorder{}
	h := newHarness(t, cfg, []domain.RunnerSpec{{ID: "r", Capacity: 1, UnitCost: 0.01}}, exec)
	shards := []*domain.Shard{
		shard("shard-001", 0, domain.PriorityLow, time.Second, "a"),
		shard("shard-002", 1, domain.PriorityHigh, 40*time.Second, "b"),
		shard("shard-003", 2, domain.PriorityHigh, 10*time.Second, "c"),
		shard("shard-004", 3, domain.PriorityHigh, 10*time.Second, "d"),
	}

	require.NoError(t, h.dispatcher.Run(context.Background(), shards))
	assert.Equal(t, []string{"shard-003@r", "shard-004@r", "shard-002@r", "shard-001@r"}, exec.Calls())
}

func TestDispatcher_CostAccounting(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	var n atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, sh *domain.Shard) ([]domain.TestOutcome, error) {
		time.Sleep(5 * time.Millisecond)
		if n.Add(1)%3 == 0 {
			return nil, errTransport
		}
		return passAll(sh), nil
	})
	h := newHarness(t, cfg, scenarioRunners(), exec)
	var shards []*domain.Shard
	for i, id := range []string{"a", "b", "c", "d", "e", "f"} {
		shards = append(shards, shard("shard-"+id, i, domain.PriorityMedium, time.Second, id))
	}

	require.NoError(t, h.dispatcher.Run(context.Background(), shards))

	var want float64
	for _, st := range h.registry.Snapshot() {
		want += st.Spec.UnitCost * st.Stats.AverageDurationMs * float64(st.Stats.TotalExecuted) / 60000
	}
	assert.Greater(t, h.agg.TotalCost(), 0.0)
	assert.InDelta(t, want, h.agg.TotalCost(), 1e-9)
}

func TestDispatcher_UnsatisfiableShardFailsFast(t *testing.T) {
	exec := &recorder{}
	h := newHarness(t, testConfig(), scenarioRunners(), exec)
	gpu := shard("shard-001", 0, domain.PriorityHigh, time.Second, "gpu-test")
	gpu.Requirements = domain.NewRequirements(0, 0, "gpu")
	plain := shard("shard-002", 1, domain.PriorityLow, time.Second, "plain")

	start := time.Now()
	require.NoError(t, h.dispatcher.Run(context.Background(), []*domain.Shard{gpu, plain}))
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, []string{"shard-002@R2"}, exec.Calls())
	assert.Equal(t, domain.ShardFailed, gpu.Status)

	s := h.summary()
	require.Len(t, s.Failures, 1)
	assert.Equal(t, "no_eligible_runner", s.Failures[0].Cause)
	assert.Zero(t, s.Shards[0].Attempts)
}

func TestDispatcher_BlockedShardTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.NoRunnerWait = 30 * time.Millisecond
	specs := append(scenarioRunners(), domain.RunnerSpec{
		ID: "gpu", Capacity: 1, UnitCost: 0.1, Capabilities: []string{"gpu"}, InitialHealth: health(0.1),
	})
	exec := &recorder{}
	h := newHarness(t, cfg, specs, exec)
	sh := shard("shard-001", 0, domain.PriorityHigh, time.Second, "gpu-test")
	sh.Requirements = domain.NewRequirements(0, 0, "gpu")

	start := time.Now()
	require.NoError(t, h.dispatcher.Run(context.Background(), []*domain.Shard{sh}))
	assert.GreaterOrEqual(t, time.Since(start), cfg.NoRunnerWait)

	assert.Empty(t, exec.Calls())
	assert.Equal(t, domain.ShardFailed, sh.Status)
	assert.Equal(t, "no_eligible_runner", h.summary().Failures[0].Cause)
}

func TestDispatcher_BlockedShardRecovers(t *testing.T) {
	cfg := testConfig()
	cfg.NoRunnerWait = 5 * time.Second
	exec := &recorder{}
	h := newHarness(t, cfg, []domain.RunnerSpec{
		{ID: "gpu", Capacity: 1, UnitCost: 0.1, Capabilities: []string{"gpu"}, InitialHealth: health(0.1)},
	}, exec)
	sh := shard("shard-001", 0, domain.PriorityHigh, time.Second, "gpu-test")
	sh.Requirements = domain.NewRequirements(0, 0, "gpu")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _, _ = h.registry.UpdateHealth("gpu", 0.9)
	}()
	require.NoError(t, h.dispatcher.Run(context.Background(), []*domain.Shard{sh}))

	assert.Equal(t, []string{"shard-001@gpu"}, exec.Calls())
	assert.Equal(t, domain.ShardCompleted, sh.Status)
}

func TestDispatcher_CancelLetsInFlightFinish(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentShards = 1
	g := newGate(3)
	h := newHarness(t, cfg, scenarioRunners(), g)
	shards := []*domain.Shard{
		shard("shard-001", 0, domain.PriorityMedium, time.Second, "a"),
		shard("shard-002", 1, domain.PriorityMedium, time.Second, "b"),
		shard("shard-003", 2, domain.PriorityMedium, time.Second, "c"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.dispatcher.Run(ctx, shards) }()

	<-g.started
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(g.release)

	err := <-errc
	assert.ErrorIs(t, err, domain.ErrRunAborted)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, domain.ShardCompleted, shards[0].Status)
	assert.Equal(t, domain.ShardFailed, shards[1].Status)
	assert.Equal(t, domain.ShardFailed, shards[2].Status)

	s := h.summary()
	assert.Equal(t, 1, s.Completed)
	require.Len(t, s.Failures, 2)
	assert.Equal(t, "run_aborted", s.Failures[0].Cause)
}

func TestDispatcher_PreCancelled(t *testing.T) {
	tests := []struct {
		name    string
		abandon bool
	}{
		{name: "drain in-flight", abandon: false},
		{name: "abandon in-flight", abandon: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.AbandonInFlight = tt.abandon
			exec := &recorder{}
			h := newHarness(t, cfg, scenarioRunners(), exec)
			shards := []*domain.Shard{
				shard("shard-001", 0, domain.PriorityMedium, time.Second, "a"),
				shard("shard-002", 1, domain.PriorityMedium, time.Second, "b"),
				shard("shard-003", 2, domain.PriorityMedium, time.Second, "c"),
			}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err := h.dispatcher.Run(ctx, shards)
			assert.ErrorIs(t, err, domain.ErrRunAborted)
			assert.Empty(t, exec.Calls(), "no shard starts after cancellation")

			for _, sh := range shards {
				assert.Equal(t, domain.ShardFailed, sh.Status, sh.ID)
			}
			s := h.summary()
			assert.Zero(t, s.Completed)
			require.Len(t, s.Failures, 3)
			for _, f := range s.Failures {
				assert.Equal(t, "run_aborted", f.Cause)
			}
		})
	}
}

func TestDispatcher_CancelAbandonsInFlight(t *testing.T) {
	cfg := testConfig()
	cfg.AbandonInFlight = true
	g := newGate(1)
	h := newHarness(t, cfg, scenarioRunners(), g)
	sh := shard("shard-001", 0, domain.PriorityMedium, time.Second, "a")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.dispatcher.Run(ctx, []*domain.Shard{sh}) }()

	<-g.started
	cancel()
	assert.ErrorIs(t, <-errc, domain.ErrRunAborted)

	assert.Equal(t, domain.ShardFailed, sh.Status)
	assert.Zero(t, sh.RetryCount)
	s := h.summary()
	assert.Equal(t, "run_aborted", s.Failures[0].Cause)
	assert.Zero(t, s.RunnerUtilization["R2"].FailureRate, "an abandoned attempt is not a runner fault")
}

func TestDispatcher_ShardTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.ShardTimeout = 10 * time.Millisecond
	exec := ExecutorFunc(func(ctx context.Context, sh *domain.Shard) ([]domain.TestOutcome, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h := newHarness(t, cfg, scenarioRunners(), exec)
	sh := shard("shard-001", 0, domain.PriorityMedium, time.Second, "a")

	require.NoError(t, h.dispatcher.Run(context.Background(), []*domain.Shard{sh}))

	s := h.summary()
	require.Len(t, s.Failures, 1)
	assert.Equal(t, "retry_exhausted", s.Failures[0].Cause)
	assert.Contains(t, s.Failures[0].Message, context.DeadlineExceeded.Error())
}

func TestDispatcher_RegistryCorruptionIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentShards = 1
	var h *harness
	exec := ExecutorFunc(func(ctx context.Context, sh *domain.Shard) ([]domain.TestOutcome, error) {
		_ = h.registry.Release("R1") // R1 is idle
		return passAll(sh), nil
	})
	h = newHarness(t, cfg, scenarioRunners(), exec)
	shards := []*domain.Shard{
		shard("shard-001", 0, domain.PriorityMedium, time.Second, "a"),
		shard("shard-002", 1, domain.PriorityMedium, time.Second, "b"),
	}

	err := h.dispatcher.Run(context.Background(), shards)
	assert.ErrorIs(t, err, registry.ErrCorrupt)
	assert.Equal(t, domain.ShardFailed, shards[1].Status)
}

func TestDispatcher_Empty(t *testing.T) {
	h := newHarness(t, testConfig(), scenarioRunners(), &recorder{})
	assert.NoError(t, h.dispatcher.Run(context.Background(), nil))
}

type countingProgress struct {
	passed, failed int
	finished       bool
}

func (p *countingProgress) Update(passed, failed int) { p.passed, p.failed = passed, failed }
func (p *countingProgress) Finish()                   { p.finished = true }

func TestDispatcher_Progress(t *testing.T) {
	exec := &recorder{fn: func(ctx context.Context, sh *domain.Shard) ([]domain.TestOutcome, error) {
		if sh.ID == "shard-002" {
			return nil, errTransport
		}
		return passAll(sh), nil
	}}
	cfg := testConfig()
	cfg.MaxRetries = 0
	h := newHarness(t, cfg, scenarioRunners(), exec)
	p := &countingProgress{}
	h.dispatcher.SetProgress(p)

	require.NoError(t, h.dispatcher.Run(context.Background(), []*domain.Shard{
		shard("shard-001", 0, domain.PriorityMedium, time.Second, "a", "b"),
		shard("shard-002", 1, domain.PriorityMedium, time.Second, "c"),
	}))
	assert.Equal(t, 2, p.passed)
	assert.Equal(t, 1, p.failed)
	assert.True(t, p.finished)
}
