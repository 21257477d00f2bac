package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tss/internal/domain"
)

var (
	// ErrUnknownRunner is returned for ids that were never registered.
	ErrUnknownRunner = errors.New("unknown runner")
	// ErrNotSelectable is returned by Acquire when the runner cannot take new work.
	ErrNotSelectable = errors.New("runner not selectable")
	// ErrCorrupt marks an inconsistent runner state, such as releasing an idle runner.
	ErrCorrupt = errors.New("registry corrupted")
)

type entry struct {
	spec   domain.RunnerSpec
	status domain.RunnerStatus
	load   int
	health float64
	stats  domain.RunnerStats
}

func (e *entry) state() domain.RunnerState {
	spec := e.spec
	spec.Capabilities = append([]string(nil), e.spec.Capabilities...)
	return domain.RunnerState{
		Spec:        spec,
		Status:      e.status,
		CurrentLoad: e.load,
		HealthScore: e.health,
		Stats:       e.stats,
	}
}

// Registry holds runner attributes and runtime state. Every method is safe for
// concurrent use; the dispatcher and the health monitor are the writers.
type Registry struct {
	mu        sync.Mutex
	threshold float64
	ids       []string
	runners   map[string]*entry
	changed   chan struct{}
	corrupt   error
}

// New registers the given runners. Runners start Available unless their initial
// health is below threshold.
func New(specs []domain.RunnerSpec, threshold float64) (*Registry, error) {
	r := &Registry{
		threshold: threshold,
		runners:   make(map[string]*entry, len(specs)),
		changed:   make(chan struct{}),
	}
	for _, spec := range specs {
		if _, dup := r.runners[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate runner id %q", spec.ID)
		}
		health := 1.0
		if spec.InitialHealth != nil {
			health = clamp(*spec.InitialHealth)
		}
		e := &entry{spec: spec, health: health}
		e.status = r.statusFor(e)
		r.runners[spec.ID] = e
		r.ids = append(r.ids, spec.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Threshold returns the unhealthy threshold.
func (r *Registry) Threshold() float64 { return r.threshold }

// IDs returns every runner id, sorted.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// Snapshot returns a copy of every runner's state, sorted by id.
func (r *Registry) Snapshot() []domain.RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RunnerState, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.runners[id].state())
	}
	return out
}

// Get returns a copy of one runner's state.
func (r *Registry) Get(id string) (domain.RunnerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runners[id]
	if !ok {
		return domain.RunnerState{}, false
	}
	return e.state(), true
}

// Changed returns a channel closed on the next state change.
func (r *Registry) Changed() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changed
}

// Err returns the first consistency violation seen, if any.
func (r *Registry) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.corrupt
}

// Acquire takes one capacity slot on the runner. It re-checks selectability
// under the lock, so a runner turned unhealthy after a snapshot is refused.
func (r *Registry) Acquire(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runners[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRunner, id)
	}
	if e.status != domain.RunnerAvailable || e.health < r.threshold || e.load >= e.spec.Capacity {
		return fmt.Errorf("%w: %s is %s (load %d/%d, health %.2f)", ErrNotSelectable, id, e.status, e.load, e.spec.Capacity, e.health)
	}
	e.load++
	e.status = r.statusFor(e)
	r.notifyLocked()
	return nil
}

// Release frees one capacity slot. The runner returns to Available unless the
// health monitor marked it Unhealthy in the meantime.
func (r *Registry) Release(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runners[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRunner, id)
	}
	if e.load == 0 {
		err := fmt.Errorf("%w: release of idle runner %s", ErrCorrupt, id)
		if r.corrupt == nil {
			r.corrupt = err
		}
		return err
	}
	e.load--
	e.status = r.statusFor(e)
	r.notifyLocked()
	return nil
}

// RecordExecution folds one shard attempt into the runner's cumulative stats.
func (r *Registry) RecordExecution(id string, elapsed time.Duration, faulted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runners[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRunner, id)
	}
	s := &e.stats
	ms := float64(elapsed) / float64(time.Millisecond)
	s.TotalExecuted++
	s.AverageDurationMs += (ms - s.AverageDurationMs) / float64(s.TotalExecuted)
	if faulted {
		s.TotalFailed++
	}
	return nil
}

// UpdateHealth stores a new health score and applies the status transition.
// Running shards are never interrupted; an Unhealthy runner only stops
// receiving new work.
func (r *Registry) UpdateHealth(id string, score float64) (prev, next domain.RunnerStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runners[id]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownRunner, id)
	}
	prev = e.status
	e.health = clamp(score)
	e.status = r.statusFor(e)
	if e.status != prev {
		r.notifyLocked()
	}
	return prev, e.status, nil
}

func (r *Registry) statusFor(e *entry) domain.RunnerStatus {
	switch {
	case e.health < r.threshold:
		return domain.RunnerUnhealthy
	case e.load >= e.spec.Capacity:
		return domain.RunnerRunning
	default:
		return domain.RunnerAvailable
	}
}

func (r *Registry) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
