package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"tss/internal/domain"
)

// defaultRecovery is the share of the gap to full health an idle runner
// regains per probe.
const defaultRecovery = 0.25

// StatsProber derives health from the runner's own execution record:
// 1 - totalFailed/totalExecuted. An unhealthy runner receives no work, so when
// its record has not moved since the last probe the score recovers toward 1
// by Recovery of the remaining gap. Without history the current score is kept.
type StatsProber struct {
	Recovery float64

	mu   sync.Mutex
	seen map[string]int
}

// NewStatsProber creates a StatsProber with the default recovery rate.
func NewStatsProber() *StatsProber {
	return &StatsProber{Recovery: defaultRecovery, seen: make(map[string]int)}
}

// Probe implements Prober.
func (p *StatsProber) Probe(_ context.Context, runner domain.RunnerState) (float64, error) {
	executed := runner.Stats.TotalExecuted
	if executed == 0 {
		return runner.HealthScore, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen == nil {
		p.seen = make(map[string]int)
	}
	last, ok := p.seen[runner.Spec.ID]
	p.seen[runner.Spec.ID] = executed
	if ok && last == executed {
		return runner.HealthScore + (1-runner.HealthScore)*p.Recovery, nil
	}
	return 1 - runner.Stats.FailureRate(), nil
}

// StaticProber returns fixed scores. Runners without an entry score Default.
type StaticProber struct {
	mu      sync.Mutex
	scores  map[string]float64
	Default float64
}

// NewStaticProber creates a StaticProber with a default score of 1.
func NewStaticProber(scores map[string]float64) *StaticProber {
	p := &StaticProber{scores: make(map[string]float64, len(scores)), Default: 1}
	for id, s := range scores {
		p.scores[id] = s
	}
	return p
}

// Set changes the score reported for one runner.
func (p *StaticProber) Set(id string, score float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scores[id] = score
}

// Probe implements Prober.
func (p *StaticProber) Probe(_ context.Context, runner domain.RunnerState) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.scores[runner.Spec.ID]; ok {
		return s, nil
	}
	return p.Default, nil
}

// healthResponse is the body served by a runner health endpoint.
type healthResponse struct {
	Score *float64 `json:"score"`
}

// HTTPProber GETs the runner's HealthURL and expects {"score": <0..1>}.
// Runners without a HealthURL are delegated to Fallback.
type HTTPProber struct {
	client   *http.Client
	Fallback Prober
}

// NewHTTPProber creates an HTTPProber with the given request timeout.
func NewHTTPProber(timeout time.Duration, fallback Prober) *HTTPProber {
	return &HTTPProber{
		client:   &http.Client{Timeout: timeout},
		Fallback: fallback,
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, runner domain.RunnerState) (float64, error) {
	url := runner.Spec.HealthURL
	if url == "" {
		if p.Fallback == nil {
			return 1, nil
		}
		return p.Fallback.Probe(ctx, runner)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build health request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("health request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("health endpoint %s returned %s", url, resp.Status)
	}
	var body healthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode health response: %w", err)
	}
	if body.Score == nil {
		return 0, fmt.Errorf("health response from %s has no score", url)
	}
	return *body.Score, nil
}
