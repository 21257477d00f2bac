package domain

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies a test case.
type Kind string

const (
	KindUnit        Kind = "unit"
	KindIntegration Kind = "integration"
	KindComponent   Kind = "component"
	KindEndToEnd    Kind = "e2e"
)

// ParseKind parses a kind name, defaulting to unit for an empty string.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unit":
		return KindUnit, nil
	case "integration":
		return KindIntegration, nil
	case "component":
		return KindComponent, nil
	case "e2e", "end-to-end", "endtoend":
		return KindEndToEnd, nil
	}
	return "", fmt.Errorf("unknown test kind %q", s)
}

// Priority of a test case. Higher values are scheduled first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
)

// ParsePriority parses a priority name, defaulting to medium for an empty string.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, nil
	case "", "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// Value returns the numeric weight used by the planner.
func (p Priority) Value() float64 {
	if p < PriorityLow {
		return float64(PriorityLow)
	}
	if p > PriorityHigh {
		return float64(PriorityHigh)
	}
	return float64(p)
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "medium"
	}
}

// TestCase is a discovered test. It is never mutated by the scheduler.
type TestCase struct {
	ID           string
	Kind         Kind
	Duration     time.Duration // estimated
	Priority     Priority
	Requirements Requirements
}

// TestStatus is the outcome of a single test execution.
type TestStatus string

const (
	TestStatusPass TestStatus = "pass"
	TestStatusFail TestStatus = "fail"
	TestStatusSkip TestStatus = "skip"
)

// TestOutcome is the per-test result reported by an executor.
type TestOutcome struct {
	TestID   string        `json:"test_id"`
	Status   TestStatus    `json:"status"`
	Duration time.Duration `json:"duration"`
	Output   string        `json:"output,omitempty"`
}

// Passed reports whether the outcome counts as completed.
func (o TestOutcome) Passed() bool {
	return o.Status == TestStatusPass || o.Status == TestStatusSkip
}
