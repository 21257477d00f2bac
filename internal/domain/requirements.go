package domain

import (
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Requirements is the set of capabilities and resource tiers a test or shard needs.
// The zero value needs nothing.
type Requirements struct {
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities"`
	MemoryTier   int      `json:"memory_tier,omitempty" yaml:"memory"`
	CPUTier      int      `json:"cpu_tier,omitempty" yaml:"cpu"`
}

// NewRequirements returns requirements with normalized capabilities.
func NewRequirements(memoryTier, cpuTier int, capabilities ...string) Requirements {
	return Requirements{
		Capabilities: normalizeCapabilities(capabilities),
		MemoryTier:   memoryTier,
		CPUTier:      cpuTier,
	}
}

// Merge returns the union of capabilities and the max of every tier.
// It is commutative, associative and monotonic.
func (r Requirements) Merge(o Requirements) Requirements {
	caps := make([]string, 0, len(r.Capabilities)+len(o.Capabilities))
	caps = append(caps, r.Capabilities...)
	caps = append(caps, o.Capabilities...)
	return Requirements{
		Capabilities: normalizeCapabilities(caps),
		MemoryTier:   max(r.MemoryTier, o.MemoryTier),
		CPUTier:      max(r.CPUTier, o.CPUTier),
	}
}

// Contains reports whether r demands at least everything o demands.
func (r Requirements) Contains(o Requirements) bool {
	if r.MemoryTier < o.MemoryTier || r.CPUTier < o.CPUTier {
		return false
	}
	return hasAll(r.Capabilities, o.Capabilities)
}

// Complexity is the size of the requirement set used by the planner.
func (r Requirements) Complexity() int {
	return len(normalizeCapabilities(r.Capabilities)) + r.MemoryTier + r.CPUTier
}

// SatisfiedBy reports whether a runner offers every capability and tier.
func (r Requirements) SatisfiedBy(spec RunnerSpec) bool {
	if spec.MemoryTier < r.MemoryTier || spec.CPUTier < r.CPUTier {
		return false
	}
	return hasAll(spec.Capabilities, r.Capabilities)
}

func (r Requirements) String() string {
	var b strings.Builder
	b.WriteString("caps=[")
	b.WriteString(strings.Join(normalizeCapabilities(r.Capabilities), ","))
	b.WriteString("]")
	if r.MemoryTier > 0 {
		b.WriteString(" mem>=")
		b.WriteString(strconv.Itoa(r.MemoryTier))
	}
	if r.CPUTier > 0 {
		b.WriteString(" cpu>=")
		b.WriteString(strconv.Itoa(r.CPUTier))
	}
	return b.String()
}

func hasAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	for _, c := range want {
		if _, ok := set[strings.ToLower(strings.TrimSpace(c))]; !ok {
			return false
		}
	}
	return true
}

func normalizeCapabilities(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
