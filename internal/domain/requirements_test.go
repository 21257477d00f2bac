package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequirements_Merge(t *testing.T) {
	a := NewRequirements(2, 0, "docker", "linux")
	b := NewRequirements(1, 3, "gpu", "Docker")
	c := NewRequirements(4, 1)

	t.Run("union and max", func(t *testing.T) {
		got := a.Merge(b)
		assert.Equal(t, []string{"docker", "gpu", "linux"}, got.Capabilities)
		assert.Equal(t, 2, got.MemoryTier)
		assert.Equal(t, 3, got.CPUTier)
	})

	t.Run("commutative", func(t *testing.T) {
		assert.Equal(t, a.Merge(b), b.Merge(a))
	})

	t.Run("associative", func(t *testing.T) {
		assert.Equal(t, a.Merge(b).Merge(c), a.Merge(b.Merge(c)))
	})

	t.Run("monotonic", func(t *testing.T) {
		sets := []Requirements{{}, a, b, c, a.Merge(c)}
		for _, x := range sets {
			for _, y := range sets {
				m := x.Merge(y)
				assert.True(t, m.Contains(x), "merge(%s, %s) must contain %s", x, y, x)
				assert.True(t, m.Contains(y), "merge(%s, %s) must contain %s", x, y, y)
			}
		}
	})

	t.Run("zero value is identity", func(t *testing.T) {
		assert.Equal(t, a, a.Merge(Requirements{}))
	})
}

func TestRequirements_SatisfiedBy(t *testing.T) {
	req := NewRequirements(2, 1, "docker")

	tests := []struct {
		name     string
		spec     RunnerSpec
		expected bool
	}{
		{
			name:     "exact match",
			spec:     RunnerSpec{ID: "r1", Capabilities: []string{"docker"}, MemoryTier: 2, CPUTier: 1},
			expected: true,
		},
		{
			name:     "superset",
			spec:     RunnerSpec{ID: "r2", Capabilities: []string{"gpu", "DOCKER"}, MemoryTier: 4, CPUTier: 4},
			expected: true,
		},
		{
			name:     "missing capability",
			spec:     RunnerSpec{ID: "r3", Capabilities: []string{"gpu"}, MemoryTier: 4, CPUTier: 4},
			expected: false,
		},
		{
			name:     "memory tier too low",
			spec:     RunnerSpec{ID: "r4", Capabilities: []string{"docker"}, MemoryTier: 1, CPUTier: 4},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, req.SatisfiedBy(tt.spec))
		})
	}
}

func TestRequirements_Complexity(t *testing.T) {
	assert.Equal(t, 0, Requirements{}.Complexity())
	assert.Equal(t, 5, NewRequirements(2, 1, "docker", "gpu", "docker").Complexity())
}
