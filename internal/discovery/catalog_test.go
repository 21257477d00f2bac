package discovery

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tss/internal/config"
	"tss/internal/domain"
	"tss/internal/logging"
)

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"catalog.yaml": `
tests:
  - id: ./users.TestCreateUser
    kind: integration
    duration: 12s
    priority: high
    requirements:
      capabilities: [postgres, docker, docker]
      memory: 2
  - id: ./users.TestLogin
`})

	tests, err := LoadCatalog(filepath.Join(dir, "catalog.yaml"), 5*time.Second)
	require.NoError(t, err)
	require.Len(t, tests, 2)

	assert.Equal(t, domain.TestCase{
		ID:           "./users.TestCreateUser",
		Kind:         domain.KindIntegration,
		Duration:     12 * time.Second,
		Priority:     domain.PriorityHigh,
		Requirements: domain.NewRequirements(2, 0, "docker", "postgres"),
	}, tests[0])
	assert.Equal(t, domain.KindUnit, tests[1].Kind)
	assert.Equal(t, 5*time.Second, tests[1].Duration)
	assert.Equal(t, domain.PriorityMedium, tests[1].Priority)
}

func TestLoadCatalog_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing id", content: "tests:\n  - kind: unit\n"},
		{name: "unknown kind", content: "tests:\n  - id: a.TestA\n    kind: smoke\n"},
		{name: "unknown priority", content: "tests:\n  - id: a.TestA\n    priority: urgent\n"},
		{name: "negative duration", content: "tests:\n  - id: a.TestA\n    duration: -1s\n"},
		{name: "not yaml", content: "tests: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFiles(t, dir, map[string]string{"c.yaml": tt.content})
			_, err := LoadCatalog(filepath.Join(dir, "c.yaml"), time.Second)
			assert.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"), time.Second)
		assert.Error(t, err)
	})
}

func TestDiscover_Scan(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"users/users_test.go":            "package users\n\nfunc TestCreate(t *testing.T) {}\nfunc TestDelete(t *testing.T) {}\n",
		"pay/integration/charge_test.go": "package integration\n\nfunc TestCharge(t *testing.T) {}\n",
		"vendor/dep/dep_test.go":         "package dep\n\nfunc TestDep(t *testing.T) {}\n",
	})

	cfg := config.New()
	cfg.ScanPath = dir
	tests, err := Discover(cfg, logging.Nop())
	require.NoError(t, err)

	want := []string{
		filepath.ToSlash(filepath.Join(dir, "pay/integration")) + ".TestCharge",
		filepath.ToSlash(filepath.Join(dir, "users")) + ".TestCreate",
		filepath.ToSlash(filepath.Join(dir, "users")) + ".TestDelete",
	}
	assert.Equal(t, want, ids(tests))
	assert.Equal(t, domain.KindIntegration, tests[0].Kind)
	assert.Equal(t, config.DefaultTestDuration, tests[1].Duration)

	t.Run("name filter", func(t *testing.T) {
		cfg.Flags.NameFilter = "*Delete"
		tests, err := Discover(cfg, logging.Nop())
		require.NoError(t, err)
		require.Len(t, tests, 1)
		assert.Contains(t, tests[0].ID, ".TestDelete")
	})
}

func TestDiscover_CatalogWins(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"catalog.yaml": "tests:\n  - id: ./x.TestOnlyInCatalog\n",
		"x/x_test.go":  "package x\n\nfunc TestScanned(t *testing.T) {}\n",
	})

	cfg := config.New()
	cfg.ScanPath = dir
	cfg.CatalogPath = filepath.Join(dir, "catalog.yaml")
	tests, err := Discover(cfg, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"./x.TestOnlyInCatalog"}, ids(tests))
}
