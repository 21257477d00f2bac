// Package discovery builds the test catalog for a run, either from a YAML
// catalog file or by scanning Go test files.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"tss/internal/config"
	"tss/internal/domain"
)

// catalogFile is the on-disk catalog layout:
//
//	tests:
//	  - id: ./internal/users.TestCreateUser
//	    kind: integration
//	    duration: 12s
//	    priority: high
//	    requirements: {capabilities: [docker], memory: 2}
type catalogFile struct {
	Tests []catalogEntry `yaml:"tests"`
}

type catalogEntry struct {
	ID           string              `yaml:"id"`
	Kind         string              `yaml:"kind"`
	Duration     time.Duration       `yaml:"duration"`
	Priority     string              `yaml:"priority"`
	Requirements domain.Requirements `yaml:"requirements"`
}

// LoadCatalog reads test cases from a YAML catalog file. Entries without a
// duration get defaultDuration.
func LoadCatalog(path string, defaultDuration time.Duration) ([]domain.TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	tests := make([]domain.TestCase, 0, len(file.Tests))
	for i, e := range file.Tests {
		if strings.TrimSpace(e.ID) == "" {
			return nil, fmt.Errorf("catalog %s: entry %d has no id", path, i)
		}
		kind, err := domain.ParseKind(e.Kind)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %s: %w", path, e.ID, err)
		}
		priority, err := domain.ParsePriority(e.Priority)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %s: %w", path, e.ID, err)
		}
		if e.Duration < 0 {
			return nil, fmt.Errorf("catalog %s: %s: negative duration", path, e.ID)
		}
		if e.Duration == 0 {
			e.Duration = defaultDuration
		}
		tests = append(tests, domain.TestCase{
			ID:       e.ID,
			Kind:     kind,
			Duration: e.Duration,
			Priority: priority,
			Requirements: domain.NewRequirements(
				e.Requirements.MemoryTier, e.Requirements.CPUTier, e.Requirements.Capabilities...),
		})
	}
	return tests, nil
}

// Discover returns the catalog for cfg: the catalog file when one is set,
// otherwise every test function found under ScanPath. The name filter from
// the command line is applied last.
func Discover(cfg *config.Config, log zerolog.Logger) ([]domain.TestCase, error) {
	var (
		tests []domain.TestCase
		err   error
	)
	if cfg.CatalogPath != "" {
		tests, err = LoadCatalog(cfg.CatalogPath, config.DefaultTestDuration)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("catalog", cfg.CatalogPath).Int("tests", len(tests)).Msg("Loaded catalog")
	} else {
		tests, err = scanTests(cfg.ScanPath, cfg.PathsToIgnore, log)
		if err != nil {
			return nil, err
		}
	}

	if pattern := cfg.Flags.NameFilter; pattern != "" {
		tests = NewFilter().FilterByName(tests, pattern)
		log.Debug().Str("filter", pattern).Int("tests", len(tests)).Msg("Applied name filter")
	}
	return tests, nil
}

func scanTests(root string, ignore []string, log zerolog.Logger) ([]domain.TestCase, error) {
	files, err := NewScanner(ignore).Scan(root)
	if err != nil {
		return nil, err
	}

	p := NewParser()
	var tests []domain.TestCase
	for _, file := range files {
		names, err := p.FindTestCases(file)
		if err != nil {
			return nil, err
		}
		pkg := PackagePath(file)
		kind := kindFromPath(file)
		for _, name := range names {
			tests = append(tests, domain.TestCase{
				ID:       pkg + "." + name,
				Kind:     kind,
				Duration: config.DefaultTestDuration,
				Priority: domain.PriorityMedium,
			})
		}
	}
	sort.Slice(tests, func(i, j int) bool { return tests[i].ID < tests[j].ID })

	log.Debug().Str("path", root).Int("files", len(files)).Int("tests", len(tests)).Msg("Scanned test files")
	return tests, nil
}

// kindFromPath guesses the kind from directory names such as integration/ or e2e/.
func kindFromPath(file string) domain.Kind {
	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(file)), "/") {
		switch strings.ToLower(part) {
		case "integration":
			return domain.KindIntegration
		case "component":
			return domain.KindComponent
		case "e2e", "endtoend":
			return domain.KindEndToEnd
		}
	}
	return domain.KindUnit
}
