package discovery

import (
	"path/filepath"
	"strings"

	"tss/internal/domain"
	"tss/internal/parser"
)

// Filter filters test cases by name pattern
type Filter struct{}

// NewFilter creates a new Filter
func NewFilter() *Filter {
	return &Filter{}
}

// FilterByName keeps tests whose name matches pattern. The name is the part
// of the id after the package, e.g. TestCreateUser in ./users.TestCreateUser.
// Supports wildcard patterns like "*User" or "*Payment*"; a pattern without
// wildcards is a substring match.
func (f *Filter) FilterByName(tests []domain.TestCase, pattern string) []domain.TestCase {
	if pattern == "" {
		return tests
	}

	var filtered []domain.TestCase
	for _, tc := range tests {
		if matchName(testName(tc.ID), pattern) {
			filtered = append(filtered, tc)
		}
	}
	return filtered
}

func testName(id string) string {
	if _, name, ok := parser.SplitTestID(id); ok {
		return name
	}
	return id
}

func matchName(name, pattern string) bool {
	if !strings.ContainsAny(pattern, "*?") {
		return strings.Contains(name, pattern)
	}
	// Test names never contain a separator, so filepath.Match applies to the whole name
	matched, err := filepath.Match(pattern, name)
	return err == nil && matched
}
