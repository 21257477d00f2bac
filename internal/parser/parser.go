// Package parser turns test runner output into per-test outcomes.
package parser

import (
	"io"

	"tss/internal/domain"
)

// Parser parses the output of one package run. Test ids are prefixed with pkg.
type Parser interface {
	Parse(pkg string, r io.Reader) ([]domain.TestOutcome, error)
}

// CountResults returns the number of completed and failed outcomes.
func CountResults(outcomes []domain.TestOutcome) (passed, failed int) {
	for _, o := range outcomes {
		if o.Passed() {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}
