package ui

import "tss/internal/domain"

// Viewer displays the failures of a stored run
type Viewer interface {
	View(summary *domain.RunSummary) error
}

var _ Viewer = (*FailureViewer)(nil)
