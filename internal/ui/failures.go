package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rs/zerolog"

	"tss/internal/domain"
)

// ResolvedSaver persists the resolved flags toggled in the viewer.
type ResolvedSaver interface {
	SaveResolved(ctx context.Context, runID string, failures []domain.TestFailure) error
}

// FailureViewer displays the failed tests of a run in an interactive TUI
type FailureViewer struct {
	store ResolvedSaver
	log   zerolog.Logger
}

// NewFailureViewer creates a new FailureViewer
func NewFailureViewer(store ResolvedSaver, log zerolog.Logger) *FailureViewer {
	return &FailureViewer{store: store, log: log.With().Str("component", "viewer").Logger()}
}

// View shows the failures of summary until the user exits
func (fv *FailureViewer) View(summary *domain.RunSummary) error {
	failures := summary.Failures
	if len(failures) == 0 {
		color.Green("✓ No test failures found!")
		return nil
	}

	save := func() {
		if err := fv.store.SaveResolved(context.Background(), summary.RunID, failures); err != nil {
			fv.log.Error().Err(err).Str("run", summary.RunID).Msg("Failed to save resolved status")
		}
	}

	app := tview.NewApplication()

	list := tview.NewList().
		ShowSecondaryText(false).
		SetHighlightFullLine(true)
	for i := range failures {
		list.AddItem(listItemText(failures[i], i), "", 0, nil)
	}
	list.SetMainTextColor(tview.Styles.PrimaryTextColor).
		SetSelectedTextColor(tcell.ColorWhite).
		SetSelectedBackgroundColor(tcell.ColorDarkCyan).
		SetSecondaryTextColor(tview.Styles.SecondaryTextColor)

	statsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetWordWrap(false)

	detailsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetWordWrap(true)

	detailsContainer := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(detailsView, 0, 1, false).
		AddItem(tview.NewBox(), 2, 0, false)

	rightSide := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(statsView, 3, 0, false).
		AddItem(detailsContainer, 0, 1, false)

	// List on the left (1/3), details on the right (2/3)
	flex := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(list, 0, 1, true).
		AddItem(rightSide, 0, 2, false)

	headerView := tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetDynamicColors(true)
	updateHeader := func() {
		headerView.SetText(headerText(summary.RunID, failures))
	}
	updateHeader()

	updateDetails := func() {
		index := list.GetCurrentItem()
		if index >= 0 && index < len(failures) {
			statsView.SetText(formatFailureStats(failures[index]))
			detailsView.SetText(formatFailureDetails(failures[index]))
			detailsView.ScrollToBeginning()
		}
	}

	list.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEnter, tcell.KeyRight:
			app.SetFocus(detailsView)
			return nil
		case tcell.KeyCtrlC:
			app.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'r', 'R':
				index := list.GetCurrentItem()
				if index >= 0 && index < len(failures) {
					failures[index].Resolved = !failures[index].Resolved
					list.SetItemText(index, listItemText(failures[index], index), "")
					updateHeader()
					save()
				}
				return nil
			case 'q':
				app.Stop()
				return nil
			}
		}
		return event
	})

	detailsView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyLeft, tcell.KeyEsc:
			app.SetFocus(list)
			return nil
		case tcell.KeyCtrlC:
			app.Stop()
			return nil
		}
		return event
	})

	list.SetChangedFunc(func(int, string, string, rune) { updateDetails() })
	updateDetails()

	mainLayout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(headerView, 1, 0, false).
		AddItem(tview.NewBox(), 1, 0, false).
		AddItem(flex, 0, 1, true)

	if err := app.SetRoot(mainLayout, true).SetFocus(list).Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func headerText(runID string, failures []domain.TestFailure) string {
	unresolved := 0
	for _, f := range failures {
		if !f.Resolved {
			unresolved++
		}
	}
	return fmt.Sprintf(" Run %s: %d failed, %d unresolved | ↑↓ navigate, [yellow]R[white] mark resolved, → details, ← back, q to exit ",
		runID, len(failures), unresolved)
}

func listItemText(f domain.TestFailure, index int) string {
	name := f.TestID
	if name == "" {
		name = fmt.Sprintf("Test %d", index+1)
	}
	if f.Resolved {
		return fmt.Sprintf("[gray]✓ [yellow]%d.[gray] %s[white]", index+1, tview.Escape(name))
	}
	return fmt.Sprintf("[yellow]%d.[white] %s", index+1, tview.Escape(name))
}

// formatFailureStats formats the one-line header of a failure using tview color tags
func formatFailureStats(f domain.TestFailure) string {
	runner := f.RunnerID
	if runner == "" {
		runner = "-"
	}
	return fmt.Sprintf("[cyan]shard:[white] [yellow]%s[white]  [cyan]runner:[white] [yellow]%s[white]  [cyan]kind:[white] %s\n",
		f.ShardID, runner, f.Kind)
}

// outputLines bounds how much captured test output the details pane shows.
const outputLines = 200

// formatFailureDetails formats a failure for the details pane using tview color tags
func formatFailureDetails(f domain.TestFailure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[red]✗ Test: %s[white]\n\n", tview.Escape(f.TestID))
	fmt.Fprintf(&b, "[cyan]Cause: %s[white]\n\n", f.Cause)
	if f.Message != "" {
		fmt.Fprintf(&b, "[yellow]Message:[white]\n%s\n\n", tview.Escape(f.Message))
	}
	if f.Output != "" {
		lines := strings.Split(strings.TrimRight(f.Output, "\n"), "\n")
		b.WriteString("[yellow]Output:[white]\n")
		for i, line := range lines {
			if i == outputLines {
				fmt.Fprintf(&b, "[gray]... and %d more lines[white]\n", len(lines)-outputLines)
				break
			}
			b.WriteString(tview.Escape(line))
			b.WriteString("\n")
		}
	}
	return b.String()
}
