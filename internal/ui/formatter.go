package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"tss/internal/domain"
	"tss/internal/parser"
)

// Formatter formats and displays run output
type Formatter struct {
	out io.Writer

	cyan   *color.Color
	green  *color.Color
	red    *color.Color
	yellow *color.Color
}

// NewFormatter creates a new Formatter writing to out
func NewFormatter(out io.Writer) *Formatter {
	return &Formatter{
		out:    out,
		cyan:   color.New(color.FgCyan),
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed),
		yellow: color.New(color.FgYellow),
	}
}

// PrintSummary prints the run statistics, runner utilization, insights and
// a tree of failed tests.
func (f *Formatter) PrintSummary(s domain.RunSummary) {
	fmt.Fprintln(f.out)
	f.cyan.Fprintln(f.out, "╔═══════════════════════════════════════════════════════════════╗")
	f.cyan.Fprintln(f.out, "║                    Test Shard Run Statistics                  ║")
	f.cyan.Fprintln(f.out, "╚═══════════════════════════════════════════════════════════════╝")

	t := f.newTable()
	t.SetTitle(fmt.Sprintf("Run %s (%s)", s.RunID, formatDuration(s.Duration)))
	t.AppendRows([]table.Row{
		{"Total Tests", s.TotalTests},
		{"Completed", s.Completed},
		{"Failed", s.Failed},
		{"Success Rate", fmt.Sprintf("%.1f%%", s.SuccessRate*100)},
		{"Average Execution", fmt.Sprintf("%.0fms", s.AverageExecutionMs)},
		{"Total Cost", fmt.Sprintf("%.4f", s.TotalCost)},
		{"Peak Concurrency", fmt.Sprintf("%d / %d", s.PeakConcurrency, s.MaxConcurrency)},
		{"Shards", len(s.Shards)},
		{"Started", s.StartedAt.Format(time.RFC3339)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	t.Render()

	f.printUtilization(s.RunnerUtilization)
	f.printInsights(s.Insights)

	fmt.Fprintln(f.out)
	switch {
	case s.Aborted:
		f.yellow.Fprintf(f.out, "! Run aborted: %d test(s) did not finish\n", s.TotalTests-s.Completed)
	case s.Failed == 0:
		f.green.Fprintln(f.out, "✓ All tests passed!")
	default:
		f.red.Fprintf(f.out, "✗ %d test(s) failed\n", s.Failed)
	}
	if len(s.Failures) > 0 {
		fmt.Fprintln(f.out)
		f.printFailedTestsTree(s.Failures)
	}
}

func (f *Formatter) printUtilization(util map[string]domain.RunnerUtilization) {
	if len(util) == 0 {
		return
	}
	ids := make([]string, 0, len(util))
	for id := range util {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	t := f.newTable()
	t.SetTitle("Runner Utilization")
	t.AppendHeader(table.Row{"Runner", "Executed", "Failure Rate", "Avg Duration", "Cost Effectiveness", "Health", "Unit Cost"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Executed", Align: text.AlignRight},
		{Name: "Failure Rate", Align: text.AlignRight},
		{Name: "Avg Duration", Align: text.AlignRight},
		{Name: "Cost Effectiveness", Align: text.AlignRight},
		{Name: "Health", Align: text.AlignRight},
		{Name: "Unit Cost", Align: text.AlignRight},
	})
	for _, id := range ids {
		u := util[id]
		t.AppendRow(table.Row{
			id,
			u.TotalExecuted,
			fmt.Sprintf("%.0f%%", u.FailureRate*100),
			fmt.Sprintf("%.0fms", u.AverageDurationMs),
			fmt.Sprintf("%.1f", u.CostEffectiveness),
			fmt.Sprintf("%.2f", u.HealthScore),
			fmt.Sprintf("%.4f", u.UnitCost),
		})
	}
	t.Render()
}

func (f *Formatter) printInsights(ins domain.Insights) {
	fmt.Fprintln(f.out)
	f.cyan.Fprintln(f.out, "Insights")
	best := func(label, id string) {
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(f.out, "  %-22s %s\n", label, f.yellow.Sprint(id))
	}
	best("Most cost effective:", ins.MostCostEffectiveRunner)
	best("Fastest:", ins.FastestRunner)
	best("Most reliable:", ins.MostReliableRunner)
	for _, b := range ins.Bottlenecks {
		fmt.Fprintf(f.out, "  %s %s\n", f.red.Sprint("bottleneck:"), b)
	}
	for _, r := range ins.ScalingRecommendations {
		fmt.Fprintf(f.out, "  %s %s\n", f.green.Sprint("scaling:"), r)
	}
}

// PrintPlan prints the shard queue without executing it.
func (f *Formatter) PrintPlan(shards []*domain.Shard, showTests bool) {
	if len(shards) == 0 {
		f.yellow.Fprintln(f.out, "No tests to schedule.")
		return
	}

	var tests int
	var total time.Duration
	t := f.newTable()
	t.SetTitle("Shard Plan")
	t.AppendHeader(table.Row{"Shard", "Tests", "Estimated", "Priority", "Requirements"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Estimated", Align: text.AlignRight},
		{Name: "Requirements", WidthMax: 40, WidthMaxEnforcer: text.WrapSoft},
	})
	for _, sh := range shards {
		tests += sh.Len()
		total += sh.Duration
		t.AppendRow(table.Row{sh.ID, sh.Len(), formatDuration(sh.Duration), sh.Priority.String(), sh.Requirements.String()})
		if showTests {
			for i, id := range sh.TestIDs() {
				prefix := "├─"
				if i == sh.Len()-1 {
					prefix = "└─"
				}
				t.AppendRow(table.Row{"", prefix + " " + id, formatDuration(sh.Tests[i].Duration), "", ""})
			}
			t.AppendSeparator()
		}
	}
	t.AppendFooter(table.Row{"TOTAL", tests, formatDuration(total), "", ""})
	t.Render()
}

func (f *Formatter) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(f.out)
	t.SetStyle(table.StyleLight)
	return t
}

// TreeNode represents a node in the package tree of failures
type TreeNode struct {
	Name     string
	Children map[string]*TreeNode
	Failures []domain.TestFailure
}

// printFailedTestsTree prints failed tests grouped under their package path
func (f *Formatter) printFailedTestsTree(failures []domain.TestFailure) {
	root := &TreeNode{Children: make(map[string]*TreeNode)}
	for _, failure := range failures {
		pkg, _, ok := parser.SplitTestID(failure.TestID)
		if !ok {
			pkg = "(no package)"
		}
		current := root
		for _, part := range strings.Split(strings.TrimPrefix(pkg, "./"), "/") {
			if part == "" {
				continue
			}
			if current.Children[part] == nil {
				current.Children[part] = &TreeNode{Name: part, Children: make(map[string]*TreeNode)}
			}
			current = current.Children[part]
		}
		current.Failures = append(current.Failures, failure)
	}
	f.printTreeNode(root, "")
}

func (f *Formatter) printTreeNode(node *TreeNode, prefix string) {
	var keys []string
	for key := range node.Children {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := len(keys) + len(node.Failures)
	n := 0
	for _, failure := range node.Failures {
		n++
		connector, _ := branch(prefix, n == entries)
		name := failure.TestID
		if _, short, ok := parser.SplitTestID(failure.TestID); ok {
			name = short
		}
		f.red.Fprintf(f.out, "%s%s", connector, name)
		fmt.Fprintf(f.out, " (%s)\n", failure.Cause)
	}
	for _, key := range keys {
		n++
		connector, next := branch(prefix, n == entries)
		f.cyan.Fprintf(f.out, "%s%s\n", connector, key)
		f.printTreeNode(node.Children[key], next)
	}
}

func branch(prefix string, last bool) (connector, next string) {
	if last {
		return prefix + "└── ", prefix + "    "
	}
	return prefix + "├── ", prefix + "│   "
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
