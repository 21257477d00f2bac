package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"tss/internal/config"
	"tss/internal/domain"
	"tss/internal/parser"
)

// outputTail bounds how much command output is quoted in a fault.
const outputTail = 2048

// CommandExecutor runs a shard as one test command per package. Test ids have
// the form <pkg>.<TestName>; each package gets `<command> -run '^(A|B)$' <pkg>`.
type CommandExecutor struct {
	command []string
	workDir string
	runners map[string]domain.RunnerSpec
	parser  parser.Parser
	log     zerolog.Logger
}

// NewCommandExecutor creates a new CommandExecutor
func NewCommandExecutor(cfg config.ExecutorConfig, runners []domain.RunnerSpec, p parser.Parser, log zerolog.Logger) (*CommandExecutor, error) {
	if len(cfg.Command) == 0 {
		return nil, &domain.ConfigError{Field: "executor.command", Reason: "must not be empty"}
	}
	byID := make(map[string]domain.RunnerSpec, len(runners))
	for _, r := range runners {
		byID[r.ID] = r
	}
	return &CommandExecutor{
		command: cfg.Command,
		workDir: cfg.WorkDir,
		runners: byID,
		parser:  p,
		log:     log.With().Str("component", "executor").Logger(),
	}, nil
}

// Execute implements Executor.
func (e *CommandExecutor) Execute(ctx context.Context, shard *domain.Shard) ([]domain.TestOutcome, error) {
	pkgs, names, err := groupByPackage(shard.TestIDs())
	if err != nil {
		return nil, err
	}

	var outcomes []domain.TestOutcome
	for _, pkg := range pkgs {
		out, err := e.run(ctx, shard, pkg, names[pkg])
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, out...)
	}
	return outcomes, nil
}

func (e *CommandExecutor) run(ctx context.Context, shard *domain.Shard, pkg string, names []string) ([]domain.TestOutcome, error) {
	args := append([]string(nil), e.command[1:]...)
	args = append(args, "-run", RunPattern(names), pkg)
	cmd := exec.CommandContext(ctx, e.command[0], args...)

	// Set environment variables
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env,
		"TSS_RUNNER_ID="+shard.RunnerID,
		"TSS_RUNNER_REGION="+e.runners[shard.RunnerID].Region,
		"TSS_SHARD_ID="+shard.ID,
	)
	cmd.Dir = e.workDir

	e.log.Debug().Str("shard", shard.ID).Str("runner", shard.RunnerID).Str("package", pkg).
		Strs("args", args).Msg("Running test command")

	output, runErr := cmd.CombinedOutput()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("run %s: %w", pkg, ctxErr)
	}

	outcomes, err := e.parser.Parse(pkg, bytes.NewReader(output))
	if err != nil {
		return nil, fmt.Errorf("parse output of %s: %w", pkg, err)
	}

	// A failing test exits non-zero too; only a run that reported nothing is a fault.
	if runErr != nil && len(outcomes) == 0 {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("run %s: exit code %d: %s", pkg, exitErr.ExitCode(), tail(output))
		}
		return nil, fmt.Errorf("run %s: %w", pkg, runErr)
	}
	return outcomes, nil
}

// RunPattern builds an anchored -run expression matching exactly names.
func RunPattern(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = regexp.QuoteMeta(n)
	}
	return "^(" + strings.Join(quoted, "|") + ")$"
}

// groupByPackage splits test ids by package, keeping first-seen package order.
func groupByPackage(ids []string) ([]string, map[string][]string, error) {
	var pkgs []string
	names := make(map[string][]string)
	for _, id := range ids {
		pkg, name, ok := parser.SplitTestID(id)
		if !ok {
			return nil, nil, fmt.Errorf("test id %q is not of the form <package>.<TestName>", id)
		}
		if _, seen := names[pkg]; !seen {
			pkgs = append(pkgs, pkg)
		}
		names[pkg] = append(names[pkg], name)
	}
	return pkgs, names, nil
}

func tail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > outputTail {
		s = "..." + s[len(s)-outputTail:]
	}
	return s
}
