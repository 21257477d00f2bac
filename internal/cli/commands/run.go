package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tss/internal/cli"
	"tss/internal/coordinator"
	"tss/internal/discovery"
	"tss/internal/execution"
	"tss/internal/health"
	"tss/internal/metrics"
	"tss/internal/parser"
	"tss/internal/ui"
)

// RunCommand handles the run command
type RunCommand struct {
	env *environment
}

// Execute runs the command
func (rc *RunCommand) Execute(cmd *cobra.Command, args []string) error {
	cfg := rc.env.config
	log := rc.env.logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tests, err := discovery.Discover(cfg, log)
	if err != nil {
		return err
	}
	if len(tests) == 0 {
		color.Yellow("No tests to execute")
		return nil
	}

	st, err := rc.env.openStorage(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	runners := cli.Runners(cfg)
	executor, err := execution.NewCommandExecutor(cfg.Executor, runners, parser.NewGoTestParser(), log)
	if err != nil {
		return err
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv, err := m.Start(cfg.MetricsAddr, log)
		if err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer srv.Shutdown(context.WithoutCancel(ctx)) //nolint:errcheck
	}

	opts := []coordinator.Option{
		coordinator.WithLogger(log),
		coordinator.WithMetrics(m),
		coordinator.WithHistory(rc.env.history(ctx, st, log)),
		coordinator.WithSink(st),
		coordinator.WithProber(health.NewHTTPProber(cfg.HealthCheckInterval, health.NewStatsProber())),
	}
	var bar *ui.ProgressBar
	if !cfg.Flags.NoProgress {
		bar = ui.NewProgressBar(len(tests), rc.env.errOut)
		opts = append(opts, coordinator.WithProgress(bar))
	}

	summary, err := coordinator.Run(ctx, tests, runners, cfg, executor, opts...)
	if err != nil && summary.RunID == "" {
		return err
	}
	if err != nil {
		// The run finished but persisting it failed; still show the results
		log.Error().Err(err).Msg("Failed to save run summary")
	}

	ui.NewFormatter(rc.env.out).PrintSummary(summary)

	if cfg.Flags.OpenViewer && len(summary.Failures) > 0 {
		var viewer ui.Viewer = ui.NewFailureViewer(st, log)
		if err := viewer.View(&summary); err != nil {
			return err
		}
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d test(s) failed", summary.Failed)
	}
	return nil
}
