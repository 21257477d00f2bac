package commands

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tss/internal/cli"
	"tss/internal/coordinator"
	"tss/internal/discovery"
	"tss/internal/ui"
)

// PlanCommand handles the plan command
type PlanCommand struct {
	env *environment
}

// Execute runs the command
func (pc *PlanCommand) Execute(cmd *cobra.Command, args []string) error {
	cfg := pc.env.config
	log := pc.env.logger()

	tests, err := discovery.Discover(cfg, log)
	if err != nil {
		return err
	}
	if len(tests) == 0 {
		color.Yellow("No tests found")
		return nil
	}

	opts := []coordinator.Option{coordinator.WithLogger(log)}
	// History only refines ordering; planning works without storage
	if st, err := pc.env.openStorage(cmd.Context()); err != nil {
		log.Warn().Err(err).Msg("Storage unavailable, planning without history")
	} else {
		defer st.Close()
		opts = append(opts, coordinator.WithHistory(pc.env.history(cmd.Context(), st, log)))
	}

	shards, err := coordinator.New(cfg, nil, opts...).Plan(tests, cli.Runners(cfg))
	if err != nil {
		return err
	}

	ui.NewFormatter(pc.env.out).PrintPlan(shards, cfg.Flags.ShowTests)
	return nil
}
