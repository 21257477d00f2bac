package commands

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tss/internal/cli"
	"tss/internal/config"
	"tss/internal/logging"
	"tss/internal/storage"
)

// Commands holds all CLI commands
type Commands struct {
	Run     *RunCommand
	Plan    *PlanCommand
	Migrate *MigrateCommand
	View    *ViewCommand
}

// NewCommands creates all commands. cfg is replaced with the loaded
// configuration before any command executes.
func NewCommands(cfg *config.Config) *Commands {
	env := &environment{config: cfg, out: os.Stdout, errOut: os.Stderr}
	return &Commands{
		Run:     &RunCommand{env: env},
		Plan:    &PlanCommand{env: env},
		Migrate: &MigrateCommand{env: env},
		View:    &ViewCommand{env: env},
	}
}

// environment is shared by every command: the loaded config and where output goes.
type environment struct {
	config *config.Config
	out    io.Writer
	errOut io.Writer
}

func (e *environment) logger() zerolog.Logger {
	return logging.New(e.config.LogLevel, e.errOut)
}

func (e *environment) openStorage(ctx context.Context) (storage.Storage, error) {
	return storage.Open(ctx, e.config)
}

// history loads per-test success rates. Missing history is not an error.
func (e *environment) history(ctx context.Context, st storage.Storage, log zerolog.Logger) storage.History {
	rates, err := st.SuccessRates(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNoRuns) {
			log.Warn().Err(err).Msg("Failed to load test history, planning without it")
		}
		return nil
	}
	log.Debug().Int("tests", len(rates)).Msg("Loaded test history")
	return storage.History(rates)
}

// Register registers all commands with cobra
func (c *Commands) Register(rootCmd *cobra.Command, flags *cli.Flags, cfg *config.Config) {
	rootCmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&flags.EnvFile, "env-file", config.DefaultEnvFile, "Path to a .env file with TSS_* overrides")
	rootCmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flags.StorageDriver, "storage", "", "Results storage driver (json, mysql, sqlite)")
	rootCmd.PersistentFlags().StringVar(&flags.DSN, "dsn", "", "Database DSN for the mysql and sqlite drivers")

	// Every command works on the loaded config rather than the defaults
	loadConfig := func(cmd *cobra.Command, args []string) error {
		loaded, err := cli.LoadConfig(flags)
		if err != nil {
			return err
		}
		*cfg = *loaded
		return nil
	}

	discoveryFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&flags.CatalogPath, "catalog", "", "YAML test catalog; when empty tests are discovered by scanning")
		cmd.Flags().StringVarP(&flags.ScanPath, "test-path", "t", "", "Path to the folder where test discovery should start")
		cmd.Flags().StringVarP(&flags.NameFilter, "filter", "f", "", "Filter tests by name pattern (supports wildcards, e.g., '*User*')")
		cmd.Flags().IntVarP(&flags.MaxConcurrentShards, "concurrency", "p", 0, "Maximum shards executing at once")
		cmd.Flags().DurationVar(&flags.TargetShardDuration, "target-duration", 0, "Target estimated duration per shard")
		cmd.Flags().IntVar(&flags.MaxRetries, "max-retries", -1, "Re-dispatches allowed after a shard execution fault")
	}

	runCmd := &cobra.Command{
		Use:     "run",
		Short:   "Run tests in shards across runners",
		Long:    "Discover tests, pack them into duration-bounded shards and execute them across runners under a concurrency budget",
		RunE:    c.Run.Execute,
		PreRunE: loadConfig,
	}
	discoveryFlags(runCmd)
	runCmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	runCmd.Flags().BoolVar(&flags.AbandonInFlight, "abandon-in-flight", false, "Cancel executing shards on interrupt instead of letting them finish")
	runCmd.Flags().BoolVar(&flags.NoProgress, "no-progress", false, "Disable the progress bar")
	runCmd.Flags().BoolVar(&flags.OpenViewer, "open-failures", false, "Open the failure viewer when the run finishes with failures")
	rootCmd.AddCommand(runCmd)

	planCmd := &cobra.Command{
		Use:     "plan",
		Short:   "Show the shard plan",
		Long:    "Discover tests and print the shards they would be packed into, without executing them",
		RunE:    c.Plan.Execute,
		PreRunE: loadConfig,
	}
	discoveryFlags(planCmd)
	planCmd.Flags().BoolVar(&flags.ShowTests, "tests", false, "List the tests of each shard")
	rootCmd.AddCommand(planCmd)

	migrateCmd := &cobra.Command{
		Use:     "migrate",
		Short:   "Create the results database schema",
		Long:    "Create the database (MySQL) and the tables used by the mysql and sqlite storage drivers",
		RunE:    c.Migrate.Execute,
		PreRunE: loadConfig,
	}
	rootCmd.AddCommand(migrateCmd)

	viewCmd := &cobra.Command{
		Use:     "view",
		Short:   "View test failures interactively",
		Long:    "Display the failures of the last stored run in an interactive viewer",
		RunE:    c.View.Execute,
		PreRunE: loadConfig,
	}
	rootCmd.AddCommand(viewCmd)
}
