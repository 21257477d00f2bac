package main

import (
	"fmt"
	"os"

	"tss/internal/cli"
	"tss/internal/cli/commands"
	"tss/internal/config"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "tss",
		Short: "Test shard scheduler",
		Long: `Packs Go tests into duration-bounded shards and runs them across heterogeneous runners,
picking runners by capacity, cost and health, retrying failed shards elsewhere and summarizing cost and reliability.`,
		Version:      version,
		SilenceUsage: true,
	}

	// Create initial config with defaults
	cfg := config.New()

	// Create flags struct (will be populated by command flags)
	var flags cli.Flags

	cmds := commands.NewCommands(cfg)
	cmds.Register(rootCmd, &flags, cfg)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
