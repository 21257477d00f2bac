package commands

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tss/internal/domain"
	"tss/internal/storage"
)

// MigrateCommand handles the migrate command
type MigrateCommand struct {
	env *environment
}

// Execute runs the command
func (mc *MigrateCommand) Execute(cmd *cobra.Command, args []string) error {
	cfg := mc.env.config
	driver := cfg.Storage.Driver
	if driver != storage.DriverMySQL && driver != storage.DriverSQLite {
		return &domain.ConfigError{Field: "storage.driver", Reason: "migrate needs the mysql or sqlite driver"}
	}

	// OpenSQL creates the database and applies the schema
	st, err := storage.OpenSQL(cmd.Context(), driver, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	color.Green("✓ %s schema is up to date", driver)
	return nil
}
