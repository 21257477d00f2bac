package commands

import (
	"errors"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tss/internal/storage"
	"tss/internal/ui"
)

// ViewCommand handles the view command
type ViewCommand struct {
	env *environment
}

// Execute runs the command
func (vc *ViewCommand) Execute(cmd *cobra.Command, args []string) error {
	st, err := vc.env.openStorage(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	summary, err := st.Load(cmd.Context())
	if errors.Is(err, storage.ErrNoRuns) {
		color.Yellow("No stored runs yet, execute `tss run` first")
		return nil
	}
	if err != nil {
		return err
	}

	var viewer ui.Viewer = ui.NewFailureViewer(st, vc.env.logger())
	return viewer.View(summary)
}
