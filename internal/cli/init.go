package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PeacheyByte/sellventory-companion/internal/cli/appctx"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an empty local library",
	Long: `Init creates the library database with the current schema and an empty
images directory. Running it on an existing library leaves the data alone
and adds any sync columns the database is missing.`,
	Args: exactArgs(0),
	RunE: appctx.WithApp(appctx.Options{NeedsStore: true, Create: true}, runInit),
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(ctx context.Context, app *appctx.App, cmd *cobra.Command, args []string) error {
	added, err := app.Store.EnsureSyncColumns(ctx)
	if err != nil {
		return exitError(ExitFailure, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Library: %s\n", absPath(app.Store.Path()))
	fmt.Fprintf(out, "Images:  %s\n", absPath(app.Store.ImagesDir()))
	if len(added) > 0 {
		fmt.Fprintf(out, "Added columns: %v\n", added)
	}
	return nil
}
