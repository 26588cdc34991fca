package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sellv",
	Short: "Merge and export Sellventory inventory libraries",
	Long: `sellv keeps a local Sellventory library in sync with copies exported
from other devices. Incoming archives or bare database files are merged
record by record: newer edits win, deletions propagate as tombstones and
images are stored once by content hash.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("library", "", "Library directory (overrides SELLV_LIBRARY_DIR)")
	rootCmd.PersistentFlags().String("db", "", "Path to the local database (overrides SELLV_DB_PATH)")
	rootCmd.PersistentFlags().String("images", "", "Local images directory (overrides SELLV_IMAGES_DIR)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output format: table, json, yaml or tsv (overrides SELLV_OUTPUT)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error (overrides SELLV_LOG_LEVEL)")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return exitError(ExitUsage, err)
	})
}
