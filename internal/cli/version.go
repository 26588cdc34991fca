package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PeacheyByte/sellventory-companion/internal/archive"
	"github.com/PeacheyByte/sellventory-companion/internal/snapshot"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Displays version, commit, and build date information.`,
	Args:  exactArgs(0),
	RunE:  runVersion,
}

var versionJSON bool

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Output as JSON")
}

func runVersion(cmd *cobra.Command, args []string) error {
	if versionJSON {
		output := map[string]any{
			"version":          Version,
			"commit":           GitCommit,
			"build_date":       BuildDate,
			"manifest_version": archive.ManifestVersion,
			"snapshot_version": snapshot.Version,
			"supported_commands": []string{
				"init", "merge", "diff", "compare", "export", "inspect", "stat", "version",
			},
			"supported_formats": []string{"table", "json", "yaml", "tsv"},
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(output)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "sellv version %s\n", Version)
	fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", GitCommit)
	fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", BuildDate)
	fmt.Fprintf(cmd.OutOrStdout(), "  archive manifest: v%d\n", archive.ManifestVersion)

	return nil
}
