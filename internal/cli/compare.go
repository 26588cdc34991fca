package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PeacheyByte/sellventory-companion/internal/archive"
	"github.com/PeacheyByte/sellventory-companion/internal/cli/appctx"
	"github.com/PeacheyByte/sellventory-companion/internal/render"
	"github.com/PeacheyByte/sellventory-companion/internal/snapshot"
	"github.com/PeacheyByte/sellventory-companion/internal/store"
)

var compareCmd = &cobra.Command{
	Use:   "compare <archive.zip|store.db>",
	Short: "Compare the local library with another store",
	Long: `Compare builds canonical snapshots of the local library and of another
store and lists the records that differ. Replicas that have converged
report the same snapshot revision and no differences.`,
	Args: exactArgs(1),
	RunE: appctx.WithApp(appctx.DefaultOptions(), runCompare),
}

var compareJSON bool

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().BoolVar(&compareJSON, "json", false, "Output as JSON")
}

type comparison struct {
	LocalRev string            `json:"local_rev" yaml:"local_rev"`
	OtherRev string            `json:"other_rev" yaml:"other_rev"`
	Changes  []snapshot.Change `json:"changes" yaml:"changes"`
}

func (c *comparison) Headers() []string {
	return []string{"ID", "CHANGE", "FIELDS"}
}

func (c *comparison) Rows() [][]string {
	rows := make([][]string, 0, len(c.Changes))
	for _, ch := range c.Changes {
		rows = append(rows, []string{ch.ID, string(ch.Kind), strings.Join(ch.Fields, ",")})
	}
	return rows
}

func runCompare(ctx context.Context, app *appctx.App, cmd *cobra.Command, args []string) error {
	r, err := newRenderer(cmd, app, compareJSON)
	if err != nil {
		return err
	}

	staged, err := archive.Stage(ctx, args[0], archive.Options{TempDir: app.Config.TempDir, Logger: app.Logger})
	if err != nil {
		return err
	}
	defer staged.Close()

	other, err := store.OpenIncoming(ctx, staged.DBPath, staged.ImagesDir)
	if err != nil {
		return err
	}
	defer other.Close()

	local, _, err := snapshot.FromStore(ctx, app.Store)
	if err != nil {
		return err
	}
	remote, _, err := snapshot.FromStore(ctx, other)
	if err != nil {
		return err
	}

	// The table name takes part in the revision; compare content only.
	remote.Meta.Table = local.Meta.Table
	data, err := snapshot.CanonicalJSON(remote)
	if err != nil {
		return err
	}
	remote.Meta.SnapshotRev = snapshot.ComputeSnapshotRev(data)

	// Changes read as what the other store has that the library lacks.
	result := &comparison{
		LocalRev: local.Meta.SnapshotRev,
		OtherRev: remote.Meta.SnapshotRev,
		Changes:  snapshot.Compare(local, remote),
	}

	switch r.Format() {
	case render.FormatJSON:
		return r.RenderJSON(result)
	case render.FormatYAML:
		return r.RenderYAML(result)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "local: %s\nother: %s\n", result.LocalRev, result.OtherRev)
	if len(result.Changes) == 0 {
		fmt.Fprintln(out, "Stores hold the same records")
		return nil
	}
	fmt.Fprintln(out)
	return r.Render(result)
}
