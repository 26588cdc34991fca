package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PeacheyByte/sellventory-companion/internal/archive"
	"github.com/PeacheyByte/sellventory-companion/internal/cli/appctx"
	"github.com/PeacheyByte/sellventory-companion/internal/render"
)

var exportCmd = &cobra.Command{
	Use:   "export <out.zip>",
	Short: "Export the local library as a merge archive",
	Long: `Export writes a zip holding a consistent copy of the library database,
every referenced image under images/ and a manifest.json. The archive can
be merged into another library with 'sellv merge'.`,
	Args: exactArgs(1),
	RunE: appctx.WithApp(appctx.DefaultOptions(), runExport),
}

var (
	exportJSON  bool
	exportForce bool
)

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().BoolVar(&exportJSON, "json", false, "Output the manifest as JSON")
	exportCmd.Flags().BoolVarP(&exportForce, "force", "f", false, "Overwrite an existing output file")
}

func runExport(ctx context.Context, app *appctx.App, cmd *cobra.Command, args []string) error {
	r, err := newRenderer(cmd, app, exportJSON)
	if err != nil {
		return err
	}

	out := args[0]
	if fileExists(out) && !exportForce {
		return exitError(ExitUsage, fmt.Errorf("%s already exists (use --force to overwrite)", out))
	}

	manifest, err := archive.Export(ctx, app.Store, out, archive.ExportOptions{
		TempDir: app.Config.TempDir,
		Logger:  app.Logger,
	})
	if err != nil {
		return err
	}

	if r.Format() == render.FormatJSON {
		return r.RenderJSON(manifest)
	}
	if r.Format() == render.FormatYAML {
		return r.RenderYAML(manifest)
	}

	kv := &render.KeyValues{}
	kv.Add("archive", absPath(out))
	kv.Add("exported_at", manifest.ExportedAt)
	kv.Add("database", humanBytes(manifest.Counts.DBBytes))
	kv.Add("images", fmt.Sprintf("%d (%s)", manifest.Counts.Images, humanBytes(manifest.Counts.ImageBytes)))
	return r.Render(kv)
}
