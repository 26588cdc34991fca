package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/PeacheyByte/sellventory-companion/internal/cli/appctx"
	"github.com/PeacheyByte/sellventory-companion/internal/content"
	"github.com/PeacheyByte/sellventory-companion/internal/render"
	"github.com/PeacheyByte/sellventory-companion/internal/snapshot"
	"github.com/PeacheyByte/sellventory-companion/internal/store"
)

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Print a summary of the local library",
	Long: `Stat reports record counts, the size of the images directory, images
that records reference but the directory lacks, and the snapshot revision
of the library contents. Two libraries with the same revision hold the same
records.`,
	Args: exactArgs(0),
	RunE: appctx.WithApp(appctx.DefaultOptions(), runStat),
}

var (
	statJSON     bool
	statSnapshot string
)

func init() {
	rootCmd.AddCommand(statCmd)
	statCmd.Flags().BoolVar(&statJSON, "json", false, "Output as JSON")
	statCmd.Flags().StringVar(&statSnapshot, "snapshot", "", "Also write the canonical snapshot to this file")
}

type libraryStat struct {
	DBPath        string       `json:"db_path" yaml:"db_path"`
	ImagesDir     string       `json:"images_dir" yaml:"images_dir"`
	Table         string       `json:"table" yaml:"table"`
	Records       store.Counts `json:"records" yaml:"records"`
	ImageFiles    int          `json:"image_files" yaml:"image_files"`
	ImageBytes    int64        `json:"image_bytes" yaml:"image_bytes"`
	MissingImages []string     `json:"missing_images,omitempty" yaml:"missing_images,omitempty"`
	SnapshotRev   string       `json:"snapshot_rev" yaml:"snapshot_rev"`
	Unkeyed       int          `json:"unkeyed,omitempty" yaml:"unkeyed,omitempty"`
}

func runStat(ctx context.Context, app *appctx.App, cmd *cobra.Command, args []string) error {
	r, err := newRenderer(cmd, app, statJSON)
	if err != nil {
		return err
	}

	st := app.Store
	counts, err := st.Count(ctx)
	if err != nil {
		return err
	}

	images := content.New(st.ImagesDir())
	files, bytes, err := images.Size()
	if err != nil {
		return err
	}

	referenced, err := st.ReferencedImages(ctx)
	if err != nil {
		return err
	}
	var missing []string
	for _, name := range referenced {
		if !images.Exists(filepath.Base(name)) {
			missing = append(missing, name)
		}
	}

	snap, _, err := snapshot.FromStore(ctx, st)
	if err != nil {
		return err
	}
	if statSnapshot != "" {
		if err := snapshot.WriteFile(statSnapshot, snap); err != nil {
			return err
		}
	}

	result := libraryStat{
		DBPath:        absPath(st.Path()),
		ImagesDir:     absPath(st.ImagesDir()),
		Table:         st.Mapping().Table,
		Records:       counts,
		ImageFiles:    files,
		ImageBytes:    bytes,
		MissingImages: missing,
		SnapshotRev:   snap.Meta.SnapshotRev,
		Unkeyed:       snap.Meta.Unkeyed,
	}

	switch r.Format() {
	case render.FormatJSON:
		return r.RenderJSON(result)
	case render.FormatYAML:
		return r.RenderYAML(result)
	}

	kv := &render.KeyValues{}
	kv.Add("db_path", result.DBPath)
	kv.Add("images_dir", result.ImagesDir)
	kv.Add("table", result.Table)
	kv.Add("records", fmt.Sprintf("%d (%d live, %d deleted, %d with image)", counts.Total, counts.Live, counts.Deleted, counts.WithImage))
	kv.Add("image_files", fmt.Sprintf("%d (%s)", files, humanBytes(bytes)))
	kv.Add("missing_images", len(missing))
	kv.Add("snapshot_rev", result.SnapshotRev)
	if err := r.Render(kv); err != nil {
		return err
	}
	for _, name := range missing {
		warnf(cmd, "missing image %s", name)
	}
	return nil
}
