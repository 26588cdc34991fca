package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PeacheyByte/sellventory-companion/internal/cli/appctx"
	"github.com/PeacheyByte/sellventory-companion/internal/merge"
	"github.com/PeacheyByte/sellventory-companion/internal/record"
	"github.com/PeacheyByte/sellventory-companion/internal/render"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <archive.zip|store.db>",
	Short: "Merge an exported archive or database into the local library",
	Long: `Merge reconciles every record of the incoming store with the local
library in a single transaction:

  newer incoming records replace local ones
  equal timestamps merge field by field
  deletions apply only to records the library knows about
  images are copied once, named by content hash

With --dry-run nothing is written and the planned counts are printed.`,
	Args: exactArgs(1),
	RunE: appctx.WithApp(appctx.DefaultOptions(), runMerge),
}

var (
	mergeDryRun    bool
	mergeJSON      bool
	mergeVerbose   bool
	mergeNoUpgrade bool
)

func init() {
	rootCmd.AddCommand(mergeCmd)
	mergeCmd.Flags().BoolVar(&mergeDryRun, "dry-run", false, "Plan the merge without writing")
	mergeCmd.Flags().BoolVar(&mergeJSON, "json", false, "Output as JSON")
	mergeCmd.Flags().BoolVarP(&mergeVerbose, "verbose", "v", false, "List the decision for every record")
	mergeCmd.Flags().BoolVar(&mergeNoUpgrade, "no-upgrade", false, "Do not add missing sync columns to the local database")
}

func newEngine(app *appctx.App) *merge.Engine {
	return merge.New(merge.Options{
		ImagesDir:    app.Store.ImagesDir(),
		TempDir:      app.Config.TempDir,
		HashWorkers:  app.Config.HashWorkers,
		UpgradeLocal: app.Config.UpgradeLocal && !mergeNoUpgrade,
		Logger:       app.Logger,
	})
}

func runMerge(ctx context.Context, app *appctx.App, cmd *cobra.Command, args []string) error {
	r, err := newRenderer(cmd, app, mergeJSON)
	if err != nil {
		return err
	}

	engine := newEngine(app)
	var report *merge.Report
	if mergeDryRun {
		report, err = engine.PlanIncoming(ctx, args[0], app.Store)
	} else {
		report, err = engine.MergeIncoming(ctx, args[0], app.Store)
	}
	if err != nil {
		return err
	}

	switch r.Format() {
	case render.FormatJSON, render.FormatYAML:
		if !mergeVerbose {
			report.Decisions = nil
		}
		if r.Format() == render.FormatJSON {
			return r.RenderJSON(report)
		}
		return r.RenderYAML(report)
	}

	if mergeVerbose {
		if err := r.Render(decisionRows(report.Decisions)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
	if report.DryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "Dry run: nothing was written")
	}
	if len(report.Upgraded) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Added columns: %v\n", report.Upgraded)
	}
	return r.Render(statsValues(report.Stats))
}

func statsValues(s record.Stats) *render.KeyValues {
	kv := &render.KeyValues{}
	kv.Add("inserted", s.Inserted)
	kv.Add("updated", s.Updated)
	kv.Add("deleted", s.Deleted)
	kv.Add("images_copied", s.ImagesCopied)
	kv.Add("skipped", s.Skipped)
	return kv
}

type decisionTable []merge.Decision

func decisionRows(ds []merge.Decision) decisionTable {
	return decisionTable(ds)
}

func (t decisionTable) Headers() []string {
	return []string{"ID", "ACTION", "REASON", "FIELDS", "IMAGE"}
}

func (t decisionTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, d := range t {
		fields := make([]string, len(d.Fields))
		for i, f := range d.Fields {
			fields[i] = string(f)
		}
		image := ""
		if d.Image != nil {
			image = d.Image.Name
		}
		rows = append(rows, []string{d.ID, string(d.Action), string(d.Reason), strings.Join(fields, ","), image})
	}
	return rows
}
