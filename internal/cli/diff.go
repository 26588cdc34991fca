package cli

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/PeacheyByte/sellventory-companion/internal/cli/appctx"
	"github.com/PeacheyByte/sellventory-companion/internal/merge"
	"github.com/PeacheyByte/sellventory-companion/internal/record"
	"github.com/PeacheyByte/sellventory-companion/internal/render"
)

var diffCmd = &cobra.Command{
	Use:   "diff <archive.zip|store.db>",
	Short: "Show what a merge would change, record by record",
	Long: `Diff plans a merge without writing and prints a unified diff of every
local record the merge would change.

Examples:
  sellv diff phone-export.zip          # Records that would change
  sellv diff phone-export.zip --all    # Include skipped records
  sellv diff old.db --json             # Decisions and diffs as JSON
`,
	Args: exactArgs(1),
	RunE: appctx.WithApp(appctx.DefaultOptions(), runDiff),
}

var (
	diffUnified int
	diffJSON    bool
	diffAll     bool
)

func init() {
	rootCmd.AddCommand(diffCmd)

	diffCmd.Flags().IntVar(&diffUnified, "unified", 3, "Lines of unified context")
	diffCmd.Flags().BoolVar(&diffJSON, "json", false, "Output as JSON")
	diffCmd.Flags().BoolVar(&diffAll, "all", false, "Include records the merge would skip")
}

type recordDiff struct {
	ID     string `json:"id" yaml:"id"`
	Action string `json:"action" yaml:"action"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Diff   string `json:"diff,omitempty" yaml:"diff,omitempty"`
}

func runDiff(ctx context.Context, app *appctx.App, cmd *cobra.Command, args []string) error {
	r, err := newRenderer(cmd, app, diffJSON)
	if err != nil {
		return err
	}

	report, err := newEngine(app).PlanIncoming(ctx, args[0], app.Store)
	if err != nil {
		return err
	}

	var diffs []recordDiff
	for _, d := range report.Decisions {
		if !d.Writes() && !diffAll {
			continue
		}
		body, err := decisionDiff(d, diffUnified)
		if err != nil {
			return fmt.Errorf("failed to diff record %s: %w", d.ID, err)
		}
		diffs = append(diffs, recordDiff{ID: d.ID, Action: string(d.Action), Reason: string(d.Reason), Diff: body})
	}

	if r.Format() == render.FormatJSON {
		return r.RenderJSON(diffs)
	}
	if r.Format() == render.FormatYAML {
		return r.RenderYAML(diffs)
	}

	out := cmd.OutOrStdout()
	for _, d := range diffs {
		if d.Reason != "" {
			fmt.Fprintf(out, "%s %s (%s)\n", d.Action, d.ID, d.Reason)
		} else {
			fmt.Fprintf(out, "%s %s\n", d.Action, d.ID)
		}
		fmt.Fprint(out, d.Diff)
	}
	if len(diffs) == 0 {
		fmt.Fprintln(out, "No changes")
	}
	return nil
}

// decisionDiff renders local vs resulting record as a unified diff. Skips
// have no result and render empty.
func decisionDiff(d merge.Decision, contextLines int) (string, error) {
	if !d.Writes() {
		return "", nil
	}

	var before []string
	if d.Local != nil {
		before = recordLines(*d.Local)
	}
	after := d.Result
	if d.Image != nil {
		after.ImageName = sql.NullString{String: d.Image.Name, Valid: true}
		after.ImageHash = sql.NullString{String: d.Image.Hash, Valid: true}
	}

	diff := difflib.UnifiedDiff{
		A:        before,
		B:        recordLines(after),
		FromFile: "local/" + d.ID,
		ToFile:   "merged/" + d.ID,
		Context:  contextLines,
	}
	return difflib.GetUnifiedDiffString(diff)
}

// recordLines lists the logical fields of r, one "field: value" line each
func recordLines(r record.Record) []string {
	lines := []string{
		"id: " + r.ID,
		"name: " + nullText(r.Name),
		"location: " + nullText(r.Location),
		"buy_price: " + nullCents(r.BuyPrice),
		"sold_price: " + nullCents(r.SoldPrice),
		"sold_date: " + nullText(r.SoldDate),
		"image_name: " + nullText(r.ImageName),
		"image_hash: " + nullText(r.ImageHash),
		"updated_at: " + millisText(r.UpdatedAt),
	}
	if at, deleted := r.Deleted(); deleted {
		lines = append(lines, "deleted_at: "+millisText(at))
	}
	for i := range lines {
		lines[i] += "\n"
	}
	return lines
}

func nullText(s sql.NullString) string {
	if !s.Valid {
		return "-"
	}
	return strconv.Quote(s.String)
}

func nullCents(n sql.NullInt64) string {
	if !n.Valid {
		return "-"
	}
	sign := ""
	c := n.Int64
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

func millisText(m record.Millis) string {
	if m.IsZero() {
		return "-"
	}
	return m.Time().Format("2006-01-02T15:04:05.000Z")
}
