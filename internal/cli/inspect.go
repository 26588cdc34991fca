package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PeacheyByte/sellventory-companion/internal/archive"
	"github.com/PeacheyByte/sellventory-companion/internal/cli/appctx"
	"github.com/PeacheyByte/sellventory-companion/internal/render"
	"github.com/PeacheyByte/sellventory-companion/internal/schema"
	"github.com/PeacheyByte/sellventory-companion/internal/store"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <archive.zip|store.db>",
	Short: "Show how a store's columns map to record fields",
	Long: `Inspect opens a store read-only, the same way merge does, and prints
the table chosen and the physical column behind each record field.`,
	Args: exactArgs(1),
	RunE: appctx.WithApp(appctx.Options{}, runInspect),
}

var inspectJSON bool

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON")
}

type fieldMapping struct {
	Field  string `json:"field" yaml:"field"`
	Column string `json:"column,omitempty" yaml:"column,omitempty"`
	Type   string `json:"type,omitempty" yaml:"type,omitempty"`
}

type inspection struct {
	Source  string            `json:"source" yaml:"source"`
	Store   string            `json:"store" yaml:"store"`
	Table   string            `json:"table" yaml:"table"`
	Fields  []fieldMapping    `json:"fields" yaml:"fields"`
	Missing []string          `json:"missing_sync_columns,omitempty" yaml:"missing_sync_columns,omitempty"`
	Counts  store.Counts      `json:"counts" yaml:"counts"`
	Archive *archive.Manifest `json:"manifest,omitempty" yaml:"manifest,omitempty"`
}

func (in *inspection) Headers() []string {
	return []string{"FIELD", "COLUMN", "TYPE"}
}

func (in *inspection) Rows() [][]string {
	rows := make([][]string, 0, len(in.Fields))
	for _, f := range in.Fields {
		col := f.Column
		if col == "" {
			col = "(absent)"
		}
		rows = append(rows, []string{f.Field, col, f.Type})
	}
	return rows
}

func runInspect(ctx context.Context, app *appctx.App, cmd *cobra.Command, args []string) error {
	r, err := newRenderer(cmd, app, inspectJSON)
	if err != nil {
		return err
	}

	staged, err := archive.Stage(ctx, args[0], archive.Options{TempDir: app.Config.TempDir, Logger: app.Logger})
	if err != nil {
		return err
	}
	defer staged.Close()

	st, err := store.OpenIncoming(ctx, staged.DBPath, staged.ImagesDir)
	if err != nil {
		return err
	}
	defer st.Close()

	counts, err := st.Count(ctx)
	if err != nil {
		return err
	}

	m := st.Mapping()
	in := &inspection{
		Source:  args[0],
		Store:   staged.DBPath,
		Table:   m.Table,
		Counts:  counts,
		Archive: staged.Manifest,
	}
	for _, f := range schema.Fields {
		fm := fieldMapping{Field: string(f)}
		if c, ok := m.ColumnInfo(f); ok {
			fm.Column = c.Name
			fm.Type = c.Type
		}
		in.Fields = append(in.Fields, fm)
	}
	for _, f := range m.Missing(schema.SyncFields...) {
		in.Missing = append(in.Missing, string(f))
	}

	switch r.Format() {
	case render.FormatJSON:
		return r.RenderJSON(in)
	case render.FormatYAML:
		return r.RenderYAML(in)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Table: %s\n", in.Table)
	fmt.Fprintf(out, "Records: %d (%d live, %d deleted)\n\n", counts.Total, counts.Live, counts.Deleted)
	if err := r.Render(in); err != nil {
		return err
	}
	if len(in.Missing) > 0 {
		fmt.Fprintf(out, "\nMissing sync columns: %v\n", in.Missing)
	}
	return nil
}
