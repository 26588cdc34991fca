package cli

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/PeacheyByte/sellventory-companion/internal/merge"
	"github.com/PeacheyByte/sellventory-companion/internal/record"
	"github.com/PeacheyByte/sellventory-companion/internal/store"
	"github.com/PeacheyByte/sellventory-companion/internal/testutil"
)

const testUpdatedAt record.Millis = 1714557600000

func isolateEnv(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"SELLV_LIBRARY_DIR", "SELLV_DB_PATH", "SELLV_DB_PATH_FILE", "SELLV_IMAGES_DIR",
		"SELLV_TEMP_DIR", "SELLV_LOG_LEVEL", "SELLV_LOG_FORMAT", "SELLV_OUTPUT",
		"SELLV_HASH_WORKERS", "SELLV_UPGRADE_SCHEMA",
	} {
		t.Setenv(k, "")
	}
	t.Chdir(home)
}

// resetFlags restores every flag to its default; cobra keeps parsed values
// on the package-level commands between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func text(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

// incomingStore writes a library with the given records and images and
// returns its database path.
func incomingStore(t *testing.T, images map[string]string, recs ...record.Record) string {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	st, err := store.Init(ctx, filepath.Join(dir, "sellventory.db"), filepath.Join(dir, "images"))
	if err != nil {
		t.Fatalf("failed to create incoming store: %v", err)
	}
	err = st.WithTx(ctx, func(w *store.Writer) error {
		for _, r := range recs {
			if err := w.Insert(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to seed incoming store: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	for name, data := range images {
		testutil.WriteFile(t, filepath.Join(dir, "images"), name, data)
	}
	return st.Path()
}

func lampRecord() record.Record {
	return record.Record{
		ID:        "lamp",
		Name:      text("Lamp"),
		BuyPrice:  sql.NullInt64{Int64: 1250, Valid: true},
		ImageName: text("lamp.jpg"),
		UpdatedAt: testUpdatedAt,
		State:     record.Live{},
	}
}

func TestMergeStatExportInspect(t *testing.T) {
	isolateEnv(t)
	lib := filepath.Join(t.TempDir(), "lib")

	if _, err := runCLI(t, "--library", lib, "init"); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	incoming := incomingStore(t, map[string]string{"lamp.jpg": "lamp pixels"}, lampRecord())

	out, err := runCLI(t, "--library", lib, "merge", "--json", incoming)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	var report merge.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("invalid merge JSON %q: %v", out, err)
	}
	want := record.Stats{Inserted: 1, ImagesCopied: 1}
	if report.Stats != want {
		t.Errorf("stats = %+v, want %+v", report.Stats, want)
	}
	if len(report.Decisions) != 0 {
		t.Error("decisions should only be listed with --verbose")
	}

	out, err = runCLI(t, "--library", lib, "merge", "-o", "tsv", incoming)
	if err != nil {
		t.Fatalf("second merge failed: %v", err)
	}
	if !strings.Contains(out, "inserted\t0\n") || !strings.Contains(out, "skipped\t1\n") {
		t.Errorf("second merge should be a no-op, got:\n%s", out)
	}

	out, err = runCLI(t, "--library", lib, "stat", "--json", "--snapshot", filepath.Join(t.TempDir(), "snap.json"))
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	var st libraryStat
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("invalid stat JSON: %v", err)
	}
	if st.Records.Live != 1 || st.ImageFiles != 1 || len(st.MissingImages) != 0 {
		t.Errorf("unexpected stat %+v", st)
	}
	if !strings.HasPrefix(st.SnapshotRev, "sha256:") {
		t.Errorf("unexpected snapshot rev %q", st.SnapshotRev)
	}

	zipPath := filepath.Join(t.TempDir(), "out.zip")
	if _, err := runCLI(t, "--library", lib, "export", zipPath); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if _, err := runCLI(t, "--library", lib, "export", zipPath); ExitCode(err) != ExitUsage {
		t.Errorf("export over existing file: exit %d, want %d", ExitCode(err), ExitUsage)
	}

	out, err = runCLI(t, "--library", lib, "compare", "--json", zipPath)
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	var cmp comparison
	if err := json.Unmarshal([]byte(out), &cmp); err != nil {
		t.Fatalf("invalid compare JSON: %v", err)
	}
	if cmp.LocalRev != cmp.OtherRev || len(cmp.Changes) != 0 {
		t.Errorf("export should match the library, got %+v", cmp)
	}

	out, err = runCLI(t, "inspect", "--json", zipPath)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	var in inspection
	if err := json.Unmarshal([]byte(out), &in); err != nil {
		t.Fatalf("invalid inspect JSON: %v", err)
	}
	if in.Table != "items" || in.Counts.Total != 1 || in.Archive == nil {
		t.Errorf("unexpected inspection %+v", in)
	}
}

func TestMergeDryRunWritesNothing(t *testing.T) {
	isolateEnv(t)
	lib := filepath.Join(t.TempDir(), "lib")
	if _, err := runCLI(t, "--library", lib, "init"); err != nil {
		t.Fatal(err)
	}
	incoming := incomingStore(t, nil, lampRecord())

	out, err := runCLI(t, "--library", lib, "merge", "--dry-run", incoming)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if !strings.Contains(out, "Dry run") {
		t.Errorf("expected dry run notice, got:\n%s", out)
	}

	out, err = runCLI(t, "--library", lib, "stat", "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var st libraryStat
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatal(err)
	}
	if st.Records.Total != 0 {
		t.Errorf("dry run wrote %d records", st.Records.Total)
	}
}

func TestDiffShowsFieldChanges(t *testing.T) {
	isolateEnv(t)
	lib := filepath.Join(t.TempDir(), "lib")
	if _, err := runCLI(t, "--library", lib, "init"); err != nil {
		t.Fatal(err)
	}

	local := lampRecord()
	local.ImageName = sql.NullString{}
	if _, err := runCLI(t, "--library", lib, "merge", incomingStore(t, nil, local)); err != nil {
		t.Fatal(err)
	}

	sold := local
	sold.SoldPrice = sql.NullInt64{Int64: 900, Valid: true}
	out, err := runCLI(t, "--library", lib, "diff", incomingStore(t, nil, sold))
	if err != nil {
		t.Fatalf("diff failed: %v", err)
	}

	for _, want := range []string{"merge-fields lamp", "--- local/lamp", "+++ merged/lamp", "-sold_price: -", "+sold_price: 9.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("diff output missing %q:\n%s", want, out)
		}
	}
}

func TestExitCodes(t *testing.T) {
	isolateEnv(t)
	lib := filepath.Join(t.TempDir(), "lib")
	if _, err := runCLI(t, "--library", lib, "init"); err != nil {
		t.Fatal(err)
	}

	notes := testutil.WriteFile(t, t.TempDir(), "notes.txt", "not a store")
	wrongSchema := testutil.RawDB(t, filepath.Join(t.TempDir(), "other.db"), `CREATE TABLE notes (body TEXT)`)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"missing argument", []string{"--library", lib, "merge"}, ExitUsage},
		{"unknown flag", []string{"--library", lib, "merge", "--bogus", notes}, ExitUsage},
		{"bad output format", []string{"--library", lib, "stat", "-o", "xml"}, ExitUsage},
		{"unreadable archive", []string{"--library", lib, "merge", notes}, ExitStaging},
		{"unusable schema", []string{"--library", lib, "merge", wrongSchema}, ExitSchema},
		{"no library", []string{"--library", filepath.Join(t.TempDir(), "none"), "stat"}, ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := ExitCode(err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", err, got, tt.want)
			}
		})
	}
}

func TestRecordLines(t *testing.T) {
	r := lampRecord().Tombstone(testUpdatedAt + 1000)
	r.SoldPrice = sql.NullInt64{Int64: -5, Valid: true}

	got := strings.Join(recordLines(r), "")
	for _, want := range []string{
		"name: \"Lamp\"\n",
		"location: -\n",
		"buy_price: 12.50\n",
		"sold_price: -0.05\n",
		"updated_at: 2024-05-01T10:00:01.000Z\n",
		"deleted_at: 2024-05-01T10:00:01.000Z\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}
