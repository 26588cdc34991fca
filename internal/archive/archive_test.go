package archive

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PeacheyByte/sellventory-companion/internal/record"
	"github.com/PeacheyByte/sellventory-companion/internal/store"
	"github.com/PeacheyByte/sellventory-companion/internal/testutil"
)

// writeZip builds an archive from name → content pairs
func writeZip(t *testing.T, path string, files map[string][]byte) string {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func storeBytes(t *testing.T) []byte {
	t.Helper()
	path := testutil.RawDB(t, filepath.Join(t.TempDir(), "src.db"),
		`CREATE TABLE items (id TEXT PRIMARY KEY, name TEXT)`,
		`INSERT INTO items VALUES ('a', 'Lamp')`,
	)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestStageZip(t *testing.T) {
	db := storeBytes(t)
	src := writeZip(t, filepath.Join(t.TempDir(), "in.zip"), map[string][]byte{
		"other.db":           db,
		"sellventory.db":     db,
		"images/h1.jpg":      []byte("img"),
		"manifest.json":      []byte(`{"tool":"Sellventory-Companion","version":1,"db_filename":"sellventory.db"}`),
		"nested/deep.sqlite": db,
	})
	tempDir := t.TempDir()

	st, err := Stage(context.Background(), src, Options{TempDir: tempDir})
	require.NoError(t, err)

	assert.Equal(t, "sellventory.db", filepath.Base(st.DBPath))
	assert.Equal(t, filepath.Join(st.Root(), "images"), st.ImagesDir)
	require.NotNil(t, st.Manifest)
	assert.Equal(t, 1, st.Manifest.Version)
	assert.Contains(t, filepath.Base(st.Root()), TempPrefix)

	require.NoError(t, st.Close())
	_, err = os.Stat(st.Root())
	assert.True(t, os.IsNotExist(err), "staging dir must be removed")
	assert.NoError(t, st.Close(), "Close is idempotent")

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStageFindsNestedStore(t *testing.T) {
	db := storeBytes(t)
	src := writeZip(t, filepath.Join(t.TempDir(), "in.zip"), map[string][]byte{
		"databases/sellventory.db": db,
		"databases/images/h1.jpg":  []byte("img"),
		"notes.txt":                []byte("hi"),
	})

	st, err := Stage(context.Background(), src, Options{TempDir: t.TempDir()})
	require.NoError(t, err)
	defer st.Close()

	assert.Equal(t, filepath.Join(st.Root(), "databases", "sellventory.db"), st.DBPath)
	assert.Equal(t, filepath.Join(st.Root(), "databases", "images"), st.ImagesDir)
	assert.Nil(t, st.Manifest)
}

func TestStageBareStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "library.db")
	require.NoError(t, os.WriteFile(path, storeBytes(t), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images"), 0755))

	st, err := Stage(context.Background(), path, Options{})
	require.NoError(t, err)

	assert.Equal(t, path, st.DBPath)
	assert.Equal(t, filepath.Join(dir, "images"), st.ImagesDir)
	assert.Empty(t, st.Root())

	require.NoError(t, st.Close())
	_, err = os.Stat(path)
	assert.NoError(t, err, "closing a bare store staging must not remove the store")
}

func TestStageErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "missing.zip")},
		{"no store in archive", writeZip(t, filepath.Join(dir, "empty.zip"), map[string][]byte{"images/a.jpg": []byte("x")})},
		{"corrupt archive", testutil.WriteFile(t, dir, "broken.zip", "not a zip at all")},
		{"unknown file", testutil.WriteFile(t, dir, "notes.txt", "hello")},
		{"zip slip", writeZip(t, filepath.Join(dir, "slip.zip"), map[string][]byte{"../escape.db": storeBytes(t)})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			_, err := Stage(context.Background(), tt.path, Options{TempDir: tempDir})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrStaging)

			entries, err := os.ReadDir(tempDir)
			require.NoError(t, err)
			assert.Empty(t, entries, "staging dir must be cleaned up on failure")
		})
	}

	_, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	lib := t.TempDir()
	imagesDir := filepath.Join(lib, "images")

	st, err := store.Init(ctx, filepath.Join(lib, "sellventory.db"), imagesDir)
	require.NoError(t, err)
	defer st.Close()

	testutil.WriteFile(t, imagesDir, "h1.jpg", "image-one")
	testutil.WriteFile(t, imagesDir, "unreferenced.jpg", "left behind")

	text := func(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }
	err = st.WithTx(ctx, func(w *store.Writer) error {
		for _, r := range []record.Record{
			{ID: "a", Name: text("Lamp"), ImageName: text("h1.jpg"), UpdatedAt: 1714557600000, State: record.Live{}},
			{ID: "b", Name: text("Chair"), ImageName: text("h1.jpg"), UpdatedAt: 1714557600000, State: record.Live{}},
			{ID: "c", Name: text("Vase"), ImageName: text("missing.jpg"), UpdatedAt: 1714557600000, State: record.Live{}},
		} {
			if err := w.Insert(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out", "export.zip")
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m, err := Export(ctx, st, out, ExportOptions{TempDir: t.TempDir(), Now: func() time.Time { return fixed }})
	require.NoError(t, err)

	assert.Equal(t, Tool, m.Tool)
	assert.Equal(t, "2024-05-01T10:00:00Z", m.ExportedAt)
	assert.Equal(t, "sellventory.db", m.DBFilename)
	assert.Equal(t, 1, m.Counts.Images)
	assert.Equal(t, int64(len("image-one")), m.Counts.ImageBytes)
	assert.Positive(t, m.Counts.DBBytes)

	zr, err := zip.OpenReader(out)
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	zr.Close()
	assert.ElementsMatch(t, []string{"sellventory.db", "images/h1.jpg", "manifest.json"}, names)

	staged, err := Stage(ctx, out, Options{TempDir: t.TempDir()})
	require.NoError(t, err)
	defer staged.Close()

	incoming, err := store.OpenIncoming(ctx, staged.DBPath, staged.ImagesDir)
	require.NoError(t, err)
	defer incoming.Close()

	counts, err := incoming.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total)
	require.NotNil(t, staged.Manifest)
	assert.Equal(t, m.Counts, staged.Manifest.Counts)
}

func TestLoadManifestErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadManifest(dir)
	assert.Error(t, err)

	testutil.WriteFile(t, dir, ManifestName, `{"tool":"x"}`)
	_, err = LoadManifest(dir)
	assert.ErrorContains(t, err, "missing version")
}
