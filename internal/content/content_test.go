package content

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PeacheyByte/sellventory-companion/internal/record"
	"github.com/PeacheyByte/sellventory-companion/internal/testutil"
)

// sha1("hello")
const helloSHA1 = "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestHash(t *testing.T) {
	src := testutil.WriteFile(t, t.TempDir(), "a.jpg", "hello")

	h, err := Hash(src)
	require.NoError(t, err)
	assert.Equal(t, helloSHA1, h)

	_, err = Hash(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestStoredName(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "noext")
	require.NoError(t, os.WriteFile(png, pngHeader, 0644))
	txt := testutil.WriteFile(t, dir, "plain", "not an image")

	tests := []struct {
		name      string
		preferred string
		source    string
		want      string
	}{
		{"preferred wins", "photo.PNG", "/tmp/x.jpeg", "h.png"},
		{"source extension", "", "/tmp/x.webp", "h.webp"},
		{"preferred without extension", "photo", "/tmp/x.gif", "h.gif"},
		{"sniffed png", "", png, "h.png"},
		{"non image falls back", "", txt, "h.jpg"},
		{"nothing known", "", "", "h.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StoredName("h", tt.preferred, tt.source))
		})
	}
}

func TestStoreIsIdempotent(t *testing.T) {
	srcDir := t.TempDir()
	s := New(filepath.Join(t.TempDir(), "images"))

	a := testutil.WriteFile(t, srcDir, "one.jpg", "hello")
	b := testutil.WriteFile(t, srcDir, "two.jpg", "hello")

	first, err := s.Store(a, "one.jpg")
	require.NoError(t, err)
	assert.True(t, first.Copied)
	assert.Equal(t, helloSHA1+".jpg", first.Name)
	assert.Equal(t, int64(5), first.Size)

	second, err := s.Store(b, "two.jpg")
	require.NoError(t, err)
	assert.False(t, second.Copied, "identical bytes must not be copied twice")
	assert.Equal(t, first.Name, second.Name)

	assert.Equal(t, 1, testutil.CountFiles(t, s.Dir()))
	assert.Equal(t, "hello", testutil.ReadFile(t, s.Path(first.Name)))
}

func TestStoreNeverOverwrites(t *testing.T) {
	s := New(t.TempDir())
	src := testutil.WriteFile(t, t.TempDir(), "a.jpg", "hello")

	testutil.WriteFile(t, s.Dir(), helloSHA1+".jpg", "existing")

	asset, err := s.Store(src, "a.jpg")
	require.NoError(t, err)
	assert.False(t, asset.Copied)
	assert.Equal(t, "existing", testutil.ReadFile(t, s.Path(asset.Name)))
}

func TestStoreHashedRejectsWrongHash(t *testing.T) {
	s := New(t.TempDir())
	src := testutil.WriteFile(t, t.TempDir(), "a.jpg", "hello")

	_, err := s.StoreHashed(src, "a.jpg", "deadbeef")
	require.Error(t, err)
	assert.False(t, s.Exists("deadbeef.jpg"))
	assert.Equal(t, 0, testutil.CountFiles(t, s.Dir()), "temp file must be cleaned up")
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	fallback := t.TempDir()
	abs := testutil.WriteFile(t, t.TempDir(), "legacy.jpg", "x")

	testutil.WriteFile(t, root, "in-root.jpg", "x")
	testutil.WriteFile(t, fallback, "in-fallback.jpg", "x")
	testutil.WriteFile(t, fallback, "old.jpg", "x")

	text := func(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

	tests := []struct {
		name string
		rec  record.Record
		want string
	}{
		{"image name in root", record.Record{ImageName: text("in-root.jpg")}, filepath.Join(root, "in-root.jpg")},
		{"image name beside store", record.Record{ImageName: text("in-fallback.jpg")}, filepath.Join(fallback, "in-fallback.jpg")},
		{"absolute legacy path", record.Record{ImageName: text("gone.jpg"), LegacyImage: text(abs)}, abs},
		{"legacy basename", record.Record{LegacyImage: text(`C:\Users\me\Pictures\old.jpg`)}, filepath.Join(fallback, "old.jpg")},
		{"nothing found", record.Record{ImageName: text("gone.jpg")}, ""},
		{"no image", record.Record{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.rec, root, fallback)
			assert.Equal(t, tt.want != "", ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSize(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "images"))

	files, bytes, err := s.Size()
	require.NoError(t, err)
	assert.Zero(t, files)
	assert.Zero(t, bytes)

	testutil.WriteFile(t, s.Dir(), "a.jpg", "hello")
	testutil.WriteFile(t, s.Dir(), "b.jpg", "hi")
	files, bytes, err = s.Size()
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	assert.Equal(t, int64(7), bytes)
}

func TestStoreDedupsAcrossExtensions(t *testing.T) {
	s := New(t.TempDir())
	srcDir := t.TempDir()

	first, err := s.Store(testutil.WriteFile(t, srcDir, "a.png", "hello"), "a.png")
	require.NoError(t, err)
	second, err := s.Store(testutil.WriteFile(t, srcDir, "b.jpg", "hello"), "b.jpg")
	require.NoError(t, err)

	assert.Equal(t, helloSHA1+".png", first.Name)
	assert.Equal(t, first.Name, second.Name)
	assert.False(t, second.Copied)
	assert.Equal(t, 1, testutil.CountFiles(t, s.Dir()))

	name, err := s.Lookup(helloSHA1)
	require.NoError(t, err)
	assert.Equal(t, first.Name, name)

	name, err = s.Lookup("0000")
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestIndexDedupsWithoutRelisting(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "images"))
	srcDir := t.TempDir()
	testutil.WriteFile(t, s.Dir(), helloSHA1+".png", "hello")

	idx, err := s.Index()
	require.NoError(t, err)
	assert.Equal(t, helloSHA1+".png", idx.Lookup(helloSHA1))

	hello := testutil.WriteFile(t, srcDir, "a.jpg", "hello")
	asset, err := idx.StoreHashed(hello, "a.jpg", helloSHA1)
	require.NoError(t, err)
	assert.False(t, asset.Copied)
	assert.Equal(t, helloSHA1+".png", asset.Name)

	// sha1("hi")
	const hiSHA1 = "c22b5f9178342609428d6f51b2c5af4c0bde6a42"
	hi := testutil.WriteFile(t, srcDir, "b.jpg", "hi")
	first, err := idx.StoreHashed(hi, "b.jpg", hiSHA1)
	require.NoError(t, err)
	assert.True(t, first.Copied)
	assert.Equal(t, hiSHA1+".jpg", idx.Lookup(hiSHA1))

	second, err := idx.StoreHashed(hi, "b.webp", hiSHA1)
	require.NoError(t, err)
	assert.False(t, second.Copied)
	assert.Equal(t, first.Name, second.Name)
	assert.Equal(t, 2, testutil.CountFiles(t, s.Dir()))
}

func TestIndexOfMissingDirectory(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "images"))

	idx, err := s.Index()
	require.NoError(t, err)
	assert.Empty(t, idx.Lookup(helloSHA1))

	asset, err := idx.StoreHashed(testutil.WriteFile(t, t.TempDir(), "a.jpg", "hello"), "a.jpg", helloSHA1)
	require.NoError(t, err)
	assert.True(t, asset.Copied)
	assert.True(t, s.Exists(helloSHA1+".jpg"))
}
