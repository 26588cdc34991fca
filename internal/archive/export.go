package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/PeacheyByte/sellventory-companion/internal/content"
	"github.com/PeacheyByte/sellventory-companion/internal/store"
)

// ExportOptions controls Export
type ExportOptions struct {
	TempDir string
	Now     func() time.Time
	Logger  *zap.Logger
}

// Export writes an archive of st to outPath: a consistent copy of the store at
// the archive root, the images referenced by its records under images/, and a
// manifest. The archive appears at outPath only once complete.
func Export(ctx context.Context, st *store.Store, outPath string, opts ExportOptions) (*Manifest, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	tmpDir, err := os.MkdirTemp(opts.TempDir, "sellv_export_")
	if err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	dbName := filepath.Base(st.Path())
	dbCopy := filepath.Join(tmpDir, dbName)
	if _, err := st.DB().ExecContext(ctx, "VACUUM INTO ?", dbCopy); err != nil {
		return nil, fmt.Errorf("failed to snapshot store: %w", err)
	}
	info, err := os.Stat(dbCopy)
	if err != nil {
		return nil, fmt.Errorf("failed to stat store snapshot: %w", err)
	}

	images, err := referencedFiles(ctx, st)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		Tool:       Tool,
		Version:    ManifestVersion,
		ExportedAt: now().UTC().Format(TimeLayout),
		DBFilename: dbName,
		ImagesDir:  ImagesDirName,
		Counts:     Counts{DBBytes: info.Size()},
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	tmpZip, err := os.CreateTemp(filepath.Dir(outPath), ".sellv-export-*.zip")
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	tmpZipPath := tmpZip.Name()
	defer os.Remove(tmpZipPath)

	zw := zip.NewWriter(tmpZip)
	if err := addFile(zw, dbCopy, dbName); err != nil {
		zw.Close()
		tmpZip.Close()
		return nil, err
	}

	for _, img := range images {
		if err := ctx.Err(); err != nil {
			zw.Close()
			tmpZip.Close()
			return nil, err
		}
		name := ImagesDirName + "/" + filepath.Base(img)
		if err := addFile(zw, img, name); err != nil {
			zw.Close()
			tmpZip.Close()
			return nil, err
		}
		fi, err := os.Stat(img)
		if err != nil {
			zw.Close()
			tmpZip.Close()
			return nil, fmt.Errorf("failed to stat %s: %w", img, err)
		}
		manifest.Counts.Images++
		manifest.Counts.ImageBytes += fi.Size()
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		zw.Close()
		tmpZip.Close()
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	w, err := zw.Create(ManifestName)
	if err == nil {
		_, err = w.Write(data)
	}
	if err != nil {
		zw.Close()
		tmpZip.Close()
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := zw.Close(); err != nil {
		tmpZip.Close()
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := tmpZip.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := os.Rename(tmpZipPath, outPath); err != nil {
		return nil, fmt.Errorf("failed to move archive into place: %w", err)
	}

	logger.Info("Exported library",
		zap.String("archive", outPath),
		zap.Int("images", manifest.Counts.Images),
		zap.Int64("db_bytes", manifest.Counts.DBBytes))
	return manifest, nil
}

// referencedFiles returns the existing image files used by any record, one
// per file name, sorted.
func referencedFiles(ctx context.Context, st *store.Store) ([]string, error) {
	recs, err := st.List(ctx)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]string)
	for _, r := range recs {
		if !r.HasImage() {
			continue
		}
		p, ok := content.Resolve(r, st.ImagesDir(), filepath.Dir(st.Path()))
		if !ok {
			continue
		}
		if _, dup := byName[filepath.Base(p)]; !dup {
			byName[filepath.Base(p)] = p
		}
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, byName[n])
	}
	return out, nil
}

func addFile(zw *zip.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to build header for %s: %w", src, err)
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
