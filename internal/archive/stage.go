// Package archive stages incoming archives for a merge and writes export
// archives of a library.
//
// An archive is a zip holding one SQLite store, an optional images/ directory
// and an optional manifest.json. A bare store file is accepted in place of an
// archive.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"
)

// TempPrefix names the per-merge extraction directories
const TempPrefix = "sellv_merge_"

// PreferredDBName is picked over any other store file in an archive
const PreferredDBName = "sellventory.db"

// ImagesDirName is the image directory inside an archive
const ImagesDirName = "images"

var (
	zipMagic    = []byte("PK\x03\x04")
	sqliteMagic = []byte("SQLite format 3\x00")
)

var storeExts = map[string]bool{".db": true, ".sqlite": true, ".sqlite3": true}

// ErrStaging is matched by every StagingError
var ErrStaging = errors.New("staging failed")

// StagingError reports an archive that cannot be used as a merge source
type StagingError struct {
	Path   string
	Reason string
	Err    error
}

func (e *StagingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot stage %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("cannot stage %s: %s", e.Path, e.Reason)
}

func (e *StagingError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrStaging) match
func (e *StagingError) Is(target error) bool {
	return target == ErrStaging
}

// Options controls staging
type Options struct {
	// TempDir is the parent of extraction directories; empty uses os.TempDir.
	TempDir string
	Logger  *zap.Logger
}

// Staging is a located incoming store. Close must be called on every path.
type Staging struct {
	Source    string
	DBPath    string
	ImagesDir string
	Manifest  *Manifest

	// root is the extraction directory, empty for bare store files
	root   string
	closed bool
}

// Root returns the extraction directory, or "" for a bare store file
func (s *Staging) Root() string {
	return s.root
}

// Close removes the extraction directory. It is safe to call more than once.
func (s *Staging) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	if s.root == "" {
		return nil
	}
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("failed to remove staging dir %s: %w", s.root, err)
	}
	return nil
}

// Stage prepares path for a merge. A zip archive is extracted into a fresh
// temp directory; a bare store file is used in place.
func Stage(ctx context.Context, path string, opts Options) (*Staging, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	kind, err := sniff(path)
	if err != nil {
		return nil, &StagingError{Path: path, Reason: "unreadable source", Err: err}
	}

	switch kind {
	case kindStore:
		dir := filepath.Dir(path)
		return &Staging{
			Source:    path,
			DBPath:    path,
			ImagesDir: imagesDirFor(dir, dir),
		}, nil
	case kindZip:
	default:
		return nil, &StagingError{Path: path, Reason: "not a zip archive or SQLite database"}
	}

	root, err := os.MkdirTemp(opts.TempDir, TempPrefix)
	if err != nil {
		return nil, &StagingError{Path: path, Reason: "cannot create staging dir", Err: err}
	}
	st := &Staging{Source: path, root: root}

	if err := extract(ctx, path, root); err != nil {
		st.Close()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &StagingError{Path: path, Reason: "cannot extract archive", Err: err}
	}

	dbPath, err := findStore(root)
	if err != nil {
		st.Close()
		return nil, &StagingError{Path: path, Reason: "cannot search archive", Err: err}
	}
	if dbPath == "" {
		st.Close()
		return nil, &StagingError{Path: path, Reason: "no SQLite store found in archive"}
	}
	st.DBPath = dbPath
	st.ImagesDir = imagesDirFor(root, filepath.Dir(dbPath))

	if _, err := os.Stat(filepath.Join(root, ManifestName)); err == nil {
		m, err := LoadManifest(root)
		if err != nil {
			logger.Warn("Ignoring unreadable manifest", zap.String("archive", path), zap.Error(err))
		} else {
			st.Manifest = m
		}
	}

	logger.Debug("Staged archive",
		zap.String("archive", path),
		zap.String("store", st.DBPath),
		zap.String("images", st.ImagesDir))
	return st, nil
}

type sourceKind int

const (
	kindUnknown sourceKind = iota
	kindZip
	kindStore
)

func sniff(path string) (sourceKind, error) {
	f, err := os.Open(path)
	if err != nil {
		return kindUnknown, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return kindUnknown, err
	}
	if info.IsDir() {
		return kindUnknown, fmt.Errorf("%s is a directory", path)
	}

	head := make([]byte, len(sqliteMagic))
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return kindUnknown, err
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, zipMagic):
		return kindZip, nil
	case bytes.HasPrefix(head, sqliteMagic):
		return kindStore, nil
	case strings.EqualFold(filepath.Ext(path), ".zip"):
		// Empty or damaged archives still go through the zip reader for a
		// precise error.
		return kindZip, nil
	}
	return kindUnknown, nil
}

func extract(ctx context.Context, src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		if r != nil {
			r.Close()
		}
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if !f.Mode().IsRegular() {
			continue
		}

		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// safeJoin rejects entries that would land outside dest
func safeJoin(dest, name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("archive entry %q has an absolute path", name)
	}
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes the staging dir", name)
	}
	return target, nil
}

type storeCandidate struct {
	path      string
	depth     int
	preferred bool
}

// findStore returns the store file in an extracted archive: root level before
// nested, the preferred name before others, then lexical order.
func findStore(root string) (string, error) {
	var cands []storeCandidate
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !storeExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		cands = append(cands, storeCandidate{
			path:      path,
			depth:     strings.Count(rel, string(filepath.Separator)),
			preferred: strings.EqualFold(d.Name(), PreferredDBName),
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(cands) == 0 {
		return "", nil
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if (a.depth == 0) != (b.depth == 0) {
			return a.depth == 0
		}
		if a.preferred != b.preferred {
			return a.preferred
		}
		if a.depth != b.depth {
			return a.depth < b.depth
		}
		return a.path < b.path
	})
	return cands[0].path, nil
}

// imagesDirFor picks images/ at root, then images/ beside the store, then the
// store's own directory.
func imagesDirFor(root, storeDir string) string {
	for _, dir := range []string{filepath.Join(root, ImagesDirName), filepath.Join(storeDir, ImagesDirName)} {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return storeDir
}
