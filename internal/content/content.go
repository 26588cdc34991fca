// Package content manages the image directory of a library. Files are stored
// under their content hash, so identical bytes always map to one file.
package content

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/PeacheyByte/sellventory-companion/internal/record"
)

// DefaultExt is used when no extension can be derived for an image
const DefaultExt = ".jpg"

// sniffLen is the number of bytes http.DetectContentType looks at
const sniffLen = 512

// Store is a content-addressed image directory.
type Store struct {
	dir string
}

// Asset describes an image after it was stored
type Asset struct {
	Name   string
	Hash   string
	Size   int64
	Copied bool
}

// New returns a Store rooted at dir. The directory is created on first write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the root directory
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the absolute path for a stored name
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Exists reports whether a stored name is present
func (s *Store) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// Hash returns the hex SHA-1 digest of a file's bytes
func Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// StoredName derives the canonical file name for content with the given hash.
// The extension comes from preferredName, then sourcePath, then the sniffed
// content type, then DefaultExt.
func StoredName(hash, preferredName, sourcePath string) string {
	if ext := cleanExt(preferredName); ext != "" {
		return hash + ext
	}
	if ext := cleanExt(sourcePath); ext != "" {
		return hash + ext
	}
	if ext := sniffExt(sourcePath); ext != "" {
		return hash + ext
	}
	return hash + DefaultExt
}

func cleanExt(name string) string {
	ext := filepath.Ext(filepath.Base(name))
	if ext == "." {
		return ""
	}
	return strings.ToLower(ext)
}

func sniffExt(path string) string {
	if path == "" {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, _ := io.ReadFull(f, buf)
	if n == 0 {
		return ""
	}

	mimeType := http.DetectContentType(buf[:n])
	if idx := strings.IndexByte(mimeType, ';'); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return ""
	}
	if mimeType == "image/jpeg" {
		return DefaultExt
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

// Store copies src into the directory under its content-derived name. An
// existing file with that name is never overwritten.
func (s *Store) Store(src, preferredName string) (Asset, error) {
	hash, err := Hash(src)
	if err != nil {
		return Asset{}, err
	}
	return s.StoreHashed(src, preferredName, hash)
}

// StoreHashed is Store for a source whose hash is already known.
func (s *Store) StoreHashed(src, preferredName, hash string) (Asset, error) {
	name := StoredName(hash, preferredName, src)
	if asset, ok, err := s.stat(name, hash); ok || err != nil {
		return asset, err
	}

	// The same bytes may already be stored under another extension
	existing, err := s.Lookup(hash)
	if err != nil {
		return Asset{}, err
	}
	if existing != "" {
		asset, _, err := s.stat(existing, hash)
		return asset, err
	}
	return s.write(src, name, hash)
}

// stat returns the asset for an existing stored name
func (s *Store) stat(name, hash string) (Asset, bool, error) {
	info, err := os.Stat(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return Asset{}, false, nil
	}
	if err != nil {
		return Asset{}, false, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return Asset{Name: name, Hash: hash, Size: info.Size()}, true, nil
}

// write copies src into place through a temp file, checking the hash on the way
func (s *Store) write(src, name, hash string) (Asset, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return Asset{}, fmt.Errorf("failed to create images directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".incoming-*")
	if err != nil {
		return Asset{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	size, checksum, err := CopyFile(src, tmpPath)
	if err != nil {
		return Asset{}, err
	}
	if checksum != hash {
		return Asset{}, fmt.Errorf("content of %s changed while copying", src)
	}

	if err := os.Rename(tmpPath, s.Path(name)); err != nil {
		return Asset{}, fmt.Errorf("failed to move image into place: %w", err)
	}
	return Asset{Name: name, Hash: hash, Size: size, Copied: true}, nil
}

// Lookup returns the stored name for content with the given hash, or "" when
// no such file exists.
func (s *Store) Lookup(hash string) (string, error) {
	names, err := s.names()
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if stem(name) == hash {
			return name, nil
		}
	}
	return "", nil
}

func (s *Store) names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Index is a Store whose hash to name table was read once. It serves a batch
// of copies into a directory nothing else writes to meanwhile.
type Index struct {
	store  *Store
	byHash map[string]string
}

// Index lists the directory once and returns an Index over it
func (s *Store) Index() (*Index, error) {
	names, err := s.names()
	if err != nil {
		return nil, err
	}
	byHash := make(map[string]string, len(names))
	for _, name := range names {
		h := stem(name)
		if _, ok := byHash[h]; !ok {
			byHash[h] = name
		}
	}
	return &Index{store: s, byHash: byHash}, nil
}

// Lookup is Store.Lookup without touching the directory
func (x *Index) Lookup(hash string) string {
	return x.byHash[hash]
}

// StoreHashed is Store.StoreHashed using the index for dedup
func (x *Index) StoreHashed(src, preferredName, hash string) (Asset, error) {
	name := StoredName(hash, preferredName, src)
	if existing, ok := x.byHash[hash]; ok {
		if existing != name {
			if asset, ok, err := x.store.stat(name, hash); ok || err != nil {
				return asset, err
			}
		}
		asset, ok, err := x.store.stat(existing, hash)
		if ok || err != nil {
			return asset, err
		}
		delete(x.byHash, hash)
	}

	asset, err := x.store.write(src, name, hash)
	if err != nil {
		return Asset{}, err
	}
	x.byHash[hash] = name
	return asset, nil
}

// CopyFile copies a file from src to dst, returning size and SHA-1 checksum.
func CopyFile(src, dst string) (size int64, checksum string, err error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return 0, "", fmt.Errorf("failed to open source: %w", err)
	}
	defer srcFile.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, "", fmt.Errorf("failed to create destination directory: %w", err)
	}
	dstFile, err := os.Create(dst)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create destination: %w", err)
	}

	hasher := sha1.New()
	size, err = io.Copy(io.MultiWriter(dstFile, hasher), srcFile)
	if err != nil {
		dstFile.Close()
		return 0, "", fmt.Errorf("failed to copy file: %w", err)
	}
	if err := dstFile.Close(); err != nil {
		return 0, "", fmt.Errorf("failed to flush destination: %w", err)
	}

	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Resolve locates the bytes of a record's image in an incoming store. It
// looks for image_name under imageRoot and then fallbackDir, then for the
// legacy path as an absolute path, then its basename under imageRoot and
// fallbackDir. Absence is a normal outcome.
func Resolve(rec record.Record, imageRoot, fallbackDir string) (string, bool) {
	var candidates []string

	if name := strings.TrimSpace(rec.ImageName.String); rec.ImageName.Valid && name != "" {
		name = filepath.Base(name)
		if imageRoot != "" {
			candidates = append(candidates, filepath.Join(imageRoot, name))
		}
		if fallbackDir != "" {
			candidates = append(candidates, filepath.Join(fallbackDir, name))
		}
	}

	if legacy := strings.TrimSpace(rec.LegacyImage.String); rec.LegacyImage.Valid && legacy != "" {
		if filepath.IsAbs(legacy) {
			candidates = append(candidates, legacy)
		}
		base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(legacy, `\`, "/")))
		if imageRoot != "" {
			candidates = append(candidates, filepath.Join(imageRoot, base))
		}
		if fallbackDir != "" {
			candidates = append(candidates, filepath.Join(fallbackDir, base))
		}
	}

	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}

// Size returns the total bytes of regular files in the directory
func (s *Store) Size() (files int, bytes int64, err error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list images: %w", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return 0, 0, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		files++
		bytes += info.Size()
	}
	return files, bytes, nil
}
