// Package store provides record-level access to an inventory database through
// its discovered schema mapping. Every read and write goes through the
// mapping, so stores written by older app versions work unchanged.
package store

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/PeacheyByte/sellventory-companion/internal/db"
	"github.com/PeacheyByte/sellventory-companion/internal/record"
	"github.com/PeacheyByte/sellventory-companion/internal/schema"
)

// Store is one opened inventory database plus its image directory.
type Store struct {
	db        *db.DB
	mapping   *schema.Mapping
	imagesDir string
}

// Open opens a writable store. A database without any tables is initialized
// with the current schema first.
func Open(ctx context.Context, path, imagesDir string) (*Store, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}

	empty, err := hasNoTables(ctx, database)
	if err != nil {
		database.Close()
		return nil, err
	}
	if empty {
		if err := database.Migrate(); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to initialize %s: %w", path, err)
		}
	}

	return newStore(ctx, database, imagesDir)
}

// OpenIncoming opens a store read-only. It never creates or modifies files.
func OpenIncoming(ctx context.Context, path, imagesDir string) (*Store, error) {
	database, err := db.OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	return newStore(ctx, database, imagesDir)
}

// Init creates a new library: database with the current schema and an empty
// image directory.
func Init(ctx context.Context, path, imagesDir string) (*Store, error) {
	if err := os.MkdirAll(imagesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}
	return Open(ctx, path, imagesDir)
}

func newStore(ctx context.Context, database *db.DB, imagesDir string) (*Store, error) {
	m, err := schema.Discover(ctx, database)
	if err != nil {
		database.Close()
		return nil, err
	}
	return &Store{db: database, mapping: m, imagesDir: imagesDir}, nil
}

func hasNoTables(ctx context.Context, database *db.DB) (bool, error) {
	var n int
	err := database.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", database.Path(), err)
	}
	return n == 0, nil
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection
func (s *Store) DB() *db.DB {
	return s.db
}

// Mapping returns the schema mapping resolved at open
func (s *Store) Mapping() *schema.Mapping {
	return s.mapping
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.db.Path()
}

// ImagesDir returns the directory holding the store's image files
func (s *Store) ImagesDir() string {
	return s.imagesDir
}

// Records reads every row once. It returns records keyed by id and the ids in
// the order they were read. When a store holds duplicate ids the last row wins.
func (s *Store) Records(ctx context.Context) (map[string]record.Record, []string, error) {
	recs, err := schema.Read(ctx, s.db, s.mapping)
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[string]record.Record, len(recs))
	order := make([]string, 0, len(recs))
	for _, r := range recs {
		if _, dup := byID[r.ID]; !dup {
			order = append(order, r.ID)
		}
		byID[r.ID] = r
	}
	return byID, order, nil
}

// List returns all records, live and tombstoned, sorted by id
func (s *Store) List(ctx context.Context) ([]record.Record, error) {
	byID, order, err := s.Records(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(order)

	out := make([]record.Record, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// ReferencedImages returns the sorted distinct image names used by any record
func (s *Store) ReferencedImages(ctx context.Context) ([]string, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var names []string
	for _, r := range recs {
		if !r.ImageName.Valid || r.ImageName.String == "" || seen[r.ImageName.String] {
			continue
		}
		seen[r.ImageName.String] = true
		names = append(names, r.ImageName.String)
	}
	sort.Strings(names)
	return names, nil
}

// Counts summarizes the records of a store
type Counts struct {
	Total     int `json:"total" yaml:"total"`
	Live      int `json:"live" yaml:"live"`
	Deleted   int `json:"deleted" yaml:"deleted"`
	WithImage int `json:"with_image" yaml:"with_image"`
}

// Count tallies live, tombstoned and image-bearing records
func (s *Store) Count(ctx context.Context) (Counts, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return Counts{}, err
	}

	var c Counts
	for _, r := range recs {
		c.Total++
		if r.IsLive() {
			c.Live++
		} else {
			c.Deleted++
		}
		if r.HasImage() {
			c.WithImage++
		}
	}
	return c, nil
}

// EnsureSyncColumns adds any missing image/timestamp/tombstone columns and
// refreshes the mapping. It returns the names of the columns added.
func (s *Store) EnsureSyncColumns(ctx context.Context) ([]string, error) {
	var added []string
	err := s.WithTx(ctx, func(w *Writer) error {
		cols, err := w.EnsureSyncColumns(ctx)
		added = cols
		return err
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// WithTx executes fn within a transaction. If fn returns nil, the transaction
// is committed; otherwise it is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(w *Writer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	w := &Writer{tx: tx, mapping: s.mapping, readOnly: s.db.ReadOnly()}
	if err := fn(w); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	// Columns added inside the transaction only exist once it commits
	s.mapping = w.mapping
	return nil
}
