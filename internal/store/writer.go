package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/PeacheyByte/sellventory-companion/internal/record"
	"github.com/PeacheyByte/sellventory-companion/internal/schema"
)

// ErrNoIDColumn is returned when a row must be addressed by id but the store
// has no id column.
var ErrNoIDColumn = errors.New("store has no id column")

// ErrNoTombstoneColumn is returned when a tombstone cannot be stored
var ErrNoTombstoneColumn = errors.New("store has no deleted_at column")

// ErrNotFound is returned when an update matches no row
var ErrNotFound = errors.New("record not found")

// writableFields are persisted on insert. The legacy image path only has
// meaning inside the store that wrote it.
var writableFields = []schema.Field{
	schema.ID, schema.Name, schema.Location, schema.BuyPrice, schema.SoldPrice,
	schema.SoldDate, schema.ImageName, schema.ImageHash, schema.UpdatedAt, schema.DeletedAt,
}

// UpdateFields are written by a full update
var UpdateFields = writableFields[1:]

// Writer writes records inside one transaction. Fields the store has no
// column for are silently not written.
type Writer struct {
	tx       *sql.Tx
	mapping  *schema.Mapping
	readOnly bool
}

// EnsureSyncColumns adds missing sync columns inside the transaction. Later
// writes on w see the new columns; the store's mapping follows on commit.
func (w *Writer) EnsureSyncColumns(ctx context.Context) ([]string, error) {
	if w.readOnly {
		return nil, errors.New("cannot upgrade a read-only store")
	}
	m, added, err := schema.AddSyncColumns(ctx, w.tx, w.mapping)
	if err != nil {
		return nil, err
	}
	w.mapping = m
	return added, nil
}

// Insert adds a new row
func (w *Writer) Insert(ctx context.Context, rec record.Record) error {
	values, err := schema.Encode(w.mapping, rec, writableFields...)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return fmt.Errorf("nothing to insert for record %s", rec.ID)
	}

	query, args, err := sq.Insert(schema.QuoteIdent(w.mapping.Table)).SetMap(quoteKeys(values)).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}
	if _, err := w.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
	}
	return nil
}

// Update overwrites the given fields of the row with rec's id. With no fields
// every writable field except the id is written.
func (w *Writer) Update(ctx context.Context, rec record.Record, fields ...schema.Field) error {
	if len(fields) == 0 {
		fields = UpdateFields
	}

	where, err := w.idPredicate(rec)
	if err != nil {
		return err
	}

	values, err := schema.Encode(w.mapping, rec, fields...)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	query, args, err := sq.Update(schema.QuoteIdent(w.mapping.Table)).
		SetMap(quoteKeys(values)).
		Where(where).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	res, err := w.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to update record %s: %w", rec.ID, ErrNotFound)
	}
	return nil
}

// Tombstone soft-deletes the row with the given id at the given time. The
// modification timestamp moves with it.
func (w *Writer) Tombstone(ctx context.Context, id string, at record.Millis) error {
	if !w.mapping.Has(schema.DeletedAt) {
		return ErrNoTombstoneColumn
	}
	rec := record.Record{ID: id, State: record.Live{}}.Tombstone(at)
	return w.Update(ctx, rec, schema.DeletedAt, schema.UpdatedAt)
}

// Mapping returns the mapping writes go through
func (w *Writer) Mapping() *schema.Mapping {
	return w.mapping
}

func (w *Writer) idPredicate(rec record.Record) (sq.Eq, error) {
	col, ok := w.mapping.Column(schema.ID)
	if !ok {
		return nil, ErrNoIDColumn
	}
	values, err := schema.Encode(w.mapping, rec, schema.ID)
	if err != nil {
		return nil, err
	}
	return sq.Eq{schema.QuoteIdent(col): values[col]}, nil
}

func quoteKeys(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[schema.QuoteIdent(k)] = v
	}
	return out
}
