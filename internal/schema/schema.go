// Package schema discovers which physical columns of an inventory store hold
// each logical record field.
//
// Column names changed across versions of the exporting app (title vs name,
// storage vs location, boughtPriceCents vs buy_price, ...). Discovery runs
// once per store open; the resulting Mapping is never re-derived while a
// merge is in progress. A logical field without a column is absent and reads
// as null for every row of that store.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Field is a logical record field
type Field string

const (
	ID        Field = "id"
	Name      Field = "name"
	Location  Field = "location"
	BuyPrice  Field = "buy_price"
	SoldPrice Field = "sold_price"
	SoldDate  Field = "sold_date"
	ImageName Field = "image_name"
	ImageHash Field = "image_hash"
	UpdatedAt Field = "updated_at"
	DeletedAt Field = "deleted_at"

	// LegacyImage is the per-record image path column of the first app
	// versions, consulted only when resolving image bytes.
	LegacyImage Field = "legacy_image"
)

// Fields lists every logical field in a stable order
var Fields = []Field{ID, Name, Location, BuyPrice, SoldPrice, SoldDate, ImageName, ImageHash, UpdatedAt, DeletedAt, LegacyImage}

// SyncFields are the columns a store needs to take part in merges as the
// local side. Missing ones can be added with an upgrade.
var SyncFields = []Field{ImageName, ImageHash, UpdatedAt, DeletedAt}

// candidates maps each field to its known physical names, in priority order.
// Matching is case-insensitive.
var candidates = map[Field][]string{
	ID:          {"id", "uuid", "item_id", "local_id"},
	Name:        {"name", "title"},
	Location:    {"location", "storage"},
	BuyPrice:    {"buy_price", "bought_price", "boughtPriceCents", "buy_price_cents"},
	SoldPrice:   {"sold_price", "soldPriceCents", "sold_price_cents"},
	SoldDate:    {"sold_date", "soldDate"},
	ImageName:   {"image_name", "imageName"},
	ImageHash:   {"image_hash", "imageHash"},
	UpdatedAt:   {"updated_at", "updatedAt", "modified_at"},
	DeletedAt:   {"deleted_at", "deletedAt"},
	LegacyImage: {"image", "image_path", "imagePath"},
}

// syncColumnTypes is the declared type used when adding a missing sync column
var syncColumnTypes = map[Field]string{
	ImageName: "TEXT",
	ImageHash: "TEXT",
	UpdatedAt: "INTEGER",
	DeletedAt: "INTEGER",
}

// PreferredTable is chosen over any other table when present
const PreferredTable = "items"

// ErrSchema is matched by every SchemaError
var ErrSchema = errors.New("unusable store schema")

// SchemaError reports a store whose tables or columns cannot be mapped
type SchemaError struct {
	Table  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("unusable store schema: %s", e.Reason)
	}
	return fmt.Sprintf("unusable store schema: table %s: %s", e.Table, e.Reason)
}

// Is lets errors.Is(err, ErrSchema) match
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// Column describes one physical column
type Column struct {
	Name string
	Type string
	PK   bool
}

// Querier is satisfied by *sql.DB, *sql.Tx and *db.DB
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Mapping is the resolved logical → physical view of one store table
type Mapping struct {
	Table   string
	columns map[Field]Column
	all     []Column
}

// Column returns the physical column for f, or false when the store lacks it
func (m *Mapping) Column(f Field) (string, bool) {
	c, ok := m.columns[f]
	if !ok {
		return "", false
	}
	return c.Name, true
}

// Has reports whether f has a physical column
func (m *Mapping) Has(f Field) bool {
	_, ok := m.columns[f]
	return ok
}

// ColumnInfo returns the full column description for f
func (m *Mapping) ColumnInfo(f Field) (Column, bool) {
	c, ok := m.columns[f]
	return c, ok
}

// Missing returns the subset of fields without a physical column
func (m *Mapping) Missing(fields ...Field) []Field {
	var out []Field
	for _, f := range fields {
		if !m.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Columns returns every physical column of the table in declaration order
func (m *Mapping) Columns() []Column {
	return append([]Column(nil), m.all...)
}

// IDIsRowid reports whether the id column is an INTEGER PRIMARY KEY alias of
// the SQLite rowid, which only accepts integer values.
func (m *Mapping) IDIsRowid() bool {
	c, ok := m.columns[ID]
	return ok && c.PK && strings.EqualFold(strings.TrimSpace(c.Type), "INTEGER")
}

// Discover picks the inventory table and maps its columns
func Discover(ctx context.Context, q Querier) (*Mapping, error) {
	tables, err := listTables(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, &SchemaError{Reason: "no tables found"}
	}

	for _, t := range tables {
		if strings.EqualFold(t, PreferredTable) {
			return DiscoverTable(ctx, q, t)
		}
	}

	for _, t := range tables {
		m, err := DiscoverTable(ctx, q, t)
		if errors.Is(err, ErrSchema) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return m, nil
	}

	return nil, &SchemaError{Reason: fmt.Sprintf("none of %d tables has an id or name column", len(tables))}
}

// DiscoverTable maps the columns of a named table
func DiscoverTable(ctx context.Context, q Querier, table string) (*Mapping, error) {
	cols, err := tableColumns(ctx, q, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, &SchemaError{Table: table, Reason: "table has no columns"}
	}

	byName := make(map[string]Column, len(cols))
	for _, c := range cols {
		byName[strings.ToLower(c.Name)] = c
	}

	m := &Mapping{Table: table, columns: make(map[Field]Column), all: cols}
	for _, f := range Fields {
		for _, name := range candidates[f] {
			if c, ok := byName[strings.ToLower(name)]; ok {
				m.columns[f] = c
				break
			}
		}
	}

	if !m.Has(ID) && !m.Has(Name) {
		return nil, &SchemaError{Table: table, Reason: "no id or name column"}
	}

	return m, nil
}

// Execer can both query and alter a store
type Execer interface {
	Querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AddSyncColumns adds any missing SyncFields columns using their canonical
// names and returns the rediscovered mapping plus the columns added.
func AddSyncColumns(ctx context.Context, e Execer, m *Mapping) (*Mapping, []string, error) {
	var added []string
	for _, f := range m.Missing(SyncFields...) {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", QuoteIdent(m.Table), QuoteIdent(string(f)), syncColumnTypes[f])
		if _, err := e.ExecContext(ctx, stmt); err != nil {
			return nil, added, fmt.Errorf("failed to add column %s to %s: %w", f, m.Table, err)
		}
		added = append(added, string(f))
	}
	if len(added) == 0 {
		return m, nil, nil
	}

	refreshed, err := DiscoverTable(ctx, e, m.Table)
	if err != nil {
		return nil, added, err
	}
	return refreshed, added, nil
}

// QuoteIdent quotes a SQLite identifier
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func listTables(ctx context.Context, q Querier) ([]string, error) {
	query, args, err := sq.Select("name").
		From("sqlite_master").
		Where(sq.Eq{"type": "table"}).
		Where(sq.NotLike{"name": "sqlite_%"}).
		Where(sq.NotEq{"name": "schema_migrations"}).
		OrderBy("name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build table query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	sort.Strings(tables)
	return tables, nil
}

func tableColumns(ctx context.Context, q Querier, table string) ([]Column, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", QuoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to get columns for table %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		cols = append(cols, Column{Name: name, Type: colType, PK: pk > 0})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns of %s: %w", table, err)
	}
	return cols, nil
}
