package schema

import (
	"context"
	"fmt"
	"strconv"

	sq "github.com/Masterminds/squirrel"

	"github.com/PeacheyByte/sellventory-companion/internal/id"
	"github.com/PeacheyByte/sellventory-companion/internal/record"
)

// Read loads every row of the mapped table as a logical record. Rows without
// a usable id get a generated one and are flagged SyntheticID.
func Read(ctx context.Context, q Querier, m *Mapping) ([]record.Record, error) {
	var (
		fields []Field
		exprs  []string
	)
	for _, f := range Fields {
		col, ok := m.Column(f)
		if !ok {
			continue
		}
		fields = append(fields, f)
		exprs = append(exprs, QuoteIdent(col)+" AS "+QuoteIdent(string(f)))
	}

	query, args, err := sq.Select(exprs...).From(QuoteIdent(m.Table)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select for %s: %w", m.Table, err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", m.Table, err)
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		raw := make([]any, len(fields))
		dest := make([]any, len(fields))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row of %s: %w", m.Table, err)
		}

		vals := make(map[Field]any, len(fields))
		for i, f := range fields {
			vals[f] = raw[i]
		}
		out = append(out, decode(m, vals))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", m.Table, err)
	}
	return out, nil
}

func decode(m *Mapping, vals map[Field]any) record.Record {
	rec := record.Record{State: record.Live{}}

	if s, ok := id.Normalize(vals[ID]); ok {
		rec.ID = s
	} else {
		rec.ID = id.New()
		rec.SyntheticID = true
	}

	rec.Name = ToText(vals[Name])
	rec.Location = ToText(vals[Location])
	rec.BuyPrice = ToCents(vals[BuyPrice], m.MoneyUnit(BuyPrice))
	rec.SoldPrice = ToCents(vals[SoldPrice], m.MoneyUnit(SoldPrice))
	rec.SoldDate = ToText(vals[SoldDate])
	rec.ImageName = ToText(vals[ImageName])
	rec.ImageHash = ToText(vals[ImageHash])
	rec.LegacyImage = ToText(vals[LegacyImage])
	rec.UpdatedAt = ToMillis(vals[UpdatedAt])

	if raw := vals[DeletedAt]; isSet(raw) {
		at := ToMillis(raw)
		rec.State = record.Tombstoned{At: at}
	}
	return rec
}

// Encode converts the given fields of rec into physical column values. Fields
// the store has no column for are left out.
func Encode(m *Mapping, rec record.Record, fields ...Field) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		c, ok := m.ColumnInfo(f)
		if !ok {
			continue
		}
		v, err := encodeField(m, c, f, rec)
		if err != nil {
			return nil, err
		}
		out[c.Name] = v
	}
	return out, nil
}

func encodeField(m *Mapping, c Column, f Field, rec record.Record) (any, error) {
	switch f {
	case ID:
		if m.IDIsRowid() {
			n, err := strconv.ParseInt(rec.ID, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("id %q cannot be stored in integer key %s: %w", rec.ID, c.Name, err)
			}
			return n, nil
		}
		return rec.ID, nil
	case Name:
		return nullableText(rec.Name), nil
	case Location:
		return nullableText(rec.Location), nil
	case BuyPrice:
		return FromCents(rec.BuyPrice, m.MoneyUnit(f)), nil
	case SoldPrice:
		return FromCents(rec.SoldPrice, m.MoneyUnit(f)), nil
	case SoldDate:
		return nullableText(rec.SoldDate), nil
	case ImageName:
		return nullableText(rec.ImageName), nil
	case ImageHash:
		return nullableText(rec.ImageHash), nil
	case LegacyImage:
		return nullableText(rec.LegacyImage), nil
	case UpdatedAt:
		return FromMillis(rec.UpdatedAt, c), nil
	case DeletedAt:
		if at, deleted := rec.Deleted(); deleted {
			return FromMillis(at, c), nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unknown field %s", f)
}
