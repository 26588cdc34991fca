package schema

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PeacheyByte/sellventory-companion/internal/record"
)

// MoneyUnit says how a price column stores amounts
type MoneyUnit int

const (
	// Cents columns hold whole minor units (boughtPriceCents, INTEGER columns)
	Cents MoneyUnit = iota
	// Major columns hold decimal amounts in major units (REAL/TEXT columns)
	Major
)

func (u MoneyUnit) String() string {
	if u == Cents {
		return "cents"
	}
	return "major"
}

// textTimestampLayout is used when writing timestamps into text columns
const textTimestampLayout = "2006-01-02 15:04:05.000"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// MoneyUnit returns the storage unit of a price field's column
func (m *Mapping) MoneyUnit(f Field) MoneyUnit {
	c, ok := m.columns[f]
	if !ok {
		return Cents
	}
	if strings.Contains(strings.ToLower(c.Name), "cents") {
		return Cents
	}
	if strings.Contains(strings.ToUpper(c.Type), "INT") {
		return Cents
	}
	return Major
}

// ToCents converts a raw column value to whole cents
func ToCents(raw any, unit MoneyUnit) sql.NullInt64 {
	var d decimal.Decimal
	switch v := raw.(type) {
	case nil:
		return sql.NullInt64{}
	case int64:
		d = decimal.NewFromInt(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	case float64:
		d = decimal.NewFromFloat(v)
	case []byte:
		parsed, ok := parseAmount(string(v))
		if !ok {
			return sql.NullInt64{}
		}
		d = parsed
	case string:
		parsed, ok := parseAmount(v)
		if !ok {
			return sql.NullInt64{}
		}
		d = parsed
	default:
		return sql.NullInt64{}
	}

	if unit == Major {
		d = d.Shift(2)
	}
	return sql.NullInt64{Int64: d.Round(0).IntPart(), Valid: true}
}

// FromCents converts cents back into the column's unit
func FromCents(c sql.NullInt64, unit MoneyUnit) any {
	if !c.Valid {
		return nil
	}
	if unit == Cents {
		return c.Int64
	}
	return decimal.New(c.Int64, -2).InexactFloat64()
}

func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// ToMillis converts an integer ms value or a date string into Millis.
// Numbers are taken as ms as stored, so writing them back through FromMillis
// leaves the column unchanged. Unparseable values read as absent.
func ToMillis(raw any) record.Millis {
	switch v := raw.(type) {
	case nil:
		return 0
	case int64:
		return record.Millis(v)
	case int:
		return record.Millis(v)
	case float64:
		return record.Millis(v)
	case time.Time:
		return record.FromTime(v)
	case []byte:
		return parseMillis(string(v))
	case string:
		return parseMillis(v)
	}
	return 0
}

// FromMillis converts Millis into a value for the given column
func FromMillis(m record.Millis, col Column) any {
	if m.IsZero() {
		return nil
	}
	if isTextAffinity(col.Type) {
		return m.Time().Format(textTimestampLayout)
	}
	return int64(m)
}

func parseMillis(s string) record.Millis {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return record.Millis(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return record.Millis(f)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return record.FromTime(t)
		}
	}
	return 0
}

// isSet reports whether a raw tombstone value marks the row deleted.
// Null, empty strings and numeric zero are treated as live.
func isSet(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return false
	case int64:
		return v != 0
	case int:
		return v != 0
	case float64:
		return v != 0
	case []byte:
		return isSetText(string(v))
	case string:
		return isSetText(v)
	case time.Time:
		return !v.IsZero()
	}
	return true
}

func isSetText(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != "0"
}

// ToText converts a raw column value into a nullable string
func ToText(raw any) sql.NullString {
	switch v := raw.(type) {
	case nil:
		return sql.NullString{}
	case string:
		return sql.NullString{String: v, Valid: true}
	case []byte:
		return sql.NullString{String: string(v), Valid: true}
	case int64:
		return sql.NullString{String: strconv.FormatInt(v, 10), Valid: true}
	case float64:
		return sql.NullString{String: strconv.FormatFloat(v, 'f', -1, 64), Valid: true}
	case time.Time:
		return sql.NullString{String: formatTime(v), Valid: true}
	}
	return sql.NullString{}
}

// formatTime renders dates the driver parsed out of DATE/DATETIME columns.
// Midnight values are plain calendar dates.
func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

func isTextAffinity(declType string) bool {
	t := strings.ToUpper(declType)
	for _, marker := range []string{"CHAR", "CLOB", "TEXT", "DATE", "TIME"} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

func nullableText(s sql.NullString) any {
	if !s.Valid {
		return nil
	}
	return s.String
}
