// Package record defines the inventory record shared by every store and the
// merge statistics reported back to callers.
package record

import (
	"database/sql"
	"time"
)

// Millis is a timestamp in milliseconds since the Unix epoch. Zero means the
// store did not carry a value.
type Millis int64

// FromTime converts a time.Time to Millis
func FromTime(t time.Time) Millis {
	return Millis(t.UnixMilli())
}

// Time converts back to a UTC time.Time
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

// IsZero reports whether the timestamp is absent
func (m Millis) IsZero() bool {
	return m == 0
}

// State is either Live or Tombstoned.
type State interface {
	isState()
}

// Live marks a record that has not been deleted
type Live struct{}

// Tombstoned marks a record soft-deleted at At
type Tombstoned struct {
	At Millis
}

func (Live) isState()       {}
func (Tombstoned) isState() {}

// Record is one inventory entry in logical (schema independent) form.
// Prices are whole cents.
type Record struct {
	ID          string
	Name        sql.NullString
	Location    sql.NullString
	BuyPrice    sql.NullInt64
	SoldPrice   sql.NullInt64
	SoldDate    sql.NullString
	ImageName   sql.NullString
	ImageHash   sql.NullString
	LegacyImage sql.NullString
	UpdatedAt   Millis
	State       State

	// SyntheticID is set when the row had no persisted id and ID was
	// generated at read time.
	SyntheticID bool
}

// Deleted returns the tombstone timestamp and whether the record is tombstoned
func (r *Record) Deleted() (Millis, bool) {
	if t, ok := r.State.(Tombstoned); ok {
		return t.At, true
	}
	return 0, false
}

// IsLive reports whether the record is not tombstoned
func (r *Record) IsLive() bool {
	_, deleted := r.Deleted()
	return !deleted
}

// HasImage reports whether the record declares an image by name or legacy path
func (r *Record) HasImage() bool {
	return nonEmpty(r.ImageName) || nonEmpty(r.LegacyImage)
}

// Tombstone returns a copy of r deleted at the given time. The modification
// timestamp moves with the tombstone.
func (r Record) Tombstone(at Millis) Record {
	r.State = Tombstoned{At: at}
	r.UpdatedAt = at
	return r
}

// LastChange is the latest moment the record is known to have changed. A
// tombstone counts as a change even when the writer left UpdatedAt behind.
func (r *Record) LastChange() Millis {
	if at, deleted := r.Deleted(); deleted && at > r.UpdatedAt {
		return at
	}
	return r.UpdatedAt
}

// Field names one of the values that take part in an equal-timestamp merge.
type Field string

const (
	FieldSoldDate  Field = "sold_date"
	FieldSoldPrice Field = "sold_price"
	FieldName      Field = "name"
	FieldLocation  Field = "location"
	FieldBuyPrice  Field = "buy_price"
)

// MergeableFields is the fixed order in which fields are merged
var MergeableFields = []Field{FieldSoldDate, FieldSoldPrice, FieldName, FieldLocation, FieldBuyPrice}

// Value is a nullable field value in a comparable form.
type Value struct {
	Valid bool
	Text  string
	Int   int64
	IsInt bool
}

// Empty reports whether the value is null or an empty string
func (v Value) Empty() bool {
	if !v.Valid {
		return true
	}
	return !v.IsInt && v.Text == ""
}

// Equal compares two values including their null state
func (v Value) Equal(o Value) bool {
	if v.Valid != o.Valid {
		return false
	}
	if !v.Valid {
		return true
	}
	if v.IsInt != o.IsInt {
		return false
	}
	if v.IsInt {
		return v.Int == o.Int
	}
	return v.Text == o.Text
}

// Get returns the value of a mergeable field
func (r *Record) Get(f Field) Value {
	switch f {
	case FieldSoldDate:
		return textValue(r.SoldDate)
	case FieldSoldPrice:
		return intValue(r.SoldPrice)
	case FieldName:
		return textValue(r.Name)
	case FieldLocation:
		return textValue(r.Location)
	case FieldBuyPrice:
		return intValue(r.BuyPrice)
	}
	return Value{}
}

// Set assigns a mergeable field
func (r *Record) Set(f Field, v Value) {
	switch f {
	case FieldSoldDate:
		r.SoldDate = sql.NullString{String: v.Text, Valid: v.Valid}
	case FieldSoldPrice:
		r.SoldPrice = sql.NullInt64{Int64: v.Int, Valid: v.Valid}
	case FieldName:
		r.Name = sql.NullString{String: v.Text, Valid: v.Valid}
	case FieldLocation:
		r.Location = sql.NullString{String: v.Text, Valid: v.Valid}
	case FieldBuyPrice:
		r.BuyPrice = sql.NullInt64{Int64: v.Int, Valid: v.Valid}
	}
}

func textValue(s sql.NullString) Value {
	return Value{Valid: s.Valid, Text: s.String}
}

func intValue(n sql.NullInt64) Value {
	return Value{Valid: n.Valid, Int: n.Int64, IsInt: true}
}

func nonEmpty(s sql.NullString) bool {
	return s.Valid && s.String != ""
}

// Stats are the aggregate counters of one merge pass.
type Stats struct {
	Inserted     int `json:"inserted" yaml:"inserted"`
	Updated      int `json:"updated" yaml:"updated"`
	Deleted      int `json:"deleted" yaml:"deleted"`
	ImagesCopied int `json:"images_copied" yaml:"images_copied"`
	Skipped      int `json:"skipped" yaml:"skipped"`
}

// Changed returns the number of records written
func (s Stats) Changed() int {
	return s.Inserted + s.Updated + s.Deleted
}

// Total returns the number of incoming records considered
func (s Stats) Total() int {
	return s.Changed() + s.Skipped
}
