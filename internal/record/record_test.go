package record

import (
	"database/sql"
	"testing"
	"time"
)

func TestRecordState(t *testing.T) {
	r := Record{ID: "a", State: Live{}, UpdatedAt: 100}
	if !r.IsLive() {
		t.Fatal("expected live record")
	}
	if _, deleted := r.Deleted(); deleted {
		t.Fatal("live record reported as deleted")
	}

	d := r.Tombstone(500)
	at, deleted := d.Deleted()
	if !deleted || at != 500 {
		t.Fatalf("Deleted() = %d, %v; want 500, true", at, deleted)
	}
	if d.UpdatedAt != 500 {
		t.Errorf("UpdatedAt = %d, want 500", d.UpdatedAt)
	}
	if !r.IsLive() {
		t.Error("Tombstone must not modify the receiver")
	}
}

func TestValueEqualAndEmpty(t *testing.T) {
	tests := []struct {
		name  string
		a, b  Value
		equal bool
	}{
		{"both null", Value{}, Value{}, true},
		{"null vs text", Value{}, Value{Valid: true, Text: "x"}, false},
		{"same text", Value{Valid: true, Text: "x"}, Value{Valid: true, Text: "x"}, true},
		{"different int", Value{Valid: true, Int: 1, IsInt: true}, Value{Valid: true, Int: 2, IsInt: true}, false},
		{"same int", Value{Valid: true, Int: 7, IsInt: true}, Value{Valid: true, Int: 7, IsInt: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.equal {
				t.Errorf("Equal() = %v, want %v", got, tt.equal)
			}
		})
	}

	if !(Value{Valid: true, Text: ""}).Empty() {
		t.Error("empty string should be Empty()")
	}
	if (Value{Valid: true, Int: 0, IsInt: true}).Empty() {
		t.Error("zero integer is a value, not Empty()")
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	var r Record
	r.Set(FieldSoldPrice, Value{Valid: true, Int: 900, IsInt: true})
	r.Set(FieldSoldDate, Value{Valid: true, Text: "2024-05-01"})

	if r.SoldPrice != (sql.NullInt64{Int64: 900, Valid: true}) {
		t.Errorf("SoldPrice = %+v", r.SoldPrice)
	}
	if got := r.Get(FieldSoldDate); got.Text != "2024-05-01" || !got.Valid {
		t.Errorf("Get(sold_date) = %+v", got)
	}
	if got := r.Get(FieldName); got.Valid {
		t.Errorf("Get(name) on empty record = %+v, want null", got)
	}
}

func TestMillis(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := FromTime(ts)
	if !m.Time().Equal(ts) {
		t.Errorf("Time() = %v, want %v", m.Time(), ts)
	}
	if !Millis(0).IsZero() {
		t.Error("zero Millis should be IsZero")
	}
}

func TestStatsTotals(t *testing.T) {
	s := Stats{Inserted: 1, Updated: 2, Deleted: 3, ImagesCopied: 4, Skipped: 5}
	if s.Changed() != 6 {
		t.Errorf("Changed() = %d, want 6", s.Changed())
	}
	if s.Total() != 11 {
		t.Errorf("Total() = %d, want 11", s.Total())
	}
}

func TestLastChange(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want Millis
	}{
		{"live", Record{UpdatedAt: 100, State: Live{}}, 100},
		{"tombstone moves updated_at", Record{UpdatedAt: 100, State: Live{}}.Tombstone(500), 500},
		{"tombstone without updated_at", Record{State: Tombstoned{At: 500}}, 500},
		{"edited after deletion", Record{UpdatedAt: 900, State: Tombstoned{At: 500}}, 900},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.LastChange(); got != tt.want {
				t.Errorf("LastChange() = %d, want %d", got, tt.want)
			}
		})
	}
}
