package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/PeacheyByte/sellventory-companion/internal/record"
	"github.com/PeacheyByte/sellventory-companion/internal/store"
)

// Build converts records into a snapshot. Records with generated ids are
// counted but not included.
func Build(table string, recs []record.Record) *Snapshot {
	s := &Snapshot{
		Meta:  Meta{Version: Version, Table: table},
		Items: make(map[string]ItemEntry, len(recs)),
	}
	for _, r := range recs {
		if r.SyntheticID {
			s.Meta.Unkeyed++
			continue
		}
		s.Items[r.ID] = entryFor(r)
	}
	return s
}

// FromStore reads a store and returns its snapshot with SnapshotRev set,
// along with the canonical bytes the revision was computed over.
func FromStore(ctx context.Context, st *store.Store) (*Snapshot, []byte, error) {
	recs, err := st.List(ctx)
	if err != nil {
		return nil, nil, err
	}

	s := Build(st.Mapping().Table, recs)
	data, err := CanonicalJSON(s)
	if err != nil {
		return nil, nil, err
	}
	s.Meta.SnapshotRev = ComputeSnapshotRev(data)
	return s, data, nil
}

func entryFor(r record.Record) ItemEntry {
	e := ItemEntry{
		Name:      str(r.Name),
		Location:  str(r.Location),
		BuyPrice:  num(r.BuyPrice),
		SoldPrice: num(r.SoldPrice),
		SoldDate:  str(r.SoldDate),
		ImageName: str(r.ImageName),
		ImageHash: str(r.ImageHash),
		UpdatedAt: int64(r.UpdatedAt),
	}
	if at, deleted := r.Deleted(); deleted {
		e.DeletedAt = int64(at)
	}
	return e
}

func str(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func num(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// CanonicalJSON produces a deterministic JSON encoding following JCS-like rules:
// - Keys sorted lexicographically
// - No insignificant whitespace
// - Null fields omitted
//
// Meta.SnapshotRev and Meta.GeneratedAt are excluded so the encoding only
// depends on the records.
func CanonicalJSON(s *Snapshot) ([]byte, error) {
	ordered := buildOrderedSnapshot(s)

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(ordered); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	// Remove trailing newline added by Encode
	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}

	return result, nil
}

// ComputeSnapshotRev computes the sha256 hash of canonical JSON bytes.
// Returns "sha256:<hex>" format.
func ComputeSnapshotRev(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// WriteFile writes the indented snapshot to path
func WriteFile(path string, s *Snapshot) error {
	data, err := PrettyJSON(s)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func buildOrderedSnapshot(s *Snapshot) orderedMap {
	result := make(orderedMap, 0, 2)

	// items (if non-empty)
	if len(s.Items) > 0 {
		result = append(result, keyValue{"items", buildOrderedItems(s.Items)})
	}

	result = append(result, keyValue{"meta", buildOrderedMeta(&s.Meta)})

	return result
}

// orderedMap is a slice of key-value pairs that marshals as a JSON object
// with keys in the order they appear in the slice.
type orderedMap []keyValue

type keyValue struct {
	Key   string
	Value interface{}
}

func (om orderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, kv := range om {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyJSON, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')

		valJSON, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(valJSON)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func buildOrderedMeta(m *Meta) orderedMap {
	result := make(orderedMap, 0, 3)

	// Fields in lexicographic order
	if m.Table != "" {
		result = append(result, keyValue{"table", m.Table})
	}
	if m.Unkeyed != 0 {
		result = append(result, keyValue{"unkeyed", m.Unkeyed})
	}
	result = append(result, keyValue{"version", m.Version})

	return result
}

func buildOrderedItems(items map[string]ItemEntry) orderedMap {
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make(orderedMap, 0, len(items))
	for _, id := range ids {
		item := items[id]
		result = append(result, keyValue{id, buildOrderedItem(&item)})
	}
	return result
}

func buildOrderedItem(e *ItemEntry) orderedMap {
	result := make(orderedMap, 0, 9)

	// Fields in lexicographic order
	if e.BuyPrice != nil {
		result = append(result, keyValue{"buy_price", *e.BuyPrice})
	}
	if e.DeletedAt != 0 {
		result = append(result, keyValue{"deleted_at", e.DeletedAt})
	}
	if e.ImageHash != nil {
		result = append(result, keyValue{"image_hash", *e.ImageHash})
	}
	if e.ImageName != nil {
		result = append(result, keyValue{"image_name", *e.ImageName})
	}
	if e.Location != nil {
		result = append(result, keyValue{"location", *e.Location})
	}
	if e.Name != nil {
		result = append(result, keyValue{"name", *e.Name})
	}
	if e.SoldDate != nil {
		result = append(result, keyValue{"sold_date", *e.SoldDate})
	}
	if e.SoldPrice != nil {
		result = append(result, keyValue{"sold_price", *e.SoldPrice})
	}
	if e.UpdatedAt != 0 {
		result = append(result, keyValue{"updated_at", e.UpdatedAt})
	}

	return result
}

// PrettyJSON produces human-readable indented JSON (non-canonical).
// Useful for debugging but not for deterministic comparison.
func PrettyJSON(s *Snapshot) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
