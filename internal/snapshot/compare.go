package snapshot

import (
	"sort"
)

// ChangeKind classifies how an item differs between two snapshots
type ChangeKind string

const (
	ChangeAdd     ChangeKind = "add"
	ChangeRemove  ChangeKind = "remove"
	ChangeReplace ChangeKind = "replace"
)

// Change is one item that differs from base to target
type Change struct {
	ID     string     `json:"id" yaml:"id"`
	Kind   ChangeKind `json:"kind" yaml:"kind"`
	Fields []string   `json:"fields,omitempty" yaml:"fields,omitempty,flow"`
}

// Compare lists the items that differ between base and target, sorted by id.
// Replaced items name the fields whose values differ.
func Compare(base, target *Snapshot) []Change {
	keys := make(map[string]bool, len(base.Items)+len(target.Items))
	for k := range base.Items {
		keys[k] = true
	}
	for k := range target.Items {
		keys[k] = true
	}

	ids := make([]string, 0, len(keys))
	for k := range keys {
		ids = append(ids, k)
	}
	sort.Strings(ids)

	var changes []Change
	for _, id := range ids {
		b, inBase := base.Items[id]
		t, inTarget := target.Items[id]

		switch {
		case !inBase:
			changes = append(changes, Change{ID: id, Kind: ChangeAdd})
		case !inTarget:
			changes = append(changes, Change{ID: id, Kind: ChangeRemove})
		default:
			if fields := changedFields(&b, &t); len(fields) > 0 {
				changes = append(changes, Change{ID: id, Kind: ChangeReplace, Fields: fields})
			}
		}
	}
	return changes
}

// changedFields compares two entries through their canonical field lists
func changedFields(a, b *ItemEntry) []string {
	av := fieldValues(buildOrderedItem(a))
	bv := fieldValues(buildOrderedItem(b))

	names := make(map[string]bool, len(av)+len(bv))
	for k := range av {
		names[k] = true
	}
	for k := range bv {
		names[k] = true
	}

	var fields []string
	for name := range names {
		x, okA := av[name]
		y, okB := bv[name]
		if okA != okB || x != y {
			fields = append(fields, name)
		}
	}
	sort.Strings(fields)
	return fields
}

func fieldValues(om orderedMap) map[string]any {
	m := make(map[string]any, len(om))
	for _, kv := range om {
		m[kv.Key] = kv.Value
	}
	return m
}
