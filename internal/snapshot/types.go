// Package snapshot provides canonical JSON state snapshots of a library.
//
// Snapshots are deterministic: two stores holding the same records produce
// identical bytes and the same revision whatever their physical schema, so a
// revision can be compared before and after a merge.
package snapshot

// Version is the snapshot format version
const Version = 1

// Snapshot represents the logical content of one store.
type Snapshot struct {
	Meta  Meta                 `json:"meta"`
	Items map[string]ItemEntry `json:"items,omitempty"`
}

// Meta contains snapshot metadata.
type Meta struct {
	Version     int    `json:"version"`
	Table       string `json:"table,omitempty"`
	SnapshotRev string `json:"snapshot_rev,omitempty"`
	GeneratedAt string `json:"generated_at,omitempty"`

	// Unkeyed counts rows without a persisted id. They get a new id on
	// every read, so they are left out of Items.
	Unkeyed int `json:"unkeyed,omitempty"`
}

// ItemEntry represents one record in the snapshot. Keys under "items" are
// record ids. Null fields are omitted.
type ItemEntry struct {
	Name      *string `json:"name,omitempty"`
	Location  *string `json:"location,omitempty"`
	BuyPrice  *int64  `json:"buy_price,omitempty"`
	SoldPrice *int64  `json:"sold_price,omitempty"`
	SoldDate  *string `json:"sold_date,omitempty"`
	ImageName *string `json:"image_name,omitempty"`
	ImageHash *string `json:"image_hash,omitempty"`
	UpdatedAt int64   `json:"updated_at,omitempty"`
	DeletedAt int64   `json:"deleted_at,omitempty"`
}
