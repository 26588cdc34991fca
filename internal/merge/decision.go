package merge

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PeacheyByte/sellventory-companion/internal/content"
	"github.com/PeacheyByte/sellventory-companion/internal/record"
)

// Action is what a merge pass does with one incoming record
type Action string

const (
	ActionInsert      Action = "insert"
	ActionUpdate      Action = "update"
	ActionMergeFields Action = "merge-fields"
	ActionTombstone   Action = "tombstone"
	ActionSkip        Action = "skip"
)

// Reason explains a skip
type Reason string

const (
	// ReasonUnknownDelete: tombstone for an id the local store never had
	ReasonUnknownDelete Reason = "unknown-delete"
	// ReasonStaleDelete: the local record changed after the incoming deletion
	ReasonStaleDelete Reason = "stale-delete"
	// ReasonAlreadyDeleted: the local record carries the same or a later tombstone
	ReasonAlreadyDeleted Reason = "already-deleted"
	// ReasonNoTombstoneColumn: the local store cannot hold a tombstone
	ReasonNoTombstoneColumn Reason = "no-tombstone-column"
	// ReasonLocalNewer: the local record has the later timestamp
	ReasonLocalNewer Reason = "local-newer"
	// ReasonIdentical: equal timestamps and nothing to adopt
	ReasonIdentical Reason = "identical"
	// ReasonUnkeyedIntoRowid: the incoming row has no id and the local key
	// only holds integers
	ReasonUnkeyedIntoRowid Reason = "unkeyed-into-rowid"
)

// ImagePlan describes an image to copy into the local content store
type ImagePlan struct {
	Source string `json:"source" yaml:"source"`
	Hash   string `json:"hash" yaml:"hash"`
	Name   string `json:"name" yaml:"name"`
}

// Decision is the classification of one incoming record against the local
// snapshot, plus the record that will be written.
type Decision struct {
	ID     string         `json:"id" yaml:"id"`
	Action Action         `json:"action" yaml:"action"`
	Reason Reason         `json:"reason,omitempty" yaml:"reason,omitempty"`
	Fields []record.Field `json:"fields,omitempty" yaml:"fields,omitempty,flow"`
	Image  *ImagePlan     `json:"image,omitempty" yaml:"image,omitempty"`

	Local    *record.Record `json:"-" yaml:"-"`
	Incoming record.Record  `json:"-" yaml:"-"`
	Result   record.Record  `json:"-" yaml:"-"`
}

// Writes reports whether the decision changes the local store
func (d Decision) Writes() bool {
	return d.Action != ActionSkip
}

func (d Decision) String() string {
	if d.Reason != "" {
		return fmt.Sprintf("%s %s (%s)", d.Action, d.ID, d.Reason)
	}
	return fmt.Sprintf("%s %s", d.Action, d.ID)
}

// resolvedImage is an incoming image located and hashed before classification
type resolvedImage struct {
	Path string
	Hash string
}

var hexHash = regexp.MustCompile(`^[0-9a-f]{40}$`)

// localImageHash returns the content hash of a local record's image. Stores
// without an image_hash column still name images by hash, so the stem of
// image_name is used as a fallback.
func localImageHash(r *record.Record) string {
	if r.ImageHash.Valid && r.ImageHash.String != "" {
		return r.ImageHash.String
	}
	if !r.ImageName.Valid {
		return ""
	}
	base := filepath.Base(r.ImageName.String)
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	if hexHash.MatchString(stem) {
		return stem
	}
	return ""
}

func planImage(in record.Record, img *resolvedImage) *ImagePlan {
	return &ImagePlan{
		Source: img.Path,
		Hash:   img.Hash,
		Name:   content.StoredName(img.Hash, in.ImageName.String, img.Path),
	}
}

// classify decides what to do with one incoming record. local is nil when the
// local store has no record with that id. It never looks at anything written
// during the current pass.
func classify(local *record.Record, in record.Record, img *resolvedImage, canTombstone bool, now record.Millis) Decision {
	d := Decision{ID: in.ID, Local: local, Incoming: in}

	if at, deleted := in.Deleted(); deleted {
		return classifyDelete(d, local, at, canTombstone)
	}

	if local == nil {
		d.Action = ActionInsert
		d.Result = in
		if d.Result.UpdatedAt.IsZero() {
			d.Result.UpdatedAt = now
		}
		if img != nil {
			d.Image = planImage(in, img)
		}
		return d
	}

	switch localAt := local.LastChange(); {
	case in.UpdatedAt > localAt:
		return classifyNewer(d, local, in, img)
	case in.UpdatedAt == localAt:
		return classifyEqual(d, local, in, img, now)
	default:
		d.Action = ActionSkip
		d.Reason = ReasonLocalNewer
		return d
	}
}

func classifyDelete(d Decision, local *record.Record, at record.Millis, canTombstone bool) Decision {
	d.Action = ActionSkip

	switch {
	case local == nil:
		d.Reason = ReasonUnknownDelete
	case !canTombstone:
		d.Reason = ReasonNoTombstoneColumn
	default:
		if localAt, deleted := local.Deleted(); deleted && localAt >= at {
			d.Reason = ReasonAlreadyDeleted
			return d
		}
		if at < local.LastChange() {
			d.Reason = ReasonStaleDelete
			return d
		}
		d.Action = ActionTombstone
		d.Result = local.Tombstone(at)
	}
	return d
}

// classifyNewer: the incoming record wins wholesale. Its image is copied only
// when the content differs from what the local record already stores.
func classifyNewer(d Decision, local *record.Record, in record.Record, img *resolvedImage) Decision {
	d.Action = ActionUpdate
	d.Result = in

	switch {
	case img != nil && img.Hash != localImageHash(local):
		d.Image = planImage(in, img)
	case img != nil, in.HasImage() && local.HasImage():
		// Same content, or bytes that cannot be found: keep the local file
		// reference rather than point at a name that does not exist here.
		d.Result.ImageName = local.ImageName
		d.Result.ImageHash = local.ImageHash
	}
	return d
}

// classifyEqual merges field by field: a non-empty incoming value is adopted
// when the local one is empty or different. Local values the incoming record
// lacks are kept.
func classifyEqual(d Decision, local *record.Record, in record.Record, img *resolvedImage, now record.Millis) Decision {
	merged := *local

	for _, f := range record.MergeableFields {
		vin := in.Get(f)
		if vin.Empty() {
			continue
		}
		vlc := local.Get(f)
		if vlc.Empty() || !vin.Equal(vlc) {
			merged.Set(f, vin)
			d.Fields = append(d.Fields, f)
		}
	}

	if img != nil && img.Hash != localImageHash(local) {
		d.Image = planImage(in, img)
	}

	if len(d.Fields) == 0 && d.Image == nil {
		d.Action = ActionSkip
		d.Reason = ReasonIdentical
		return d
	}

	merged.UpdatedAt = now
	d.Action = ActionMergeFields
	d.Result = merged
	return d
}
