// Package merge reconciles an incoming inventory store into the local one.
//
// A pass reads both stores once, classifies every incoming record against
// that snapshot, then applies all writes in one local transaction:
//
//   - tombstones only apply to records the local store has, and only when
//     not older than the local record
//   - a strictly newer incoming record replaces the local one
//   - equal timestamps merge field by field, preferring non-empty incoming
//     values, and stamp a fresh timestamp when anything changed
//   - older incoming records are skipped
//
// Re-running a pass with the same incoming store changes nothing.
package merge

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PeacheyByte/sellventory-companion/internal/archive"
	"github.com/PeacheyByte/sellventory-companion/internal/content"
	"github.com/PeacheyByte/sellventory-companion/internal/record"
	"github.com/PeacheyByte/sellventory-companion/internal/schema"
	"github.com/PeacheyByte/sellventory-companion/internal/store"
)

// DefaultHashWorkers bounds concurrent image hashing
const DefaultHashWorkers = 4

// Options configures an Engine
type Options struct {
	// ImagesDir overrides the local store's image directory
	ImagesDir string
	// TempDir is the parent of archive extraction directories
	TempDir string
	// HashWorkers bounds concurrent image hashing
	HashWorkers int
	// UpgradeLocal adds missing sync columns to the local store before a pass
	UpgradeLocal bool
	// Now is the clock used for stamping timestamps
	Now    func() time.Time
	Logger *zap.Logger
}

// Engine runs merge passes. Passes on one Engine never overlap.
type Engine struct {
	mu     sync.Mutex
	opts   Options
	logger *zap.Logger
}

// Report is the outcome of one pass
type Report struct {
	Source    string            `json:"source,omitempty" yaml:"source,omitempty"`
	Stats     record.Stats      `json:"stats" yaml:"stats"`
	Decisions []Decision        `json:"decisions,omitempty" yaml:"decisions,omitempty"`
	Upgraded  []string          `json:"upgraded_columns,omitempty" yaml:"upgraded_columns,omitempty"`
	Manifest  *archive.Manifest `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	DryRun    bool              `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
}

// New creates an Engine
func New(opts Options) *Engine {
	if opts.HashWorkers <= 0 {
		opts.HashWorkers = DefaultHashWorkers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{opts: opts, logger: logger.Named("merge")}
}

// MergeIncoming stages an archive or bare store file and merges it into local.
// The staging area is removed on every path.
func (e *Engine) MergeIncoming(ctx context.Context, path string, local *store.Store) (*Report, error) {
	return e.withIncoming(ctx, path, func(incoming *store.Store, st *archive.Staging) (*Report, error) {
		report, err := e.Merge(ctx, local, incoming, st.ImagesDir)
		if err != nil {
			return nil, err
		}
		report.Source = path
		report.Manifest = st.Manifest
		return report, nil
	})
}

// PlanIncoming is MergeIncoming without writes
func (e *Engine) PlanIncoming(ctx context.Context, path string, local *store.Store) (*Report, error) {
	return e.withIncoming(ctx, path, func(incoming *store.Store, st *archive.Staging) (*Report, error) {
		decisions, err := e.Plan(ctx, local, incoming, st.ImagesDir)
		if err != nil {
			return nil, err
		}
		return &Report{
			Source:    path,
			Stats:     tally(decisions, nil),
			Decisions: decisions,
			Manifest:  st.Manifest,
			DryRun:    true,
		}, nil
	})
}

func (e *Engine) withIncoming(ctx context.Context, path string, fn func(*store.Store, *archive.Staging) (*Report, error)) (*Report, error) {
	st, err := archive.Stage(ctx, path, archive.Options{TempDir: e.opts.TempDir, Logger: e.logger})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := st.Close(); err != nil {
			e.logger.Warn("Failed to remove staging dir", zap.Error(err))
		}
	}()

	incoming, err := store.OpenIncoming(ctx, st.DBPath, st.ImagesDir)
	if err != nil {
		return nil, err
	}
	defer incoming.Close()

	return fn(incoming, st)
}

// Plan classifies every incoming record without touching the local store
func (e *Engine) Plan(ctx context.Context, local, incoming *store.Store, imageRoot string) ([]Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	canTombstone := local.Mapping().Has(schema.DeletedAt) || e.opts.UpgradeLocal
	return e.plan(ctx, local, incoming, imageRoot, canTombstone)
}

// Merge runs one pass of incoming into local. All writes, including any
// schema upgrade, are committed together; on any error, including
// cancellation, the local store is left as it was. Images copied before a
// failure stay in the content store under their content-derived names.
func (e *Engine) Merge(ctx context.Context, local, incoming *store.Store, imageRoot string) (*Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.opts.Now()
	report := &Report{}

	// Classification assumes the upgrade below succeeds; if it does not, the
	// pass rolls back as a whole.
	canTombstone := local.Mapping().Has(schema.DeletedAt) || e.opts.UpgradeLocal
	decisions, err := e.plan(ctx, local, incoming, imageRoot, canTombstone)
	if err != nil {
		return nil, err
	}

	index, err := content.New(e.imagesDir(local)).Index()
	if err != nil {
		return nil, err
	}
	copied := make(map[string]bool)

	err = local.WithTx(ctx, func(w *store.Writer) error {
		if e.opts.UpgradeLocal {
			added, err := w.EnsureSyncColumns(ctx)
			if err != nil {
				return fmt.Errorf("failed to upgrade local store: %w", err)
			}
			report.Upgraded = added
		}
		for i := range decisions {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.apply(ctx, w, index, &decisions[i], copied); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Error("Merge rolled back", zap.Error(err))
		return nil, err
	}
	if len(report.Upgraded) > 0 {
		e.logger.Info("Upgraded local schema", zap.Strings("columns", report.Upgraded))
	}

	report.Decisions = decisions
	report.Stats = tally(decisions, copied)

	e.logger.Info("Merge complete",
		zap.Int("records", report.Stats.Total()),
		zap.Int("inserted", report.Stats.Inserted),
		zap.Int("updated", report.Stats.Updated),
		zap.Int("deleted", report.Stats.Deleted),
		zap.Int("images_copied", report.Stats.ImagesCopied),
		zap.Int("skipped", report.Stats.Skipped),
		zap.Duration("took", e.opts.Now().Sub(start)))
	return report, nil
}

func (e *Engine) imagesDir(local *store.Store) string {
	if e.opts.ImagesDir != "" {
		return e.opts.ImagesDir
	}
	return local.ImagesDir()
}

// plan takes the snapshot, prepares images and classifies. Nothing here
// writes, so every decision sees the local store as it was before the pass.
func (e *Engine) plan(ctx context.Context, local, incoming *store.Store, imageRoot string, canTombstone bool) ([]Decision, error) {
	localRecs, _, err := local.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read local store: %w", err)
	}
	incomingRecs, ids, err := incoming.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read incoming store: %w", err)
	}
	sort.Strings(ids)

	images, err := e.prepareImages(ctx, incomingRecs, ids, imageRoot, filepath.Dir(incoming.Path()))
	if err != nil {
		return nil, err
	}

	now := record.FromTime(e.opts.Now())
	rowidKey := local.Mapping().IDIsRowid()
	decisions := make([]Decision, 0, len(ids))
	for _, id := range ids {
		in := incomingRecs[id]
		if rowidKey && in.SyntheticID {
			// A generated uuid cannot become an integer key
			decisions = append(decisions, Decision{ID: id, Action: ActionSkip, Reason: ReasonUnkeyedIntoRowid, Incoming: in})
			e.logger.Warn("Skipping incoming row without id", zap.String("table", local.Mapping().Table))
			continue
		}
		var lp *record.Record
		if l, ok := localRecs[id]; ok {
			lp = &l
		}
		d := classify(lp, in, images[id], canTombstone, now)
		e.logger.Debug("Classified record", zap.String("id", id), zap.String("action", string(d.Action)), zap.String("reason", string(d.Reason)))
		decisions = append(decisions, d)
	}
	return decisions, nil
}

// prepareImages resolves and hashes the images of live incoming records with
// bounded concurrency. Unreadable images are treated as absent.
func (e *Engine) prepareImages(ctx context.Context, recs map[string]record.Record, ids []string, imageRoot, fallbackDir string) (map[string]*resolvedImage, error) {
	type job struct {
		id   string
		path string
	}
	var jobs []job
	for _, id := range ids {
		r := recs[id]
		if !r.IsLive() || !r.HasImage() {
			continue
		}
		if p, ok := content.Resolve(r, imageRoot, fallbackDir); ok {
			jobs = append(jobs, job{id: id, path: p})
		}
	}

	hashes := make([]string, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.HashWorkers)
	for i, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, err := content.Hash(j.path)
			if err != nil {
				e.logger.Warn("Skipping unreadable image", zap.String("id", j.id), zap.String("path", j.path), zap.Error(err))
				return nil
			}
			hashes[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*resolvedImage, len(jobs))
	for i, j := range jobs {
		if hashes[i] == "" {
			continue
		}
		out[j.id] = &resolvedImage{Path: j.path, Hash: hashes[i]}
	}
	return out, nil
}

// apply performs one decision inside the pass transaction
func (e *Engine) apply(ctx context.Context, w *store.Writer, images *content.Index, d *Decision, copied map[string]bool) error {
	if !d.Writes() {
		return nil
	}

	if d.Image != nil {
		asset, err := images.StoreHashed(d.Image.Source, d.Incoming.ImageName.String, d.Image.Hash)
		if err != nil {
			return &RecordError{ID: d.ID, Op: "copy image for", Err: err}
		}
		d.Result.ImageName = nullString(asset.Name)
		d.Result.ImageHash = nullString(asset.Hash)
		if asset.Copied {
			copied[asset.Name] = true
		}
	}

	var err error
	switch d.Action {
	case ActionInsert:
		err = w.Insert(ctx, d.Result)
	case ActionUpdate, ActionMergeFields:
		err = w.Update(ctx, d.Result)
	case ActionTombstone:
		at, _ := d.Result.Deleted()
		err = w.Tombstone(ctx, d.ID, at)
	}
	if err != nil {
		return &RecordError{ID: d.ID, Op: string(d.Action), Err: err}
	}
	return nil
}

// tally counts decisions. copied holds the image names actually written; nil
// counts planned copies instead.
func tally(decisions []Decision, copied map[string]bool) record.Stats {
	var s record.Stats
	planned := make(map[string]bool)
	for _, d := range decisions {
		switch d.Action {
		case ActionInsert:
			s.Inserted++
		case ActionUpdate, ActionMergeFields:
			s.Updated++
		case ActionTombstone:
			s.Deleted++
		case ActionSkip:
			s.Skipped++
		}
		if copied == nil && d.Image != nil {
			planned[d.Image.Name] = true
		}
	}
	if copied == nil {
		s.ImagesCopied = len(planned)
	} else {
		s.ImagesCopied = len(copied)
	}
	return s
}
