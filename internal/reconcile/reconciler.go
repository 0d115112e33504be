// Package reconcile keeps the record store in line with the files on disk.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/SorenWeile/comfyui-gallery/internal/identity"
	"github.com/SorenWeile/comfyui-gallery/internal/logging"
	"github.com/SorenWeile/comfyui-gallery/internal/metrics"
	"github.com/SorenWeile/comfyui-gallery/internal/scan"
	"github.com/SorenWeile/comfyui-gallery/internal/store"
)

// ErrReconcile wraps any failure that aborted a pass. No partial changes are
// committed when it is returned.
var ErrReconcile = errors.New("reconciliation failed")

// Result summarizes one reconciliation pass.
type Result struct {
	Added      int
	Updated    int
	Deleted    int
	Collisions []string
	ScanErrors []scan.SubtreeError
	Duration   time.Duration
}

// Reconciler scans the gallery root and applies the differences to the
// record store.
type Reconciler struct {
	store *store.Store
	opts  scan.Options
	now   func() time.Time
	walk  func(root string, opts scan.Options) ([]scan.Entry, []scan.SubtreeError, error)
}

// NewReconciler creates a reconciler writing to s.
func NewReconciler(s *store.Store, opts scan.Options) *Reconciler {
	return &Reconciler{store: s, opts: opts, now: time.Now, walk: scan.Walk}
}

// Reconcile performs one full pass over root. The scan runs outside any
// transaction; loading existing records, diffing and applying the changes
// happen inside a single write transaction.
func (r *Reconciler) Reconcile(ctx context.Context, root string) (*Result, error) {
	start := time.Now()

	disk, scanErrs, err := r.walk(root, r.opts)
	if err != nil {
		metrics.RecordReconcileFailure("scan")
		return nil, fmt.Errorf("%w: %w", ErrReconcile, err)
	}

	res := &Result{ScanErrors: scanErrs}
	var total, retained int
	err = r.store.InTx(ctx, func(tx *store.Store) error {
		existing, err := tx.ListAll(ctx)
		if err != nil {
			return err
		}

		plan := Diff(disk, existing, scanErrs)
		res.Collisions = plan.Collisions
		retained = plan.Retained
		synced := scan.MTime(r.now())

		deleted, err := tx.DeleteByIDs(ctx, plan.Deletes)
		if err != nil {
			return err
		}
		res.Deleted = int(deleted)

		for _, u := range plan.Updates {
			if err := tx.UpdateByID(ctx, u.ID, store.FileUpdate{
				Name:       u.Entry.Name,
				MTime:      u.Entry.MTime,
				Size:       u.Entry.Size,
				Type:       u.Entry.Type,
				LastSynced: synced,
			}); err != nil {
				return err
			}
		}
		res.Updated = len(plan.Updates)

		for _, e := range plan.Inserts {
			if err := tx.Insert(ctx, &store.FileRecord{
				ID:         identity.AssignID(e.Path),
				Path:       e.Path,
				Name:       e.Name,
				MTime:      e.MTime,
				Size:       e.Size,
				Type:       e.Type,
				LastSynced: synced,
			}); err != nil {
				return err
			}
		}
		res.Added = len(plan.Inserts)
		total = len(existing) - res.Deleted + res.Added
		return nil
	})
	if err != nil {
		reason := "store"
		if errors.Is(err, store.ErrStoreBusy) {
			reason = "busy"
		}
		metrics.RecordReconcileFailure(reason)
		return nil, fmt.Errorf("%w: %w", ErrReconcile, err)
	}

	res.Duration = time.Since(start)
	metrics.RecordReconcile(res.Added, res.Updated, res.Deleted, len(res.ScanErrors), res.Duration)
	metrics.SetIndexedFiles(total)

	for _, p := range res.Collisions {
		logging.Warn("path shares an identifier with an indexed file, skipped", zap.String("path", p))
	}
	logging.Info("reconciliation complete",
		zap.Int("added", res.Added),
		zap.Int("updated", res.Updated),
		zap.Int("deleted", res.Deleted),
		zap.Int("scan_errors", len(res.ScanErrors)),
		zap.Int("retained", retained),
		zap.Duration("duration", res.Duration))

	return res, nil
}
