// Package favorites exposes favorite toggling and listing keyed by gallery
// path.
//
// Favorites can only be set on files that a reconciliation pass has already
// recorded. Operations on unknown paths report "not applied" and never
// create records.
package favorites

import (
	"context"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/SorenWeile/comfyui-gallery/internal/identity"
	"github.com/SorenWeile/comfyui-gallery/internal/logging"
	"github.com/SorenWeile/comfyui-gallery/internal/metrics"
	"github.com/SorenWeile/comfyui-gallery/internal/store"
)

// Manager applies favorite operations to the record store.
type Manager struct {
	store *store.Store
}

// NewManager creates a Manager over s.
func NewManager(s *store.Store) *Manager {
	return &Manager{store: s}
}

// Toggle flips the favorite flag of path and returns the new value. It
// returns false without error when path has no record.
func (m *Manager) Toggle(ctx context.Context, path string) (bool, error) {
	value, found, err := m.store.ToggleFavorite(ctx, identity.AssignID(path))
	if err != nil {
		return false, err
	}
	metrics.RecordFavoriteOp("toggle", found)
	if !found {
		logging.Debug("favorite toggle on unindexed path", zap.String("path", path))
		return false, nil
	}
	m.refreshGauge(ctx)
	return value, nil
}

// SetBatch sets the favorite flag on every listed path and returns how many
// records were updated. Unknown paths are skipped.
func (m *Manager) SetBatch(ctx context.Context, paths []string, value bool) (int, error) {
	ids := lo.Map(paths, func(p string, _ int) string { return identity.AssignID(p) })
	n, err := m.store.SetFavoriteBatch(ctx, ids, value)
	if err != nil {
		return 0, err
	}
	metrics.RecordFavoriteOp("set_batch", n > 0)
	m.refreshGauge(ctx)
	return int(n), nil
}

// List returns every favorite record, newest first.
func (m *Manager) List(ctx context.Context) ([]store.FileRecord, error) {
	return m.store.ListFavorites(ctx)
}

// Count returns the number of favorites.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.CountFavorites(ctx)
}

// Annotate returns the favorite flag for each path; unknown paths are
// false.
func (m *Manager) Annotate(ctx context.Context, paths []string) (map[string]bool, error) {
	return m.store.FavoritesForPaths(ctx, paths)
}

func (m *Manager) refreshGauge(ctx context.Context) {
	if n, err := m.store.CountFavorites(ctx); err == nil {
		metrics.SetFavorites(n)
	}
}
