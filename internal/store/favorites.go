package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/samber/lo"

	"github.com/SorenWeile/comfyui-gallery/internal/metrics"
)

// FavoritesForPaths returns the favorite flag for each requested path.
// Paths without a record map to false.
func (s *Store) FavoritesForPaths(ctx context.Context, paths []string) (map[string]bool, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("favorites_for_paths", time.Since(start)) }()

	result := make(map[string]bool, len(paths))
	for _, p := range paths {
		result[p] = false
	}
	for _, chunk := range lo.Chunk(lo.Uniq(paths), chunkSize) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT path, is_favorite FROM files WHERE path IN (`+placeholders(len(chunk))+`)`,
			toArgs(chunk)...,
		)
		if err != nil {
			return nil, wrap("favorites for paths", err)
		}
		for rows.Next() {
			var (
				path string
				fav  sql.NullInt64
			)
			if err := rows.Scan(&path, &fav); err != nil {
				rows.Close()
				return nil, wrap("scan favorite", err)
			}
			result[path] = fav.Int64 != 0
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, wrap("favorites for paths", err)
		}
	}
	return result, nil
}

// SetFavorite sets the favorite flag on one record. It reports false when no
// record has the given id.
func (s *Store) SetFavorite(ctx context.Context, id string, value bool) (bool, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("set_favorite", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx, `UPDATE files SET is_favorite = ? WHERE id = ?`, boolInt(value), id)
	if err != nil {
		return false, wrap("set favorite", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ToggleFavorite flips the favorite flag in a single statement and returns
// the new value. found is false when no record has the given id.
func (s *Store) ToggleFavorite(ctx context.Context, id string) (value, found bool, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("toggle_favorite", time.Since(start)) }()

	var v int64
	err = s.db.QueryRowContext(ctx,
		`UPDATE files SET is_favorite = 1 - COALESCE(is_favorite, 0) WHERE id = ? RETURNING is_favorite`, id,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, wrap("toggle favorite", err)
	}
	return v != 0, true, nil
}

// SetFavoriteBatch sets the favorite flag on every listed record in one
// transaction and returns how many records matched. Unknown ids are
// ignored.
func (s *Store) SetFavoriteBatch(ctx context.Context, ids []string, value bool) (int64, error) {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("set_favorite_batch", time.Since(start)) }()

	var total int64
	err := s.atomic(ctx, func(tx *Store) error {
		for _, chunk := range lo.Chunk(ids, chunkSize) {
			args := append([]any{boolInt(value)}, toArgs(chunk)...)
			res, err := tx.db.ExecContext(ctx,
				`UPDATE files SET is_favorite = ? WHERE id IN (`+placeholders(len(chunk))+`)`,
				args...,
			)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, wrap("set favorite batch", err)
	}
	return total, nil
}

// ListFavorites returns every favorite record, newest first.
func (s *Store) ListFavorites(ctx context.Context) ([]FileRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_favorites", time.Since(start)) }()
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM files WHERE is_favorite = 1 ORDER BY mtime DESC, path`)
}

// CountFavorites returns the number of favorite records.
func (s *Store) CountFavorites(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("count_favorites", time.Since(start)) }()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE is_favorite = 1`).Scan(&n); err != nil {
		return 0, wrap("count favorites", err)
	}
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
