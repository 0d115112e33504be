package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/SorenWeile/comfyui-gallery/internal/media"
	"github.com/SorenWeile/comfyui-gallery/internal/metrics"
)

// chunkSize bounds the number of bound parameters per IN (...) clause.
const chunkSize = 500

// FileRecord is the persisted row for one indexed file.
type FileRecord struct {
	ID         string
	Path       string
	Name       string
	MTime      float64
	Size       int64
	Type       media.Type
	Dimensions *string
	IsFavorite bool
	LastSynced float64
}

// Entry is the minimal projection used by reconciliation.
type Entry struct {
	ID    string
	Path  string
	MTime float64
}

// FileUpdate carries the fields refreshed when a file's mtime changes.
type FileUpdate struct {
	Name       string
	MTime      float64
	Size       int64
	Type       media.Type
	LastSynced float64
}

const recordColumns = `id, path, name, mtime, size, type, dimensions, is_favorite, last_synced`

func scanRecord(sc interface{ Scan(...any) error }) (*FileRecord, error) {
	var (
		r      FileRecord
		typ    sql.NullString
		dims   sql.NullString
		fav    sql.NullInt64
		size   sql.NullInt64
		synced sql.NullFloat64
	)
	if err := sc.Scan(&r.ID, &r.Path, &r.Name, &r.MTime, &size, &typ, &dims, &fav, &synced); err != nil {
		return nil, err
	}
	r.Size = size.Int64
	r.Type = media.Type(typ.String)
	if dims.Valid {
		d := dims.String
		r.Dimensions = &d
	}
	r.IsFavorite = fav.Int64 != 0
	r.LastSynced = synced.Float64
	return &r, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(vals []string) []any {
	return lo.Map(vals, func(v string, _ int) any { return v })
}

// ─── Reconciliation ─────────────────────────────────────────────────────────

// ListAll returns the id, path and mtime of every record.
func (s *Store) ListAll(ctx context.Context) ([]Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_all", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx, `SELECT id, path, mtime FROM files`)
	if err != nil {
		return nil, wrap("list all", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Path, &e.MTime); err != nil {
			return nil, wrap("scan entry", err)
		}
		entries = append(entries, e)
	}
	return entries, wrap("list all", rows.Err())
}

// Insert adds a new record. The favorite flag of a new record is always
// false.
func (s *Store) Insert(ctx context.Context, r *FileRecord) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (id, path, name, mtime, size, type, is_favorite, last_synced)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		r.ID, r.Path, r.Name, r.MTime, r.Size, string(r.Type), r.LastSynced,
	)
	return wrap("insert "+r.Path, err)
}

// UpdateByID refreshes the stat fields of an existing record. The favorite
// flag is left untouched.
func (s *Store) UpdateByID(ctx context.Context, id string, u FileUpdate) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`UPDATE files SET name = ?, mtime = ?, size = ?, type = ?, last_synced = ? WHERE id = ?`,
		u.Name, u.MTime, u.Size, string(u.Type), u.LastSynced, id,
	)
	return wrap("update "+id, err)
}

// DeleteByIDs removes the given records and returns how many were deleted.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete", time.Since(start)) }()

	var total int64
	err := s.atomic(ctx, func(tx *Store) error {
		for _, chunk := range lo.Chunk(ids, chunkSize) {
			res, err := tx.db.ExecContext(ctx,
				`DELETE FROM files WHERE id IN (`+placeholders(len(chunk))+`)`,
				toArgs(chunk)...,
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
		return 0, wrap("delete", err)
	}
	return total, nil
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Get returns the record with the given id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*FileRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get", time.Since(start)) }()

	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM files WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, wrap("get "+id, err)
	}
	return r, nil
}

// ListFiles returns every record, newest first.
func (s *Store) ListFiles(ctx context.Context) ([]FileRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_files", time.Since(start)) }()
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM files ORDER BY mtime DESC, path`)
}

// CountFiles returns the number of records.
func (s *Store) CountFiles(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("count_files", time.Since(start)) }()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, wrap("count files", err)
	}
	return n, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("query records", err)
	}
	defer rows.Close()

	records := []FileRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, wrap("scan record", err)
		}
		records = append(records, *r)
	}
	return records, wrap("query records", rows.Err())
}
