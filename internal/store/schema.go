package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/SorenWeile/comfyui-gallery/internal/identity"
	"github.com/SorenWeile/comfyui-gallery/internal/logging"
	"github.com/SorenWeile/comfyui-gallery/internal/metrics"
)

// SchemaVersion is the version InitializeSchema brings a store to.
const SchemaVersion = 2

// requiredColumns must all be present on the files table.
var requiredColumns = []string{
	"id", "path", "name", "mtime", "size", "type", "dimensions", "is_favorite", "last_synced",
}

// migration is one additive schema step.
type migration struct {
	Version int
	Name    string
	Up      func(ctx context.Context, tx DBTX) error
}

var migrations = []migration{
	{Version: 1, Name: "create files table", Up: createFilesTable},
	{Version: 2, Name: "hashed identifiers", Up: rehashIdentifiers},
}

// InitializeSchema creates the files table and its indices, runs any
// pending migrations and verifies the resulting shape. It is idempotent.
func (s *Store) InitializeSchema(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("initialize_schema", time.Since(start)) }()

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("%w: read schema version: %w", ErrSchema, classify(err))
	}

	if version > SchemaVersion {
		logging.Warn("record store schema is newer than this build",
			zap.Int("store_version", version),
			zap.Int("supported_version", SchemaVersion))
	}

	for _, m := range migrations {
		if m.Version <= version {
			continue
		}
		err := s.atomic(ctx, func(tx *Store) error {
			if err := m.Up(ctx, tx.db); err != nil {
				return err
			}
			_, err := tx.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.Version))
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: migration %d (%s): %w", ErrSchema, m.Version, m.Name, classify(err))
		}
		logging.Info("record store migrated",
			zap.Int("version", m.Version),
			zap.String("name", m.Name))
	}

	return s.verifyColumns(ctx)
}

// SchemaVersion returns the version recorded in the store header.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (s *Store) verifyColumns(ctx context.Context) error {
	cols, err := tableColumns(ctx, s.db, "files")
	if err != nil {
		return fmt.Errorf("%w: inspect files table: %w", ErrSchema, classify(err))
	}
	if len(cols) == 0 {
		return fmt.Errorf("%w: files table missing", ErrSchema)
	}
	missing := lo.Filter(requiredColumns, func(c string, _ int) bool { return !cols[c] })
	if len(missing) > 0 {
		return fmt.Errorf("%w: files table missing columns %s", ErrSchema, strings.Join(missing, ", "))
	}
	return nil
}

func tableColumns(ctx context.Context, db DBTX, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// ─── Migrations ─────────────────────────────────────────────────────────────

func createFilesTable(ctx context.Context, tx DBTX) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS files (
			id          TEXT PRIMARY KEY,
			path        TEXT NOT NULL UNIQUE,
			name        TEXT NOT NULL,
			mtime       REAL NOT NULL,
			size        INTEGER DEFAULT 0,
			type        TEXT,
			dimensions  TEXT,
			is_favorite INTEGER DEFAULT 0,
			last_synced REAL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_is_favorite ON files(is_favorite)`,
		`CREATE INDEX IF NOT EXISTS idx_path ON files(path)`,
		`CREATE INDEX IF NOT EXISTS idx_mtime ON files(mtime DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rehashIdentifiers adds columns introduced after the first release and
// re-keys every row with identity.AssignID. Rows whose paths normalize to
// the same identifier are merged into the lexically first path, keeping the
// favorite flag if any of them had it.
func rehashIdentifiers(ctx context.Context, tx DBTX) error {
	cols, err := tableColumns(ctx, tx, "files")
	if err != nil {
		return err
	}
	additive := []struct{ name, decl string }{
		{"size", "INTEGER DEFAULT 0"},
		{"type", "TEXT"},
		{"dimensions", "TEXT"},
		{"is_favorite", "INTEGER DEFAULT 0"},
		{"last_synced", "REAL DEFAULT 0"},
	}
	for _, c := range additive {
		if cols[c.name] {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE files ADD COLUMN %s %s", c.name, c.decl)); err != nil {
			return err
		}
	}

	type row struct {
		id, path string
		fav      bool
	}
	rows, err := tx.QueryContext(ctx, `SELECT id, path, COALESCE(is_favorite, 0) FROM files`)
	if err != nil {
		return err
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.path, &r.fav); err != nil {
			rows.Close()
			return err
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].path < all[j].path })
	groups := lo.GroupBy(all, func(r row) string { return identity.AssignID(r.path) })

	// Move every row to a temporary key first so new identifiers never
	// clash with old ones mid-update.
	if _, err := tx.ExecContext(ctx, `UPDATE files SET id = '~' || id`); err != nil {
		return err
	}

	merged := 0
	for newID, members := range groups {
		keep := members[0]
		fav := lo.SomeBy(members, func(r row) bool { return r.fav })
		for _, dup := range members[1:] {
			if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, dup.path); err != nil {
				return err
			}
			merged++
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE files SET id = ?, is_favorite = ? WHERE path = ?`,
			newID, fav, keep.path,
		); err != nil {
			return err
		}
	}

	if merged > 0 {
		logging.Warn("merged records whose paths share a normalized identifier", zap.Int("merged", merged))
	}
	return nil
}
