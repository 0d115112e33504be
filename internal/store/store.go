// Package store provides the SQLite-backed record store for indexed gallery
// files and their favorite flags.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/SorenWeile/comfyui-gallery/internal/logging"
	"github.com/SorenWeile/comfyui-gallery/internal/metrics"
)

const (
	// DirName is the hidden directory under the gallery root holding the
	// store and generated thumbnails.
	DirName = ".gallery_cache"
	// FileName is the store file inside DirName.
	FileName = "gallery.db"

	defaultBusyTimeout = 30 * time.Second
)

// Options tunes how the store file is opened.
type Options struct {
	// BusyTimeout bounds how long an operation waits for a lock before
	// failing with ErrStoreBusy.
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// Store is the record store. A Store returned by Open owns its connection
// pool; the Store handed to an InTx callback is bound to that transaction.
type Store struct {
	db    DBTX
	sqlDB *sql.DB
	path  string
}

// Dir returns the cache directory for a gallery root.
func Dir(root string) string {
	return filepath.Join(root, DirName)
}

// PathFor returns the store file location for a gallery root.
func PathFor(root string) string {
	return filepath.Join(Dir(root), FileName)
}

// Open creates the cache directory if needed, opens the store file under
// root and brings its schema to the current version.
func Open(ctx context.Context, root string, opts Options) (*Store, error) {
	if err := os.MkdirAll(Dir(root), 0755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrStoreUnavailable, Dir(root), err)
	}
	return OpenFile(ctx, PathFor(root), opts)
}

// OpenFile opens the store at an explicit file path.
func OpenFile(ctx context.Context, path string, opts Options) (*Store, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 4
	}

	db, err := sql.Open("sqlite", dsn(path, opts.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStoreUnavailable, path, err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		err = classify(err)
		if errors.Is(err, ErrSchema) || errors.Is(err, ErrStoreUnavailable) {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrStoreUnavailable, path, err)
	}

	s := &Store{db: db, sqlDB: db, path: path}
	if err := s.InitializeSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logging.Info("record store opened",
		zap.String("path", path),
		zap.Duration("busy_timeout", opts.BusyTimeout))
	return s, nil
}

// dsn builds the connection string. Every connection runs in WAL mode with
// NORMAL synchronous writes, and write transactions begin IMMEDIATE so lock
// contention surfaces at BEGIN rather than mid-transaction.
func dsn(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Path returns the store file location.
func (s *Store) Path() string {
	return s.path
}

// Close releases the connection pool. Closing a transaction-bound Store is a
// no-op.
func (s *Store) Close() error {
	if s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// InTx runs fn against a Store bound to a single write transaction. The
// transaction commits when fn returns nil and rolls back otherwise,
// including on panic.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.sqlDB == nil {
		return errors.New("store: nested transactions are not supported")
	}
	start := time.Now()
	err := WithTx(ctx, s.sqlDB, nil, func(ctx context.Context, tx DBTX) error {
		return fn(&Store{db: tx, path: s.path})
	})
	metrics.RecordDBQuery("transaction", time.Since(start))
	if err != nil {
		return fmt.Errorf("transaction: %w", classify(err))
	}
	return nil
}

// Compact rebuilds the store file and truncates the write-ahead log. It
// blocks writers for its duration.
func (s *Store) Compact(ctx context.Context) error {
	if s.sqlDB == nil {
		return errors.New("store: compact inside a transaction")
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("compact", time.Since(start)) }()

	if _, err := s.sqlDB.ExecContext(ctx, `VACUUM`); err != nil {
		return wrap("vacuum", err)
	}
	if _, err := s.sqlDB.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return wrap("wal checkpoint", err)
	}
	return nil
}

// atomic runs fn inside a transaction, reusing the current one when the
// Store is already transaction-bound.
func (s *Store) atomic(ctx context.Context, fn func(tx *Store) error) error {
	if s.sqlDB == nil {
		return fn(s)
	}
	return s.InTx(ctx, fn)
}
