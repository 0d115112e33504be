package store

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/SorenWeile/comfyui-gallery/internal/metrics"
)

var (
	// ErrStoreUnavailable means the store directory or file cannot be
	// created or opened.
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrSchema means the store is corrupt or its schema cannot be brought
	// to the current version.
	ErrSchema = errors.New("record store schema error")

	// ErrStoreBusy means a lock could not be acquired within the busy
	// timeout. The operation may be retried.
	ErrStoreBusy = errors.New("record store busy")

	// ErrNotFound means no record matched.
	ErrNotFound = errors.New("record not found")
)

// classify maps SQLite result codes onto the package sentinels. Errors that
// do not correspond to a sentinel are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreBusy) || errors.Is(err, ErrSchema) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		// Errors raised while a connection applies its pragmas may arrive
		// without the typed wrapper.
		msg := err.Error()
		if strings.Contains(msg, "file is not a database") || strings.Contains(msg, "database disk image is malformed") {
			return fmt.Errorf("%w: %w", ErrSchema, err)
		}
		return err
	}
	switch sqlErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		metrics.RecordDBBusy()
		return fmt.Errorf("%w: %w", ErrStoreBusy, err)
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return fmt.Errorf("%w: %w", ErrSchema, err)
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_READONLY, sqlite3.SQLITE_PERM:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

// wrap annotates err with the failing operation after classifying it.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, classify(err))
}
