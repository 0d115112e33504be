// Package scan enumerates media files under the gallery root.
package scan

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/SorenWeile/comfyui-gallery/internal/logging"
	"github.com/SorenWeile/comfyui-gallery/internal/media"
)

// ErrRootUnavailable means the root itself could not be read.
var ErrRootUnavailable = errors.New("gallery root unavailable")

// Entry describes one media file found on disk.
type Entry struct {
	Path  string // slash-separated, relative to the root
	Name  string
	MTime float64 // seconds since the Unix epoch
	Size  int64
	Type  media.Type
}

// SubtreeError records a directory or file that could not be read. Scanning
// continues past it.
type SubtreeError struct {
	Path string
	Err  error
}

func (e SubtreeError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Path, e.Err)
}

func (e SubtreeError) Unwrap() error {
	return e.Err
}

// Options controls which files are reported.
type Options struct {
	IncludeVideos bool
	// Exclude holds doublestar patterns matched against root-relative
	// slash paths. A matching directory is skipped entirely.
	Exclude []string
}

// Excluded reports whether rel matches one of the exclude patterns.
func (o Options) Excluded(rel string) bool {
	for _, pattern := range o.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// ValidatePatterns checks every exclude pattern.
func (o Options) ValidatePatterns() error {
	for _, pattern := range o.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	return nil
}

// Hidden reports whether a path element is a dot-file or dot-directory.
func Hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// MTime converts a modification time to fractional epoch seconds.
func MTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Walk enumerates every recognized media file under root. Unreadable
// subdirectories are skipped and reported; an unreadable root is an error.
func Walk(root string, opts Options) ([]Entry, []SubtreeError, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrRootUnavailable, err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s is not a directory", ErrRootUnavailable, root)
	}

	var (
		entries []Entry
		errs    []SubtreeError
	)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if path == root {
			if walkErr != nil {
				return fmt.Errorf("%w: %w", ErrRootUnavailable, walkErr)
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if walkErr != nil {
			errs = append(errs, SubtreeError{Path: rel, Err: walkErr})
			logging.Warn("skipping unreadable path", zap.String("path", rel), zap.Error(walkErr))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if Hidden(d.Name()) || opts.Excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if !media.Recognized(d.Name(), opts.IncludeVideos) || opts.Excluded(rel) {
			return nil
		}

		fi, err := statEntry(path, d)
		if err != nil {
			errs = append(errs, SubtreeError{Path: rel, Err: err})
			return nil
		}
		if !fi.Mode().IsRegular() {
			return nil
		}

		entries = append(entries, Entry{
			Path:  rel,
			Name:  d.Name(),
			MTime: MTime(fi.ModTime()),
			Size:  fi.Size(),
			Type:  media.TypeOf(d.Name()),
		})
		return nil
	})
	if err != nil {
		return nil, errs, err
	}

	return entries, errs, nil
}

// statEntry follows symlinked files; other entries use the cached lstat.
func statEntry(path string, d fs.DirEntry) (fs.FileInfo, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		return os.Stat(path)
	}
	return d.Info()
}

// ─── Single-level listing ───────────────────────────────────────────────────

// Folder is an immediate subdirectory in a Listing.
type Folder struct {
	Name string
	Path string
}

// Listing is the content of one directory.
type Listing struct {
	Folders []Folder
	Files   []Entry
}

// ReadDir lists the visible subdirectories and recognized media files
// directly inside root/rel. Folders are sorted by name and files newest
// first.
func ReadDir(root, rel string, opts Options) (*Listing, error) {
	dir := filepath.Join(root, filepath.FromSlash(rel))
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	listing := &Listing{Folders: []Folder{}, Files: []Entry{}}
	for _, d := range dirEntries {
		childRel := d.Name()
		if rel != "" {
			childRel = rel + "/" + d.Name()
		}
		if Hidden(d.Name()) || opts.Excluded(childRel) {
			continue
		}

		fi, err := statEntry(filepath.Join(dir, d.Name()), d)
		if err != nil {
			continue
		}
		if fi.IsDir() {
			listing.Folders = append(listing.Folders, Folder{Name: d.Name(), Path: childRel})
			continue
		}
		if !fi.Mode().IsRegular() || !media.Recognized(d.Name(), opts.IncludeVideos) {
			continue
		}
		listing.Files = append(listing.Files, Entry{
			Path:  childRel,
			Name:  d.Name(),
			MTime: MTime(fi.ModTime()),
			Size:  fi.Size(),
			Type:  media.TypeOf(d.Name()),
		})
	}

	sort.Slice(listing.Folders, func(i, j int) bool {
		return strings.ToLower(listing.Folders[i].Name) < strings.ToLower(listing.Folders[j].Name)
	})
	sort.SliceStable(listing.Files, func(i, j int) bool {
		return listing.Files[i].MTime > listing.Files[j].MTime
	})
	return listing, nil
}
