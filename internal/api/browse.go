package api

import (
	"errors"
	"io/fs"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/SorenWeile/comfyui-gallery/internal/diskstat"
	"github.com/SorenWeile/comfyui-gallery/internal/gallery"
	"github.com/SorenWeile/comfyui-gallery/internal/logging"
	"github.com/SorenWeile/comfyui-gallery/internal/protocol"
	"github.com/SorenWeile/comfyui-gallery/internal/scan"
	"github.com/SorenWeile/comfyui-gallery/internal/store"
)

const modifiedLayout = "2006-01-02 15:04:05"

func formatMTime(mtime float64) string {
	sec, frac := math.Modf(mtime)
	return time.Unix(int64(sec), int64(frac*1e9)).Format(modifiedLayout)
}

func recordInfo(r store.FileRecord) protocol.ImageInfo {
	return protocol.ImageInfo{
		Path:        r.Path,
		Name:        r.Name,
		Size:        r.Size,
		Modified:    r.MTime,
		ModifiedStr: formatMTime(r.MTime),
		Type:        string(r.Type),
		IsFavorite:  r.IsFavorite,
	}
}

func entryInfo(e scan.Entry, favorite bool) protocol.ImageInfo {
	return protocol.ImageInfo{
		Path:        e.Path,
		Name:        e.Name,
		Size:        e.Size,
		Modified:    e.MTime,
		ModifiedStr: formatMTime(e.MTime),
		Type:        string(e.Type),
		IsFavorite:  favorite,
	}
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	root := s.Media.Root()
	resp := protocol.HealthResponse{
		Status:    "ok",
		RootDir:   root,
		TreeCache: s.Tree.State(root).String(),
	}

	if info, err := os.Stat(root); err == nil && info.IsDir() {
		resp.RootExists = true
	} else {
		resp.Status = "degraded"
	}

	var err error
	if resp.Files, err = s.Store.CountFiles(ctx); err != nil {
		resp.Status = "degraded"
	}
	if resp.Favorites, err = s.Favorites.Count(ctx); err != nil {
		resp.Status = "degraded"
	}
	if resp.SchemaVersion, err = s.Store.SchemaVersion(ctx); err != nil {
		resp.Status = "degraded"
	}
	if usage, err := diskstat.Stat(root); err == nil {
		resp.FreeBytes = usage.Free
		resp.TotalBytes = usage.Total
	}

	s.sendJSON(w, resp)
}

// ─── Listings ───────────────────────────────────────────────────────────────

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	records, err := s.Store.ListFiles(r.Context())
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, protocol.ImagesResponse{Images: lo.Map(records, func(rec store.FileRecord, _ int) protocol.ImageInfo {
		return recordInfo(rec)
	})})
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	rel, ok := s.cleanPath(w, r)
	if !ok {
		return
	}

	listing, err := scan.ReadDir(s.Media.Root(), rel, s.ScanOptions)
	if err != nil {
		if rel == "" {
			err = errors.Join(scan.ErrRootUnavailable, err)
		} else if !errors.Is(err, fs.ErrNotExist) {
			// Reading a file as a directory.
			err = errors.Join(fs.ErrNotExist, err)
		}
		s.sendErr(w, r, err)
		return
	}

	paths := lo.Map(listing.Files, func(e scan.Entry, _ int) string { return e.Path })
	favs, err := s.Favorites.Annotate(r.Context(), paths)
	if err != nil {
		// Listing still works without favorite flags.
		logging.WithContext(r.Context()).Warn("favorite lookup failed", zap.Error(err))
		favs = map[string]bool{}
	}

	resp := protocol.BrowseResponse{
		Path: rel,
		Folders: lo.Map(listing.Folders, func(f scan.Folder, _ int) protocol.FolderInfo {
			return protocol.FolderInfo{Name: f.Name, Path: f.Path}
		}),
		Images: lo.Map(listing.Files, func(e scan.Entry, _ int) protocol.ImageInfo {
			return entryInfo(e, favs[e.Path])
		}),
	}
	s.sendJSON(w, resp)
}

// ─── Tree ───────────────────────────────────────────────────────────────────

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Tree.Get(s.Media.Root())
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendGzipJSON(w, r, protocol.TreeResponse{
		Tree:    snap.Folders,
		BuiltAt: snap.BuiltAt.Unix(),
	})
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

// ─── Metadata ───────────────────────────────────────────────────────────────

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	rel, ok := s.cleanPath(w, r)
	if !ok {
		return
	}
	info, err := s.Media.Stat(r.Context(), rel)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	if info.IsDir() {
		s.sendError(w, http.StatusNotFound, "not a file: "+rel)
		return
	}
	path, _ := s.Media.FullPath(rel)
	s.sendJSON(w, gallery.ExtractMetadata(path))
}

// ─── Refresh ────────────────────────────────────────────────────────────────

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.Tree.Invalidate()

	res, err := s.Scheduler.Trigger(r.Context(), "refresh")
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, protocol.RefreshResponse{
		Status:     "success",
		Added:      res.Added,
		Updated:    res.Updated,
		Deleted:    res.Deleted,
		Collisions: res.Collisions,
		ScanErrors: lo.Map(res.ScanErrors, func(e scan.SubtreeError, _ int) string { return e.Error() }),
		DurationMS: res.Duration.Milliseconds(),
	})
}
