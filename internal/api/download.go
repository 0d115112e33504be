package api

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/SorenWeile/comfyui-gallery/internal/archive"
	"github.com/SorenWeile/comfyui-gallery/internal/logging"
	"github.com/SorenWeile/comfyui-gallery/internal/metrics"
	"github.com/SorenWeile/comfyui-gallery/internal/scan"
)

const multipleArchiveName = "gallery_images.zip"

func attachment(w http.ResponseWriter, name string) {
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	rel, ok := s.cleanPath(w, r)
	if !ok {
		return
	}
	f, size, err := s.Media.GetObject(r.Context(), rel)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	defer f.Close()

	attachment(w, path.Base(rel))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	n, err := io.Copy(w, f)
	if err != nil {
		logging.WithContext(r.Context()).Debug("download interrupted", zap.String("path", rel), zap.Error(err))
	}
	metrics.RecordDownload("file", n)
}

func (s *Server) handleDownloadFolder(w http.ResponseWriter, r *http.Request) {
	rel, ok := s.cleanPath(w, r)
	if !ok {
		return
	}
	info, err := s.Media.Stat(r.Context(), rel)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	if !info.IsDir() {
		s.sendError(w, http.StatusBadRequest, "not a folder: "+rel)
		return
	}

	dir, _ := s.Media.FullPath(rel)
	files, scanErrs, err := scan.Walk(dir, scan.Options{IncludeVideos: s.ScanOptions.IncludeVideos})
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	for _, e := range scanErrs {
		logging.WithContext(r.Context()).Warn("skipping unreadable path in archive", zap.Error(e))
	}

	entries := make([]archive.Entry, 0, len(files))
	for _, f := range files {
		entries = append(entries, archive.Entry{
			Name: f.Path,
			Path: filepath.Join(dir, filepath.FromSlash(f.Path)),
		})
	}

	name := path.Base(rel)
	if rel == "" {
		name = filepath.Base(s.Media.Root())
	}
	s.streamArchive(w, r, name+".zip", entries)
}

func (s *Server) handleDownloadMultiple(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid form")
		return
	}
	var paths []string
	if err := json.Unmarshal([]byte(r.PostFormValue("paths")), &paths); err != nil {
		s.sendError(w, http.StatusBadRequest, "paths must be a JSON array")
		return
	}
	if len(paths) == 0 {
		s.sendError(w, http.StatusBadRequest, "no paths given")
		return
	}

	entries := make([]archive.Entry, 0, len(paths))
	for _, p := range paths {
		rel, err := mediaKey(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			s.sendErr(w, r, err)
			return
		}
		info, err := s.Media.Stat(r.Context(), rel)
		if err != nil || info.IsDir() {
			// Files deleted since the client listed them are skipped.
			continue
		}
		full, _ := s.Media.FullPath(rel)
		entries = append(entries, archive.Entry{Name: path.Base(rel), Path: full})
	}
	if len(entries) == 0 {
		s.sendError(w, http.StatusNotFound, "none of the requested files exist")
		return
	}
	s.streamArchive(w, r, multipleArchiveName, entries)
}

func (s *Server) streamArchive(w http.ResponseWriter, r *http.Request, name string, entries []archive.Entry) {
	attachment(w, name)
	w.Header().Set("Content-Type", "application/zip")
	n, err := archive.Write(w, entries)
	if err != nil {
		// Headers are already sent; the client sees a truncated archive.
		logging.WithContext(r.Context()).Warn("archive stream failed",
			zap.String("archive", name), zap.Error(err))
	}
	metrics.RecordDownload("archive", n)
}
