package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/SorenWeile/comfyui-gallery/internal/gallery"
	"github.com/SorenWeile/comfyui-gallery/internal/logging"
	"github.com/SorenWeile/comfyui-gallery/internal/protocol"
	"github.com/SorenWeile/comfyui-gallery/internal/storage"
)

const mediaCacheControl = "public, max-age=3600"

// serveFile streams key from the media root honouring Range and
// conditional requests.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, rel string) {
	f, _, err := s.Media.GetObject(r.Context(), rel)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", mediaCacheControl)
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	rel, ok := s.cleanPath(w, r)
	if !ok {
		return
	}
	s.serveFile(w, r, rel)
}

// handleThumbnail serves a cached JPEG thumbnail, falling back to the
// original file when none can be produced.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	rel, ok := s.cleanPath(w, r)
	if !ok {
		return
	}

	thumbPath, err := s.Thumbnails.Ensure(r.Context(), rel)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidPath) || errors.Is(err, os.ErrNotExist) {
			s.sendErr(w, r, err)
			return
		}
		if !errors.Is(err, gallery.ErrNotThumbnailable) {
			logging.WithContext(r.Context()).Debug("thumbnail fallback to original",
				zap.String("path", rel), zap.Error(err))
		}
		s.serveFile(w, r, rel)
		return
	}

	f, err := os.Open(thumbPath)
	if err != nil {
		s.serveFile(w, r, rel)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", mediaCacheControl)
	http.ServeContent(w, r, "", info.ModTime(), f)
}

func (s *Server) handleGenerateThumbnails(w http.ResponseWriter, r *http.Request) {
	var req protocol.ThumbnailRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	paths := make([]string, 0, len(req.Images))
	for _, p := range req.Images {
		if clean, err := mediaKey(p); err == nil && clean != "" {
			paths = append(paths, clean)
		}
	}

	queued := 0
	if s.Processor != nil {
		queued = s.Processor.Enqueue(paths...)
	}
	s.sendJSON(w, protocol.ThumbnailResponse{Status: "success", Total: len(req.Images), Queued: queued})
}
