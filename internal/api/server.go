// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/SorenWeile/comfyui-gallery/internal/events"
	"github.com/SorenWeile/comfyui-gallery/internal/favorites"
	"github.com/SorenWeile/comfyui-gallery/internal/gallery"
	"github.com/SorenWeile/comfyui-gallery/internal/logging"
	"github.com/SorenWeile/comfyui-gallery/internal/metrics"
	"github.com/SorenWeile/comfyui-gallery/internal/protocol"
	"github.com/SorenWeile/comfyui-gallery/internal/reconcile"
	"github.com/SorenWeile/comfyui-gallery/internal/scan"
	"github.com/SorenWeile/comfyui-gallery/internal/storage"
	"github.com/SorenWeile/comfyui-gallery/internal/store"
	"github.com/SorenWeile/comfyui-gallery/internal/tree"
)

// busyRetryAfter is the Retry-After value sent with 503 responses caused by
// store contention.
const busyRetryAfter = 2

// Pool gzip writers for the tree endpoint.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// Deps bundles everything the server serves from.
type Deps struct {
	Store       *store.Store
	Favorites   *favorites.Manager
	Scheduler   *reconcile.Scheduler
	Tree        *tree.Cache
	Media       *storage.Local
	Thumbnails  *gallery.Thumbnailer
	Processor   *gallery.Processor
	Broadcaster *events.Broadcaster
	ScanOptions scan.Options

	// RefreshRate limits POST /api/refresh in requests per second; zero
	// disables the limit.
	RefreshRate  float64
	RefreshBurst int
}

// Server is the HTTP server.
type Server struct {
	Deps
	refreshLimiter *rate.Limiter
}

// NewServer creates a new server.
func NewServer(deps Deps) *Server {
	s := &Server{Deps: deps}
	if deps.RefreshRate > 0 {
		burst := deps.RefreshBurst
		if burst <= 0 {
			burst = 1
		}
		s.refreshLimiter = rate.NewLimiter(rate.Limit(deps.RefreshRate), burst)
	}
	return s
}

// Handler returns the HTTP handler wrapped in logging and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Listings
	mux.HandleFunc("GET /api/images", s.handleImages)
	mux.HandleFunc("GET /api/browse", s.handleBrowse)
	mux.HandleFunc("GET /api/browse/{path...}", s.handleBrowse)
	mux.HandleFunc("GET /api/tree", s.handleTree)
	mux.HandleFunc("GET /api/metadata/{path...}", s.handleMetadata)

	// Reconciliation
	mux.Handle("POST /api/refresh", s.rateLimit(http.HandlerFunc(s.handleRefresh)))

	// Favorites
	mux.HandleFunc("POST /api/favorite/{path...}", s.handleToggleFavorite)
	mux.HandleFunc("POST /api/favorite-batch", s.handleFavoriteBatch)
	mux.HandleFunc("GET /api/favorites", s.handleFavorites)
	mux.HandleFunc("GET /api/favorites/count", s.handleFavoritesCount)

	// Media
	mux.HandleFunc("GET /image/{path...}", s.handleImage)
	mux.HandleFunc("GET /thumbnail/{path...}", s.handleThumbnail)
	mux.HandleFunc("POST /api/generate-thumbnails", s.handleGenerateThumbnails)

	// Downloads
	mux.HandleFunc("GET /api/download/{path...}", s.handleDownload)
	mux.HandleFunc("GET /api/download-folder/{path...}", s.handleDownloadFolder)
	mux.HandleFunc("POST /api/download-multiple", s.handleDownloadMultiple)

	// SSE
	mux.HandleFunc("GET /api/events", s.handleEvents)

	return logging.Middleware(metrics.Middleware(mux))
}

// rateLimit rejects requests beyond the refresh limiter's budget.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.refreshLimiter != nil && !s.refreshLimiter.Allow() {
			metrics.RecordRateLimitHit()
			w.Header().Set("Retry-After", "1")
			s.sendError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// mediaKey validates a client-supplied media path. Hidden segments, such
// as the store directory, do not exist as far as clients are concerned.
func mediaKey(raw string) (string, error) {
	rel, err := storage.CleanKey(raw)
	if err != nil {
		return "", err
	}
	for _, seg := range strings.Split(rel, "/") {
		if scan.Hidden(seg) {
			return "", fmt.Errorf("%s: %w", rel, fs.ErrNotExist)
		}
	}
	return rel, nil
}

// cleanPath validates the {path...} wildcard of a request.
func (s *Server) cleanPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	rel, err := mediaKey(r.PathValue("path"))
	if err != nil {
		s.sendErr(w, r, err)
		return "", false
	}
	return rel, true
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("write response", zap.Error(err))
	}
}

func (s *Server) sendGzipJSON(w http.ResponseWriter, r *http.Request, v any) {
	if !acceptsGzip(r) {
		s.sendJSON(w, v)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Add("Vary", "Accept-Encoding")
	gw := gzipPool.Get().(*gzip.Writer)
	gw.Reset(w)
	_ = json.NewEncoder(gw).Encode(v)
	gw.Close()
	gzipPool.Put(gw)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// sendErr maps domain errors to HTTP responses.
func (s *Server) sendErr(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusServiceUnavailable && errors.Is(err, store.ErrStoreBusy) {
		w.Header().Set("Retry-After", strconv.Itoa(busyRetryAfter))
	}
	if code >= 500 {
		logging.WithContext(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.sendError(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrStoreBusy), errors.Is(err, store.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, reconcile.ErrReconcile):
		return http.StatusInternalServerError
	case errors.Is(err, scan.ErrRootUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
