package api

import (
	"encoding/json"
	"net/http"

	"github.com/samber/lo"

	"github.com/SorenWeile/comfyui-gallery/internal/events"
	"github.com/SorenWeile/comfyui-gallery/internal/protocol"
	"github.com/SorenWeile/comfyui-gallery/internal/storage"
	"github.com/SorenWeile/comfyui-gallery/internal/store"
)

// maxBatchBody bounds the JSON body of batch requests.
const maxBatchBody = 4 << 20

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	rel, ok := s.cleanPath(w, r)
	if !ok {
		return
	}

	value, err := s.Favorites.Toggle(r.Context(), rel)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.publishFavorite([]string{rel}, value)
	s.sendJSON(w, protocol.FavoriteResponse{Status: "success", IsFavorite: value})
}

func (s *Server) handleFavoriteBatch(w http.ResponseWriter, r *http.Request) {
	var req protocol.FavoriteBatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody)).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	paths := make([]string, 0, len(req.FilePaths))
	for _, p := range req.FilePaths {
		clean, err := storage.CleanKey(p)
		if err != nil {
			s.sendErr(w, r, err)
			return
		}
		paths = append(paths, clean)
	}

	n, err := s.Favorites.SetBatch(r.Context(), paths, req.IsFavorite)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	if n > 0 {
		s.publishFavorite(paths, req.IsFavorite)
	}
	s.sendJSON(w, protocol.FavoriteBatchResponse{Status: "success", Updated: n})
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	records, err := s.Favorites.List(r.Context())
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, protocol.ImagesResponse{Images: lo.Map(records, func(rec store.FileRecord, _ int) protocol.ImageInfo {
		return recordInfo(rec)
	})})
}

func (s *Server) handleFavoritesCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.Favorites.Count(r.Context())
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	s.sendJSON(w, protocol.CountResponse{Count: n})
}

func (s *Server) publishFavorite(paths []string, value bool) {
	if s.Broadcaster == nil {
		return
	}
	s.Broadcaster.Publish(events.Favorite(paths, value))
}
