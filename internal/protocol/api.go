// Package protocol defines the HTTP API request and response types.
package protocol

import "github.com/SorenWeile/comfyui-gallery/internal/tree"

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// StatusResponse is the generic success envelope.
type StatusResponse struct {
	Status string `json:"status"`
}

// ImageInfo describes one media file in listings.
type ImageInfo struct {
	Path        string  `json:"path"`
	Name        string  `json:"name"`
	Size        int64   `json:"size"`
	Modified    float64 `json:"modified"`
	ModifiedStr string  `json:"modified_str"`
	Type        string  `json:"type"`
	IsFavorite  bool    `json:"is_favorite"`
}

// FolderInfo is a subdirectory in a browse listing.
type FolderInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ImagesResponse is returned by GET /api/images and GET /api/favorites.
type ImagesResponse struct {
	Images []ImageInfo `json:"images"`
}

// BrowseResponse is returned by GET /api/browse/{path}.
type BrowseResponse struct {
	Path    string       `json:"path"`
	Folders []FolderInfo `json:"folders"`
	Images  []ImageInfo  `json:"images"`
}

// TreeResponse is returned by GET /api/tree.
type TreeResponse struct {
	Tree    []*tree.Node `json:"tree"`
	BuiltAt int64        `json:"built_at"`
}

// FavoriteResponse is returned by POST /api/favorite/{path}.
type FavoriteResponse struct {
	Status     string `json:"status"`
	IsFavorite bool   `json:"is_favorite"`
}

// FavoriteBatchRequest is the body for POST /api/favorite-batch.
type FavoriteBatchRequest struct {
	FilePaths  []string `json:"file_paths"`
	IsFavorite bool     `json:"is_favorite"`
}

// FavoriteBatchResponse reports how many records were updated.
type FavoriteBatchResponse struct {
	Status  string `json:"status"`
	Updated int    `json:"updated"`
}

// CountResponse is returned by GET /api/favorites/count.
type CountResponse struct {
	Count int `json:"count"`
}

// RefreshResponse is returned by POST /api/refresh.
type RefreshResponse struct {
	Status     string   `json:"status"`
	Added      int      `json:"added"`
	Updated    int      `json:"updated"`
	Deleted    int      `json:"deleted"`
	Collisions []string `json:"collisions,omitempty"`
	ScanErrors []string `json:"scan_errors,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

// ThumbnailRequest is the body for POST /api/generate-thumbnails.
type ThumbnailRequest struct {
	Images []string `json:"images"`
}

// ThumbnailResponse reports how many paths were queued.
type ThumbnailResponse struct {
	Status string `json:"status"`
	Total  int    `json:"total"`
	Queued int    `json:"queued"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	RootDir       string `json:"root_dir"`
	RootExists    bool   `json:"root_exists"`
	Files         int    `json:"files"`
	Favorites     int    `json:"favorites"`
	SchemaVersion int    `json:"schema_version"`
	TreeCache     string `json:"tree_cache"`
	FreeBytes     uint64 `json:"free_bytes,omitempty"`
	TotalBytes    uint64 `json:"total_bytes,omitempty"`
}
