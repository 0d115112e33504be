// Package media classifies gallery files by extension.
package media

import (
	"path/filepath"
	"slices"
	"strings"
)

// Type is the coarse media kind stored with each file record.
type Type string

const (
	Image   Type = "image"
	Video   Type = "video"
	Unknown Type = "unknown"
)

// ImageExtensions are extensions indexed as images.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp"}

// VideoExtensions are extensions indexed as videos when enabled.
var VideoExtensions = []string{".mp4", ".avi", ".mov", ".webm"}

// TypeOf classifies a file name by its extension.
func TypeOf(name string) Type {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case slices.Contains(ImageExtensions, ext):
		return Image
	case slices.Contains(VideoExtensions, ext):
		return Video
	default:
		return Unknown
	}
}

// IsImage reports whether name has an image extension.
func IsImage(name string) bool {
	return TypeOf(name) == Image
}

// Recognized reports whether name is indexed under the given video setting.
func Recognized(name string, includeVideos bool) bool {
	switch TypeOf(name) {
	case Image:
		return true
	case Video:
		return includeVideos
	default:
		return false
	}
}

// Thumbnailable reports whether a thumbnail can be decoded from name.
func Thumbnailable(name string) bool {
	return IsImage(name)
}
