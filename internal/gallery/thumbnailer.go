package gallery

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/SorenWeile/comfyui-gallery/internal/identity"
	"github.com/SorenWeile/comfyui-gallery/internal/logging"
	"github.com/SorenWeile/comfyui-gallery/internal/media"
	"github.com/SorenWeile/comfyui-gallery/internal/metrics"
	"github.com/SorenWeile/comfyui-gallery/internal/storage"
)

// ThumbDirName is the thumbnail directory inside the store directory.
const ThumbDirName = "thumbnails"

// ErrNotThumbnailable is returned for files the gallery cannot thumbnail,
// such as videos.
var ErrNotThumbnailable = errors.New("file type has no thumbnail")

// ThumbKey returns the thumbnail object key for a media path. Keys are
// content-independent: the same path always maps to the same key.
func ThumbKey(rel string) string {
	sum := blake2b.Sum256([]byte(identity.Normalize(rel)))
	name := hex.EncodeToString(sum[:])
	return name[:2] + "/" + name + ".jpg"
}

// Thumbnailer produces JPEG thumbnails for media files and caches them on
// disk.
type Thumbnailer struct {
	media   *storage.Local
	thumbs  *storage.Local
	size    int
	quality int
	group   singleflight.Group
}

// NewThumbnailer creates a Thumbnailer reading from mediaStore and writing
// into thumbStore.
func NewThumbnailer(mediaStore, thumbStore *storage.Local, size, quality int) *Thumbnailer {
	if size <= 0 {
		size = ThumbMaxSize
	}
	if quality <= 0 {
		quality = ThumbQuality
	}
	return &Thumbnailer{
		media:   mediaStore,
		thumbs:  thumbStore,
		size:    size,
		quality: quality,
	}
}

// Ensure returns the filesystem path of an up-to-date thumbnail for rel,
// generating it when missing or older than the source file. Concurrent calls
// for the same file share one generation.
func (t *Thumbnailer) Ensure(ctx context.Context, rel string) (string, error) {
	rel, err := storage.CleanKey(rel)
	if err != nil {
		return "", err
	}
	if !media.Thumbnailable(rel) {
		return "", fmt.Errorf("%s: %w", rel, ErrNotThumbnailable)
	}

	key := ThumbKey(rel)
	v, err, _ := t.group.Do(key, func() (any, error) {
		return t.ensure(ctx, rel, key)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (t *Thumbnailer) ensure(ctx context.Context, rel, key string) (string, error) {
	src, err := t.media.Stat(ctx, rel)
	if err != nil {
		return "", err
	}
	if src.IsDir() {
		return "", fmt.Errorf("%s: %w", rel, fs.ErrNotExist)
	}

	thumbPath, err := t.thumbs.FullPath(key)
	if err != nil {
		return "", err
	}
	if existing, err := t.thumbs.Stat(ctx, key); err == nil && !existing.ModTime().Before(src.ModTime()) {
		metrics.RecordThumbnail("cached")
		return thumbPath, nil
	}

	f, _, err := t.media.GetObject(ctx, rel)
	if err != nil {
		return "", err
	}
	content, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}

	orientation := ExtractExif(bytes.NewReader(content)).Orientation
	data, w, h, err := GenerateThumbnail(bytes.NewReader(content), orientation, t.size, t.quality)
	if err != nil {
		metrics.RecordThumbnail("failed")
		logging.Warn("thumbnail generation failed", zap.String("path", rel), zap.Error(err))
		return "", fmt.Errorf("thumbnail %s: %w", rel, err)
	}
	if err := t.thumbs.PutObject(ctx, key, bytes.NewReader(data)); err != nil {
		metrics.RecordThumbnail("failed")
		return "", err
	}

	metrics.RecordThumbnail("generated")
	logging.Debug("thumbnail generated",
		zap.String("path", rel),
		zap.String("thumb", filepath.Base(thumbPath)),
		zap.Int("width", w),
		zap.Int("height", h))
	return thumbPath, nil
}
