package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SorenWeile/comfyui-gallery/internal/events"
	"github.com/SorenWeile/comfyui-gallery/internal/favorites"
	"github.com/SorenWeile/comfyui-gallery/internal/gallery"
	"github.com/SorenWeile/comfyui-gallery/internal/protocol"
	"github.com/SorenWeile/comfyui-gallery/internal/reconcile"
	"github.com/SorenWeile/comfyui-gallery/internal/scan"
	"github.com/SorenWeile/comfyui-gallery/internal/storage"
	"github.com/SorenWeile/comfyui-gallery/internal/store"
	"github.com/SorenWeile/comfyui-gallery/internal/tree"
)

type testEnv struct {
	root    string
	store   *store.Store
	bus     *events.Broadcaster
	handler http.Handler
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (e *testEnv) write(t *testing.T, rel string, data []byte, mtime int64) {
	t.Helper()
	p := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
	ts := time.Unix(mtime, 0)
	require.NoError(t, os.Chtimes(p, ts, ts))
}

func newEnv(t *testing.T, rate float64) *testEnv {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()

	s, err := store.Open(ctx, root, store.Options{BusyTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	media, err := storage.New(root, false)
	require.NoError(t, err)
	thumbs, err := storage.New(filepath.Join(store.Dir(root), gallery.ThumbDirName), true)
	require.NoError(t, err)

	opts := scan.Options{}
	cache := tree.NewCache(time.Minute, tree.WithScanOptions(opts))
	bus := events.NewBroadcaster()
	sched := reconcile.NewScheduler(reconcile.NewReconciler(s, opts), root, reconcile.SchedulerOptions{
		Cache:  cache,
		Events: bus,
	})

	srv := NewServer(Deps{
		Store:        s,
		Favorites:    favorites.NewManager(s),
		Scheduler:    sched,
		Tree:         cache,
		Media:        media,
		Thumbnails:   gallery.NewThumbnailer(media, thumbs, 32, 80),
		Broadcaster:  bus,
		ScanOptions:  opts,
		RefreshRate:  rate,
		RefreshBurst: 1,
	})
	return &testEnv{root: root, store: s, bus: bus, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) refresh(t *testing.T) protocol.RefreshResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[protocol.RefreshResponse](t, rec)
}

func TestRefreshAndListImages(t *testing.T) {
	env := newEnv(t, 0)
	env.write(t, "a.png", []byte("a"), 100)
	env.write(t, "b/c.png", []byte("c"), 200)
	env.write(t, "notes.txt", []byte("x"), 300)

	res := env.refresh(t)
	assert.Equal(t, 2, res.Added)
	assert.Zero(t, res.Updated)
	assert.Zero(t, res.Deleted)

	rec := env.do(t, http.MethodGet, "/api/images", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	images := decode[protocol.ImagesResponse](t, rec).Images
	require.Len(t, images, 2)
	assert.Equal(t, "b/c.png", images[0].Path, "newest first")
	assert.Equal(t, "a.png", images[1].Path)
	assert.Equal(t, float64(100), images[1].Modified)
	assert.Equal(t, time.Unix(100, 0).Format(modifiedLayout), images[1].ModifiedStr)
	assert.Equal(t, "image", images[1].Type)

	res = env.refresh(t)
	assert.Zero(t, res.Added+res.Updated+res.Deleted)
}

func TestFavoriteEndpoints(t *testing.T) {
	env := newEnv(t, 0)
	env.write(t, "a.png", []byte("a"), 100)
	env.write(t, "b/c.png", []byte("c"), 200)
	env.refresh(t)

	sub := env.bus.Subscribe()
	defer sub.Close()

	rec := env.do(t, http.MethodPost, "/api/favorite/b/c.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, protocol.FavoriteResponse{Status: "success", IsFavorite: true}, decode[protocol.FavoriteResponse](t, rec))

	// The last sync event is replayed first.
	timeout := time.After(time.Second)
	for done := false; !done; {
		select {
		case ev := <-sub.C:
			if ev.Type != events.EventFavorite {
				continue
			}
			assert.Equal(t, []string{"b/c.png"}, ev.Paths)
			done = true
		case <-timeout:
			t.Fatal("no favorite event")
		}
	}

	rec = env.do(t, http.MethodPost, "/api/favorite/missing.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[protocol.FavoriteResponse](t, rec).IsFavorite)

	body := `{"file_paths": ["a.png", "missing.png"], "is_favorite": true}`
	rec = env.do(t, http.MethodPost, "/api/favorite-batch", strings.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[protocol.FavoriteBatchResponse](t, rec).Updated)

	rec = env.do(t, http.MethodGet, "/api/favorites/count", nil)
	assert.Equal(t, 2, decode[protocol.CountResponse](t, rec).Count)

	rec = env.do(t, http.MethodGet, "/api/favorites", nil)
	favs := decode[protocol.ImagesResponse](t, rec).Images
	require.Len(t, favs, 2)
	for _, f := range favs {
		assert.True(t, f.IsFavorite)
	}

	rec = env.do(t, http.MethodPost, "/api/favorite-batch", strings.NewReader(`{"file_paths": ["../x"]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/favorite-batch", strings.NewReader(`not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBrowse(t *testing.T) {
	env := newEnv(t, 0)
	env.write(t, "a.png", []byte("a"), 100)
	env.write(t, "z.png", []byte("z"), 300)
	env.write(t, "Beta/c.png", []byte("c"), 200)
	env.write(t, "alpha/d.png", []byte("d"), 200)
	env.refresh(t)
	env.do(t, http.MethodPost, "/api/favorite/a.png", nil)

	rec := env.do(t, http.MethodGet, "/api/browse", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[protocol.BrowseResponse](t, rec)
	assert.Equal(t, []protocol.FolderInfo{{Name: "alpha", Path: "alpha"}, {Name: "Beta", Path: "Beta"}}, resp.Folders)
	require.Len(t, resp.Images, 2)
	assert.Equal(t, "z.png", resp.Images[0].Path)
	assert.False(t, resp.Images[0].IsFavorite)
	assert.True(t, resp.Images[1].IsFavorite)

	rec = env.do(t, http.MethodGet, "/api/browse/Beta", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[protocol.BrowseResponse](t, rec)
	assert.Empty(t, resp.Folders)
	require.Len(t, resp.Images, 1)
	assert.Equal(t, "Beta/c.png", resp.Images[0].Path)

	rec = env.do(t, http.MethodGet, "/api/browse/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/browse/a.png", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTree(t *testing.T) {
	env := newEnv(t, 0)
	require.NoError(t, os.MkdirAll(filepath.Join(env.root, "b", "inner"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(env.root, "A"), 0o755))

	rec := env.do(t, http.MethodGet, "/api/tree", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[protocol.TreeResponse](t, rec)
	require.Len(t, resp.Tree, 2)
	assert.Equal(t, "A", resp.Tree[0].Name)
	assert.Equal(t, "b", resp.Tree[1].Name)
	require.Len(t, resp.Tree[1].Children, 1)
	assert.Equal(t, "b/inner", resp.Tree[1].Children[0].Path)

	req := httptest.NewRequest(http.MethodGet, "/api/tree", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	gz := httptest.NewRecorder()
	env.handler.ServeHTTP(gz, req)
	require.Equal(t, "gzip", gz.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(gz.Body)
	require.NoError(t, err)
	var zipped protocol.TreeResponse
	require.NoError(t, json.NewDecoder(zr).Decode(&zipped))
	assert.Equal(t, resp, zipped)
}

func TestPathSafety(t *testing.T) {
	env := newEnv(t, 0)
	env.write(t, "a.png", []byte("a"), 100)
	const payload = "TOPSECRET-BYTES"
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(env.root), "secret.png"), []byte(payload), 0o644))

	for _, target := range []string{"/image/../secret.png", "/api/download/..%2Fsecret.png"} {
		rec := env.do(t, http.MethodGet, target, nil)
		assert.NotEqual(t, http.StatusOK, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), payload, target)
	}

	srv := &Server{}
	for _, h := range []http.HandlerFunc{srv.handleImage, srv.handleMetadata, srv.handleDownload, srv.handleBrowse} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.SetPathValue("path", "../secret.png")
		rec := httptest.NewRecorder()
		h(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, http.StatusBadRequest, decode[protocol.ErrorResponse](t, rec).Code)
	}
}

func TestHiddenPathsAreNotServed(t *testing.T) {
	env := newEnv(t, 0)
	env.write(t, "a.png", []byte("a"), 100)
	env.write(t, ".drafts/b.png", []byte("draft"), 100)
	env.refresh(t)

	const sqliteMagic = "SQLite format 3"
	for _, target := range []string{
		"/image/.gallery_cache/gallery.db",
		"/api/download/.gallery_cache/gallery.db",
		"/api/metadata/.gallery_cache/gallery.db",
		"/thumbnail/.gallery_cache/gallery.db",
		"/api/download-folder/.gallery_cache",
		"/api/browse/.gallery_cache",
		"/image/.drafts/b.png",
	} {
		rec := env.do(t, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), sqliteMagic, target)
	}

	form := url.Values{"paths": {`[".gallery_cache/gallery.db"]`}}
	req := httptest.NewRequest(http.MethodPost, "/api/download-multiple", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), sqliteMagic)
}

func TestMediaKey(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		invalid bool
		hidden  bool
	}{
		{raw: "", want: ""},
		{raw: "a.png", want: "a.png"},
		{raw: "/sub/a.png", want: "sub/a.png"},
		{raw: `sub\a.png`, want: "sub/a.png"},
		{raw: "../a.png", invalid: true},
		{raw: ".gallery_cache/gallery.db", hidden: true},
		{raw: "sub/.hidden/a.png", hidden: true},
		{raw: ".a.png", hidden: true},
	}
	for _, tt := range tests {
		got, err := mediaKey(tt.raw)
		switch {
		case tt.invalid:
			assert.ErrorIs(t, err, storage.ErrInvalidPath, tt.raw)
		case tt.hidden:
			assert.ErrorIs(t, err, fs.ErrNotExist, tt.raw)
		default:
			require.NoError(t, err, tt.raw)
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestImageAndThumbnail(t *testing.T) {
	env := newEnv(t, 0)
	data := pngBytes(t, 64, 32)
	env.write(t, "sub/a.png", data, 100)
	env.write(t, "clip.mp4", []byte("not really a video"), 100)

	rec := env.do(t, http.MethodGet, "/image/sub/a.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, data, rec.Body.Bytes())

	rec = env.do(t, http.MethodGet, "/thumbnail/sub/a.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	cfg, format, err := image.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 32, cfg.Width)
	assert.Equal(t, 16, cfg.Height)

	rec = env.do(t, http.MethodGet, "/thumbnail/clip.mp4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "not really a video", rec.Body.String(), "falls back to the original")

	rec = env.do(t, http.MethodGet, "/thumbnail/missing.png", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/image/missing.png", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetadata(t *testing.T) {
	env := newEnv(t, 0)
	env.write(t, "a.png", pngBytes(t, 8, 4), 100)

	rec := env.do(t, http.MethodGet, "/api/metadata/a.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	md := decode[gallery.Metadata](t, rec)
	assert.Equal(t, "PNG", md.Format)
	assert.Equal(t, gallery.Size{Width: 8, Height: 4}, md.Size)

	rec = env.do(t, http.MethodGet, "/api/metadata/missing.png", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func readZip(t *testing.T, body []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = string(b)
	}
	return out
}

func TestDownloads(t *testing.T) {
	env := newEnv(t, 0)
	env.write(t, "set/a.png", []byte("A"), 100)
	env.write(t, "set/deep/b.jpg", []byte("B"), 100)
	env.write(t, "set/.hidden/c.png", []byte("C"), 100)
	env.write(t, "other/a.png", []byte("A2"), 100)

	rec := env.do(t, http.MethodGet, "/api/download/set/a.png", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "A", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename=a.png`)

	rec = env.do(t, http.MethodGet, "/api/download-folder/set", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "set.zip")
	assert.Equal(t, map[string]string{"a.png": "A", "deep/b.jpg": "B"}, readZip(t, rec.Body.Bytes()))

	rec = env.do(t, http.MethodGet, "/api/download-folder/set/a.png", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	form := url.Values{"paths": {`["set/a.png", "other/a.png", "gone.png"]`}}
	req := httptest.NewRequest(http.MethodPost, "/api/download-multiple", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"a.png": "A", "a_1.png": "A2"}, readZip(t, rec.Body.Bytes()))

	form = url.Values{"paths": {`not json`}}
	req = httptest.NewRequest(http.MethodPost, "/api/download-multiple", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateThumbnailsWithoutProcessor(t *testing.T) {
	env := newEnv(t, 0)
	rec := env.do(t, http.MethodPost, "/api/generate-thumbnails", strings.NewReader(`{"images": ["a.png", "../b.png"]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[protocol.ThumbnailResponse](t, rec)
	assert.Equal(t, 2, resp.Total)
	assert.Zero(t, resp.Queued)
}

func TestRefreshRateLimited(t *testing.T) {
	env := newEnv(t, 0.001)
	env.refresh(t)

	rec := env.do(t, http.MethodPost, "/api/refresh", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestHealth(t *testing.T) {
	env := newEnv(t, 0)
	env.write(t, "a.png", []byte("a"), 100)
	env.refresh(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[protocol.HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.RootExists)
	assert.Equal(t, 1, health.Files)
	assert.Equal(t, store.SchemaVersion, health.SchemaVersion)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{storage.ErrInvalidPath, http.StatusBadRequest},
		{os.ErrNotExist, http.StatusNotFound},
		{store.ErrStoreBusy, http.StatusServiceUnavailable},
		{store.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{store.ErrSchema, http.StatusInternalServerError},
		{reconcile.ErrReconcile, http.StatusInternalServerError},
		{scan.ErrRootUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestBusyErrorSetsRetryAfter(t *testing.T) {
	srv := &Server{}
	rec := httptest.NewRecorder()
	srv.sendErr(rec, httptest.NewRequest(http.MethodGet, "/", nil), store.ErrStoreBusy)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}
