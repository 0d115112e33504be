package scan

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SorenWeile/comfyui-gallery/internal/media"
)

func writeFile(t *testing.T, root, rel string, mtime time.Time) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("data"), 0o644))
	require.NoError(t, os.Chtimes(p, mtime, mtime))
}

func paths(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func TestWalk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.png", time.Unix(100, 0))
	writeFile(t, root, "b/c.png", time.Unix(200, 500_000_000))
	writeFile(t, root, "b/notes.txt", time.Unix(1, 0))
	writeFile(t, root, "clip.mp4", time.Unix(1, 0))
	writeFile(t, root, ".gallery_cache/thumbnails/x.jpg", time.Unix(1, 0))
	writeFile(t, root, ".hidden/d.png", time.Unix(1, 0))

	entries, errs, err := Walk(root, Options{})
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, []string{"a.png", "b/c.png"}, paths(entries))

	assert.Equal(t, 100.0, entries[0].MTime)
	assert.Equal(t, 200.5, entries[1].MTime)
	assert.Equal(t, "c.png", entries[1].Name)
	assert.Equal(t, int64(4), entries[1].Size)
	assert.Equal(t, media.Image, entries[1].Type)

	entries, _, err = Walk(root, Options{IncludeVideos: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b/c.png", "clip.mp4"}, paths(entries))
}

func TestWalkExclude(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep/a.png", time.Unix(1, 0))
	writeFile(t, root, "temp/b.png", time.Unix(1, 0))
	writeFile(t, root, "keep/c_preview.png", time.Unix(1, 0))

	opts := Options{Exclude: []string{"temp", "**/*_preview.png"}}
	require.NoError(t, opts.ValidatePatterns())

	entries, _, err := Walk(root, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep/a.png"}, paths(entries))

	assert.Error(t, Options{Exclude: []string{"[unclosed"}}.ValidatePatterns())
}

func TestWalkMissingRoot(t *testing.T) {
	_, _, err := Walk(filepath.Join(t.TempDir(), "absent"), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRootUnavailable))
}

func TestWalkUnreadableSubtree(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	root := t.TempDir()
	writeFile(t, root, "ok/a.png", time.Unix(1, 0))
	writeFile(t, root, "locked/b.png", time.Unix(1, 0))
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	entries, errs, err := Walk(root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok/a.png"}, paths(entries))
	require.Len(t, errs, 1)
	assert.Equal(t, "locked", errs[0].Path)
}

func TestReadDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "old.png", time.Unix(100, 0))
	writeFile(t, root, "new.jpg", time.Unix(300, 0))
	writeFile(t, root, "Zeta/x.png", time.Unix(1, 0))
	writeFile(t, root, "alpha/y.png", time.Unix(1, 0))
	writeFile(t, root, "alpha/sub/z.png", time.Unix(1, 0))
	writeFile(t, root, ".gallery_cache/gallery.db", time.Unix(1, 0))
	writeFile(t, root, "readme.md", time.Unix(1, 0))

	l, err := ReadDir(root, "", Options{})
	require.NoError(t, err)
	assert.Equal(t, []Folder{{Name: "alpha", Path: "alpha"}, {Name: "Zeta", Path: "Zeta"}}, l.Folders)
	assert.Equal(t, []string{"new.jpg", "old.png"}, paths(l.Files))

	l, err = ReadDir(root, "alpha", Options{})
	require.NoError(t, err)
	assert.Equal(t, []Folder{{Name: "sub", Path: "alpha/sub"}}, l.Folders)
	assert.Equal(t, []string{"alpha/y.png"}, paths(l.Files))

	_, err = ReadDir(root, "missing", Options{})
	assert.Error(t, err)
}
