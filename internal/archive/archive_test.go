package archive

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readArchive(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string]string)
	for _, f := range zr.File {
		assert.Equal(t, zip.Store, f.Method, f.Name)
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = string(b)
	}
	return out
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	require.NoError(t, os.WriteFile(a, []byte("aaa"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("bbbb"), 0o644))

	var buf bytes.Buffer
	n, err := Write(&buf, []Entry{
		{Name: "a.png", Path: a},
		{Name: "sub/b.png", Path: b},
		{Name: "a.png", Path: b},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	assert.Equal(t, map[string]string{
		"a.png":     "aaa",
		"sub/b.png": "bbbb",
		"a_1.png":   "bbbb",
	}, readArchive(t, buf.Bytes()))
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	n, err := Write(&buf, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, readArchive(t, buf.Bytes()))
}

func TestWriteMissingFile(t *testing.T) {
	var buf bytes.Buffer
	_, err := Write(&buf, []Entry{{Name: "x.png", Path: filepath.Join(t.TempDir(), "x.png")}})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
