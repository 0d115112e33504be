// Package archive streams gallery files as ZIP archives.
package archive

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Entry is one file to add to an archive.
type Entry struct {
	// Name is the slash-separated name inside the archive.
	Name string
	// Path is the file on disk.
	Path string
}

// Write streams entries to w as a ZIP archive. Media files are already
// compressed so entries are stored rather than deflated. Duplicate names get
// a numeric suffix. It returns the number of content bytes written.
func Write(w io.Writer, entries []Entry) (int64, error) {
	zw := zip.NewWriter(w)
	used := make(map[string]bool, len(entries))

	var total int64
	for _, e := range entries {
		name := uniqueName(used, e.Name)
		n, err := addFile(zw, name, e.Path)
		if err != nil {
			zw.Close()
			return total, err
		}
		total += n
	}

	if err := zw.Close(); err != nil {
		return total, fmt.Errorf("finish archive: %w", err)
	}
	return total, nil
}

func addFile(zw *zip.Writer, name, src string) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", name, err)
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return 0, fmt.Errorf("header %s: %w", name, err)
	}
	hdr.Name = name
	hdr.Method = zip.Store

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return 0, fmt.Errorf("add %s: %w", name, err)
	}
	n, err := io.Copy(dst, f)
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", name, err)
	}
	return n, nil
}

func uniqueName(used map[string]bool, name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "/")
	candidate := name
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; used[candidate]; i++ {
		candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
	used[candidate] = true
	return candidate
}
