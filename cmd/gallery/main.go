// ComfyUI Gallery
//
// Serves a ComfyUI output directory as a browsable gallery:
// - SQLite record store kept in sync with the files on disk
// - Favorites that survive edits and re-syncs
// - Cached folder tree, thumbnails, metadata and ZIP downloads
// - Prometheus metrics & structured logging (zap)
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
