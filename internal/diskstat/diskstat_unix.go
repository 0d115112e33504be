//go:build unix

package diskstat

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Stat returns capacity for the filesystem containing path. Free counts
// blocks available to unprivileged users.
func Stat(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	return Usage{
		Total: uint64(st.Blocks) * bsize,
		Free:  uint64(st.Bavail) * bsize,
	}, nil
}
