// Package diskstat reports filesystem capacity for the media root.
package diskstat

import "errors"

// ErrUnsupported is returned on platforms without a statfs equivalent.
var ErrUnsupported = errors.New("disk usage not supported on this platform")

// Usage is the capacity of the filesystem holding a path.
type Usage struct {
	Total uint64
	Free  uint64
}

// Used returns the bytes in use.
func (u Usage) Used() uint64 {
	if u.Free > u.Total {
		return 0
	}
	return u.Total - u.Free
}
