// Package identity derives stable record identifiers from gallery paths.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// IDLength is the number of hex characters in an identifier.
const IDLength = 32

// Normalize returns the canonical slash-separated form of a path relative to
// the gallery root. Backslashes are treated as separators, "." and ".."
// segments are resolved lexically and leading "./" or "/" are removed. Case
// is preserved.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// AssignID maps a relative path to its record identifier: the hex encoding of
// the first 16 bytes of SHA-256 over the normalized path.
//
// Two inputs share an identifier only when they normalize to the same string,
// e.g. "a\\b.png" and "a/b.png", or "./a.png" and "a.png".
func AssignID(p string) string {
	h := sha256.Sum256([]byte(Normalize(p)))
	return hex.EncodeToString(h[:IDLength/2])
}
