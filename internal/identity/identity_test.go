package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignIDDeterministic(t *testing.T) {
	paths := []string{"a.png", "b/c.png", "deep/nested/dir/image.webp", "Ünïcode/ß.jpg"}
	for _, p := range paths {
		first := AssignID(p)
		require.Len(t, first, IDLength)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, AssignID(p), "path %q", p)
		}
	}
}

func TestAssignIDDistinct(t *testing.T) {
	// These collide under the legacy substitution scheme.
	a, b := "a_b.png", "a/b.png"
	assert.Equal(t, legacyID(a), legacyID(b))
	assert.NotEqual(t, AssignID(a), AssignID(b))

	assert.NotEqual(t, AssignID("a.png"), AssignID("A.png"))
	assert.NotEqual(t, AssignID("x/a.png"), AssignID("x/a.jpg"))
}

func TestAssignIDNormalizedCollisions(t *testing.T) {
	tests := []struct {
		a, b string
	}{
		{"a\\b.png", "a/b.png"},
		{"./a.png", "a.png"},
		{"/a.png", "a.png"},
		{"x//y/../z.png", "x/z.png"},
	}
	for _, tt := range tests {
		assert.Equal(t, AssignID(tt.a), AssignID(tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{".", ""},
		{"/", ""},
		{"a.png", "a.png"},
		{"dir\\sub\\a.png", "dir/sub/a.png"},
		{"./dir/./a.png", "dir/a.png"},
		{"../escape.png", "escape.png"},
		{"Dir/A.PNG", "Dir/A.PNG"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

// legacyID is the substitution scheme used by stores created before schema
// version 2.
func legacyID(p string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ".", "_").Replace(p)
}
