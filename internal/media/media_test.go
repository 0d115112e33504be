package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeOf(t *testing.T) {
	tests := []struct {
		name string
		want Type
	}{
		{"a.png", Image},
		{"A.PNG", Image},
		{"dir/b.JpEg", Image},
		{"c.webp", Image},
		{"clip.mp4", Video},
		{"clip.WEBM", Video},
		{"notes.txt", Unknown},
		{"noext", Unknown},
		{".png", Image},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TypeOf(tt.name), tt.name)
	}
}

func TestRecognized(t *testing.T) {
	assert.True(t, Recognized("a.gif", false))
	assert.False(t, Recognized("a.mov", false))
	assert.True(t, Recognized("a.mov", true))
	assert.False(t, Recognized("a.json", true))
}
