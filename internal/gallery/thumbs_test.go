package gallery

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateThumbnailOrientation(t *testing.T) {
	src := encodePNG(t, testImage(200, 100))

	tests := []struct {
		orientation int
		w, h        int
	}{
		{1, 100, 50},
		{3, 100, 50},
		{6, 50, 100},
		{8, 50, 100},
		{0, 100, 50},
	}
	for _, tt := range tests {
		data, w, h, err := GenerateThumbnail(bytes.NewReader(src), tt.orientation, 100, 90)
		require.NoError(t, err)
		assert.Equal(t, [2]int{tt.w, tt.h}, [2]int{w, h}, "orientation %d", tt.orientation)

		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, tt.w, cfg.Width)
	}
}

func TestGenerateThumbnailFlattensTransparency(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 20, 20))
	data, _, _, err := GenerateThumbnail(bytes.NewReader(encodePNG(t, img)), 0, 100, 95)
	require.NoError(t, err)

	out, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	r, g, b, _ := out.At(10, 10).RGBA()
	white := color.White
	wr, _, _, _ := white.RGBA()
	assert.InDelta(t, wr, r, 0x0800)
	assert.InDelta(t, wr, g, 0x0800)
	assert.InDelta(t, wr, b, 0x0800)
}

func TestGenerateThumbnailRejectsGarbage(t *testing.T) {
	_, _, _, err := GenerateThumbnail(bytes.NewReader([]byte("not an image")), 0, 0, 0)
	assert.Error(t, err)
}
