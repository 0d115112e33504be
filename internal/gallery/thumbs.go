package gallery

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"

	"github.com/disintegration/imaging"

	// Decoders for every thumbnailable format.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Thumbnail defaults.
const (
	ThumbMaxSize = 400
	ThumbQuality = 80
)

// orientations maps EXIF orientation values 2..8 to the transform that
// brings the image upright.
var orientations = map[int]func(image.Image) *image.NRGBA{
	2: imaging.FlipH,
	3: imaging.Rotate180,
	4: imaging.FlipV,
	5: imaging.Transpose,
	6: imaging.Rotate270,
	7: imaging.Transverse,
	8: imaging.Rotate90,
}

// GenerateThumbnail decodes an image, turns it upright, fits it within a
// maxSize square and returns it as JPEG with its final dimensions.
// Transparent areas are flattened onto white since JPEG has no alpha.
func GenerateThumbnail(r io.Reader, orientation, maxSize, quality int) ([]byte, int, int, error) {
	if maxSize <= 0 {
		maxSize = ThumbMaxSize
	}
	if quality <= 0 || quality > 100 {
		quality = ThumbQuality
	}

	src, _, err := image.Decode(r)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode: %w", err)
	}
	if rotate, ok := orientations[orientation]; ok {
		src = rotate(src)
	}

	var thumb image.Image = imaging.Fit(src, maxSize, maxSize, imaging.Lanczos)
	if !opaque(thumb) {
		bg := imaging.New(thumb.Bounds().Dx(), thumb.Bounds().Dy(), color.White)
		thumb = imaging.Overlay(bg, thumb, image.Point{}, 1.0)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: quality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode: %w", err)
	}
	b := thumb.Bounds()
	return buf.Bytes(), b.Dx(), b.Dy(), nil
}

func opaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return true
}
