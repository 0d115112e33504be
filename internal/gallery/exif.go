package gallery

import (
	"io"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// maxExifValue truncates long EXIF values such as maker notes.
const maxExifValue = 256

// ExifData holds the EXIF fields the gallery uses.
type ExifData struct {
	Orientation int
	Width       int
	Height      int
	CameraMake  string
	CameraModel string
	Software    string
	DateTaken   *time.Time
	// Fields holds every decoded tag as display text.
	Fields map[string]string
}

// ExtractExif reads EXIF data from an image reader. Images without EXIF
// yield Orientation 1 and no fields; this is not an error.
func ExtractExif(r io.Reader) *ExifData {
	d := &ExifData{Orientation: 1}
	x, err := exif.Decode(r)
	if err != nil {
		return d
	}

	d.CameraMake = getTagString(x, exif.Make)
	d.CameraModel = getTagString(x, exif.Model)
	d.Software = getTagString(x, exif.Software)

	if dt, err := x.DateTime(); err == nil {
		d.DateTaken = &dt
	}

	if orient, err := x.Get(exif.Orientation); err == nil {
		if v, err := orient.Int(0); err == nil && v >= 1 && v <= 8 {
			d.Orientation = v
		}
	}

	if pw, err := x.Get(exif.PixelXDimension); err == nil {
		if v, err := pw.Int(0); err == nil {
			d.Width = v
		}
	}
	if ph, err := x.Get(exif.PixelYDimension); err == nil {
		if v, err := ph.Int(0); err == nil {
			d.Height = v
		}
	}

	w := &fieldCollector{fields: make(map[string]string)}
	_ = x.Walk(w)
	if len(w.fields) > 0 {
		d.Fields = w.fields
	}
	return d
}

// fieldCollector implements exif.Walker.
type fieldCollector struct {
	fields map[string]string
}

func (c *fieldCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	if name == exif.MakerNote {
		return nil
	}
	v := tagText(tag)
	if len(v) > maxExifValue {
		v = v[:maxExifValue]
	}
	c.fields[string(name)] = v
	return nil
}

// getTagString extracts a string value from an EXIF tag.
func getTagString(x *exif.Exif, f exif.FieldName) string {
	tag, err := x.Get(f)
	if err != nil {
		return ""
	}
	return tagText(tag)
}

func tagText(tag *tiff.Tag) string {
	if tag.Format() == tiff.StringVal {
		s, _ := tag.StringVal()
		return strings.TrimRight(s, "\x00 ")
	}
	return tag.String()
}
