package gallery

import (
	"encoding/json"
	"image"
	"image/color"
	"io"
	"os"
	"strings"
)

// Size is an image's pixel dimensions.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Metadata is everything the gallery reports about one image.
type Metadata struct {
	Format          string            `json:"format,omitempty"`
	Size            Size              `json:"size"`
	Mode            string            `json:"mode,omitempty"`
	FileSize        int64             `json:"file_size"`
	Prompt          json.RawMessage   `json:"prompt,omitempty"`
	Workflow        json.RawMessage   `json:"workflow,omitempty"`
	Parameters      map[string]string `json:"parameters"`
	Exif            map[string]string `json:"exif,omitempty"`
	WorkflowSummary *WorkflowSummary  `json:"workflow_summary,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// ExtractMetadata reads format, dimensions, color mode, embedded text
// chunks and EXIF from the file at path. It never fails: whatever could be
// read is returned and the first problem is recorded in Error.
func ExtractMetadata(path string) *Metadata {
	md := &Metadata{Parameters: map[string]string{}}

	f, err := os.Open(path)
	if err != nil {
		md.Error = err.Error()
		return md
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil {
		md.FileSize = info.Size()
	}

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		md.Error = "decode image: " + err.Error()
		return md
	}
	md.Format = strings.ToUpper(format)
	md.Size = Size{Width: cfg.Width, Height: cfg.Height}
	md.Mode = colorMode(cfg.ColorModel)

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		md.Error = err.Error()
		return md
	}

	if format == "png" {
		info, err := readPNGInfo(f)
		if info != nil {
			if m := info.Mode(); m != "" {
				md.Mode = m
			}
			md.applyText(info.Text)
		}
		if err != nil {
			md.Error = "read png chunks: " + err.Error()
		}
		return md
	}

	if x := ExtractExif(f); x.Fields != nil {
		md.Exif = x.Fields
	}
	return md
}

// applyText sorts PNG text chunks into the structured fields. The "prompt"
// and "workflow" chunks are kept as JSON when they parse; everything else is
// reported under Parameters.
func (m *Metadata) applyText(text map[string]string) {
	for key, val := range text {
		switch key {
		case "prompt":
			if json.Valid([]byte(val)) {
				m.Prompt = json.RawMessage(val)
				m.WorkflowSummary = SummarizePrompt(m.Prompt)
				continue
			}
		case "workflow":
			if json.Valid([]byte(val)) {
				m.Workflow = json.RawMessage(val)
				continue
			}
		}
		m.Parameters[key] = val
	}
}

func colorMode(m color.Model) string {
	switch m {
	case color.RGBAModel, color.NRGBAModel, color.RGBA64Model, color.NRGBA64Model:
		return "RGBA"
	case color.GrayModel:
		return "L"
	case color.Gray16Model:
		return "I;16"
	case color.YCbCrModel, color.NYCbCrAModel:
		return "RGB"
	case color.CMYKModel:
		return "CMYK"
	}
	if _, ok := m.(color.Palette); ok {
		return "P"
	}
	return ""
}
