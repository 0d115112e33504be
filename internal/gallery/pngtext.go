package gallery

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding/charmap"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

const (
	// maxChunkLen rejects chunks larger than any embedded workflow.
	maxChunkLen = 64 << 20
	// maxInflated bounds a decompressed zTXt/iTXt payload.
	maxInflated = 64 << 20
)

var errNotPNG = errors.New("not a PNG stream")

// pngInfo is what the gallery reads from a PNG stream without decoding
// pixels.
type pngInfo struct {
	Width     int
	Height    int
	BitDepth  int
	ColorType int
	Text      map[string]string
}

// Mode names the PNG color type the way imaging tools report it.
func (p *pngInfo) Mode() string {
	switch p.ColorType {
	case 0:
		if p.BitDepth == 16 {
			return "I;16"
		}
		if p.BitDepth == 1 {
			return "1"
		}
		return "L"
	case 2:
		return "RGB"
	case 3:
		return "P"
	case 4:
		return "LA"
	case 6:
		return "RGBA"
	}
	return ""
}

// readPNGInfo walks the chunk list up to IEND collecting IHDR and the
// tEXt, zTXt and iTXt text chunks. Image data is skipped without being
// decompressed. Malformed text chunks are ignored.
func readPNGInfo(r io.Reader) (*pngInfo, error) {
	br := bufio.NewReader(r)

	sig := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(br, sig); err != nil || !bytes.Equal(sig, pngSignature) {
		return nil, errNotPNG
	}

	info := &pngInfo{Text: make(map[string]string)}
	var header [8]byte
	for {
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return info, nil
			}
			return info, err
		}
		length := binary.BigEndian.Uint32(header[:4])
		kind := string(header[4:8])
		if length > maxChunkLen {
			return info, fmt.Errorf("png chunk %s too large: %d bytes", kind, length)
		}

		switch kind {
		case "IHDR", "tEXt", "zTXt", "iTXt":
			data := make([]byte, length)
			if _, err := io.ReadFull(br, data); err != nil {
				return info, fmt.Errorf("read png chunk %s: %w", kind, err)
			}
			info.apply(kind, data)
		default:
			if _, err := br.Discard(int(length)); err != nil {
				return info, nil
			}
		}

		// CRC
		if _, err := br.Discard(4); err != nil {
			return info, nil
		}
		if kind == "IEND" {
			return info, nil
		}
	}
}

func (p *pngInfo) apply(kind string, data []byte) {
	switch kind {
	case "IHDR":
		if len(data) >= 10 {
			p.Width = int(binary.BigEndian.Uint32(data[0:4]))
			p.Height = int(binary.BigEndian.Uint32(data[4:8]))
			p.BitDepth = int(data[8])
			p.ColorType = int(data[9])
		}
	case "tEXt":
		key, text, ok := bytes.Cut(data, []byte{0})
		if !ok {
			return
		}
		p.Text[latin1(key)] = latin1(text)
	case "zTXt":
		key, rest, ok := bytes.Cut(data, []byte{0})
		if !ok || len(rest) < 1 || rest[0] != 0 {
			return
		}
		text, err := inflate(rest[1:])
		if err != nil {
			return
		}
		p.Text[latin1(key)] = latin1(text)
	case "iTXt":
		key, rest, ok := bytes.Cut(data, []byte{0})
		if !ok || len(rest) < 2 {
			return
		}
		compressed, method := rest[0] == 1, rest[1]
		rest = rest[2:]
		// language tag, then translated keyword
		if _, rest, ok = bytes.Cut(rest, []byte{0}); !ok {
			return
		}
		if _, rest, ok = bytes.Cut(rest, []byte{0}); !ok {
			return
		}
		text := rest
		if compressed {
			if method != 0 {
				return
			}
			var err error
			if text, err = inflate(rest); err != nil {
				return
			}
		}
		p.Text[latin1(key)] = string(text)
	}
}

func inflate(b []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, maxInflated))
}

// latin1 decodes ISO 8859-1 bytes, the encoding of tEXt and zTXt chunks.
func latin1(b []byte) string {
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}
