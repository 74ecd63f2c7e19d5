// Package imagedata holds the byte-accurate encoding used to stabilize
// captured images and the per-field capture log.
package imagedata

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// DefaultMIME is assumed when an encoded image does not declare a type.
const DefaultMIME = "image/png"

var (
	ErrNotDataURL   = errors.New("imagedata: not a data URL")
	ErrNotBase64    = errors.New("imagedata: unsupported data URL encoding")
	ErrEmptyPayload = errors.New("imagedata: empty payload")
)

// Decoded is the parsed form of a data URL.
type Decoded struct {
	Data []byte
	MIME string
}

// Encode builds the canonical base64 data URL for the given bytes.
func Encode(data []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = DefaultMIME
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Decode parses a base64 data URL back into bytes. The MIME type defaults to
// image/png when the header omits it. Round-tripping through Encode
// reproduces the input byte-for-byte.
func Decode(s string) (Decoded, error) {
	header, payload, ok := strings.Cut(s, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return Decoded{}, ErrNotDataURL
	}
	meta := strings.TrimPrefix(header, "data:")
	mimeType := DefaultMIME
	base64Encoded := false
	for i, part := range strings.Split(meta, ";") {
		switch {
		case part == "base64":
			base64Encoded = true
		case i == 0 && part != "":
			mimeType = part
		}
	}
	if !base64Encoded {
		return Decoded{}, ErrNotBase64
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Decoded{}, errors.Join(ErrNotBase64, err)
	}
	return Decoded{Data: data, MIME: mimeType}, nil
}

// IsDataURL reports whether src is a self-contained encoded image.
func IsDataURL(src string) bool {
	return strings.HasPrefix(src, "data:image")
}

// CapturedImage is one successfully processed image. Field names follow the
// session payload contract consumed by later pages.
type CapturedImage struct {
	DataURL   string    `json:"dataUrl"`
	Size      int       `json:"size"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Capture decodes dataURL and records its size, type and capture time.
func Capture(dataURL string, at time.Time) (CapturedImage, error) {
	dec, err := Decode(dataURL)
	if err != nil {
		return CapturedImage{}, err
	}
	if len(dec.Data) == 0 {
		return CapturedImage{}, ErrEmptyPayload
	}
	return CapturedImage{
		DataURL:   dataURL,
		Size:      len(dec.Data),
		Type:      dec.MIME,
		Timestamp: at,
	}, nil
}
