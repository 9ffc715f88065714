// Package encode converts screenshot bytes into transport form.
package encode

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// DataURL encodes image bytes as a self-describing inline data URL.
// When mediaType is empty it is sniffed from the bytes.
func DataURL(image []byte, mediaType string) string {
	if len(image) == 0 {
		return ""
	}
	if mediaType == "" {
		mediaType = SniffMediaType(image)
	}
	var b strings.Builder
	b.WriteString("data:")
	b.WriteString(mediaType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(image))
	return b.String()
}

// SniffMediaType detects the media type of image bytes, defaulting to PNG
// when detection yields nothing image-shaped.
func SniffMediaType(image []byte) string {
	detected := http.DetectContentType(image)
	if strings.HasPrefix(detected, "image/") {
		return detected
	}
	return "image/png"
}
