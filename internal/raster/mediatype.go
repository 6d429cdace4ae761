package raster

import (
	"bytes"
	"mime"
	"strings"
)

// Media types the pipeline branches on.
const (
	MediaTypePDF         = "application/pdf"
	MediaTypeOctetStream = "application/octet-stream"
)

// DetectMediaType identifies PDFs and the supported raster formats from
// magic bytes. It returns "" when the content is not recognized.
func DetectMediaType(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PDF: %PDF-
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return MediaTypePDF
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return "image/png"
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return "image/jpeg"
	}

	// GIF: 'G' 'I' 'F' '8' ('7' or '9') 'a'
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return "image/gif"
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}

	// TIFF: 'I' 'I' 0x2A 0x00 (little-endian) or 'M' 'M' 0x00 0x2A (big-endian)
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return "image/tiff"
	}

	// BMP: 'B' 'M'
	if bytes.HasPrefix(data, []byte("BM")) {
		return "image/bmp"
	}

	return ""
}

// NormalizeMediaType lowercases a declared media type and strips parameters.
func NormalizeMediaType(declared string) string {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		return mt
	}
	return strings.ToLower(declared)
}

// ResolveMediaType returns the declared type, replaced by the sniffed type
// when the declaration is missing or generic.
func ResolveMediaType(declared string, data []byte) string {
	mt := NormalizeMediaType(declared)
	if mt == "" || mt == MediaTypeOctetStream {
		if detected := DetectMediaType(data); detected != "" {
			return detected
		}
	}
	return mt
}

// imageTypes lists the raster formats DecodeImage has decoders for,
// with the aliases browsers and mail clients still send.
var imageTypes = map[string]bool{
	"image/png":      true,
	"image/jpeg":     true,
	"image/jpg":      true,
	"image/pjpeg":    true,
	"image/gif":      true,
	"image/bmp":      true,
	"image/x-ms-bmp": true,
	"image/tiff":     true,
	"image/webp":     true,
}

// IsImage reports whether mt is a raster format the pipeline can decode.
func IsImage(mt string) bool {
	return imageTypes[NormalizeMediaType(mt)]
}
