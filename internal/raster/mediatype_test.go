package raster

import "testing"

func TestDetectMediaType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"pdf", []byte("%PDF-1.7\n"), MediaTypePDF},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0}, "image/png"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{"gif", []byte("GIF89a...."), "image/gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"tiff le", []byte{'I', 'I', 0x2A, 0x00, 8}, "image/tiff"},
		{"tiff be", []byte{'M', 'M', 0x00, 0x2A, 0}, "image/tiff"},
		{"bmp", []byte("BM\x00\x00\x00"), "image/bmp"},
		{"text", []byte("hello world"), ""},
		{"short", []byte("%P"), ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectMediaType(tc.data); got != tc.want {
				t.Errorf("DetectMediaType() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolveMediaType(t *testing.T) {
	pdf := []byte("%PDF-1.4")
	tests := []struct {
		declared string
		data     []byte
		want     string
	}{
		{"", pdf, MediaTypePDF},
		{"application/octet-stream", pdf, MediaTypePDF},
		{"Image/PNG; charset=binary", pdf, "image/png"},
		{"text/plain", pdf, "text/plain"},
		{"application/octet-stream", []byte("????"), MediaTypeOctetStream},
	}
	for _, tc := range tests {
		if got := ResolveMediaType(tc.declared, tc.data); got != tc.want {
			t.Errorf("ResolveMediaType(%q) = %q, want %q", tc.declared, got, tc.want)
		}
	}
}

func TestIsImage(t *testing.T) {
	for mt, want := range map[string]bool{
		"image/png":                true,
		"Image/JPEG; q=0.9":        true,
		"image/tiff":               true,
		"image/webp":               true,
		"image/x-ms-bmp":           true,
		"image/svg+xml":            false,
		"image/heic":               false,
		"image/avif":               false,
		"application/pdf":          false,
		"application/octet-stream": false,
		"":                         false,
	} {
		if got := IsImage(mt); got != want {
			t.Errorf("IsImage(%q) = %v, want %v", mt, got, want)
		}
	}
}

func TestDetectedTypesAreImagesOrPDF(t *testing.T) {
	samples := [][]byte{
		{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0},
		{0xFF, 0xD8, 0xFF, 0xE0},
		[]byte("GIF89a...."),
		[]byte("RIFF\x00\x00\x00\x00WEBPVP8 "),
		{'I', 'I', 0x2A, 0x00, 8},
		[]byte("BM\x00\x00\x00"),
	}
	for _, data := range samples {
		if mt := DetectMediaType(data); !IsImage(mt) {
			t.Errorf("detected %q is not accepted by IsImage", mt)
		}
	}
}
