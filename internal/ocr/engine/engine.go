/**
 * Recognition engine selection
 *
 * Both engines drive Tesseract: "gosseract" links libtesseract through cgo,
 * "tesseract-cli" runs the tesseract binary and parses its TSV report.
 */

package engine

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/receiptflow/ocr-worker/internal/ocr"
)

// Engine type names accepted by New.
const (
	TypeGosseract    = "gosseract"
	TypeTesseractCLI = "tesseract-cli"
)

// Config selects and parameterizes an engine. Values are passed to
// Tesseract verbatim.
type Config struct {
	Type           string
	Language       string
	TesseractPath  string
	TessdataPrefix string
}

// New creates the engine named by cfg.Type.
func New(cfg Config) (ocr.Engine, error) {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}

	switch cfg.Type {
	case TypeGosseract, "":
		return NewGosseractEngine(cfg), nil
	case TypeTesseractCLI:
		return NewCLIEngine(cfg), nil
	default:
		return nil, fmt.Errorf("unknown OCR engine %q", cfg.Type)
	}
}

// encodePNG serializes a page for engines that take encoded images.
func encodePNG(page *image.Gray) ([]byte, error) {
	if page == nil || page.Bounds().Empty() {
		return nil, fmt.Errorf("empty page image")
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, page); err != nil {
		return nil, fmt.Errorf("failed to encode page: %w", err)
	}
	return buf.Bytes(), nil
}
