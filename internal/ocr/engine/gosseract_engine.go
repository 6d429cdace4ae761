package engine

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/receiptflow/ocr-worker/internal/logging"
	"github.com/receiptflow/ocr-worker/internal/ocr"
)

// GosseractEngine runs Tesseract in-process through gosseract.
type GosseractEngine struct {
	language       string
	tessdataPrefix string
	logger         *logging.Logger

	// libtesseract handles are not safe for concurrent use.
	mu sync.Mutex
}

// NewGosseractEngine creates an in-process Tesseract engine
func NewGosseractEngine(cfg Config) *GosseractEngine {
	return &GosseractEngine{
		language:       cfg.Language,
		tessdataPrefix: cfg.TessdataPrefix,
		logger:         logging.NewLogger("gosseract"),
	}
}

func (e *GosseractEngine) Name() string { return "tesseract" }

// Recognize runs word-level recognition with a single-block layout.
func (e *GosseractEngine) Recognize(ctx context.Context, page *image.Gray) ([]ocr.RawToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := encodePNG(page)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	client := gosseract.NewClient()
	defer client.Close()

	if e.tessdataPrefix != "" {
		if err := client.SetTessdataPrefix(e.tessdataPrefix); err != nil {
			return nil, fmt.Errorf("failed to set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(e.language); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxesVerbose()
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	tokens := make([]ocr.RawToken, 0, len(boxes))
	for _, b := range boxes {
		tokens = append(tokens, tokenFromBox(b))
	}

	e.logger.Debug("Page recognized", "boxes", len(boxes))
	return tokens, nil
}

func (e *GosseractEngine) Close() error { return nil }

func tokenFromBox(b gosseract.BoundingBox) ocr.RawToken {
	return ocr.RawToken{
		Text:       b.Word,
		Confidence: strconv.FormatFloat(b.Confidence, 'f', -1, 64),
		Left:       b.Box.Min.X,
		Top:        b.Box.Min.Y,
		Width:      b.Box.Dx(),
		Height:     b.Box.Dy(),
		Page:       1,
		Block:      b.BlockNum,
		Paragraph:  b.ParNum,
		Line:       b.LineNum,
		Word:       b.WordNum,
	}
}
