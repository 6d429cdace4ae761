package ocr

import (
	"context"
	"image"
)

// Engine recognizes words on a normalized page raster.
//
// Implementations return every entry the recognizer produced, including
// non-word sentinels; filtering and ordering happen in Reconstruct.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, page *image.Gray) ([]RawToken, error)
	Close() error
}
