/**
 * Raster input handling
 *
 * Decodes uploaded images and renders PDF pages to images.
 */

package raster

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/receiptflow/ocr-worker/internal/errors"
)

// DecodeImage decodes any registered image format. Only the first frame of
// multi-frame formats is used.
func DecodeImage(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", errors.NewDecodeError("", "image decode", fmt.Errorf("empty input"))
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", errors.NewDecodeError("", "image decode", err)
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", errors.NewDecodeError("", "image decode", fmt.Errorf("image has no pixels"))
	}
	return img, format, nil
}
