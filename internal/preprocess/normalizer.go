/**
 * Image normalization for OCR
 *
 * Turns an arbitrary page raster into a deskewed black-and-white page:
 * grayscale, 2x upscale for narrow inputs, light Gaussian blur, skew
 * correction, then Otsu binarization.
 */

package preprocess

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/receiptflow/ocr-worker/internal/errors"
	"github.com/receiptflow/ocr-worker/internal/logging"
)

const (
	// Pages narrower than this are upscaled 2x before recognition.
	upscaleBelowWidth = 1000
	upscaleFactor     = 2

	// Matches a 3x3 Gaussian kernel.
	blurSigma = 0.8

	// Skew estimates below this magnitude (degrees) are left uncorrected.
	minSkewDegrees = 0.5
)

// Normalizer prepares page rasters for recognition.
type Normalizer struct {
	logger *logging.Logger
}

// NewNormalizer creates a normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{logger: logging.NewLogger("normalizer")}
}

// Normalize runs the full pipeline with a package-level normalizer.
func Normalize(img image.Image) (*image.Gray, error) {
	return defaultNormalizer.Normalize(img)
}

var defaultNormalizer = NewNormalizer()

// Normalize converts img into a binarized, deskewed grayscale page.
// The result is a new image; img is not modified.
func (n *Normalizer) Normalize(img image.Image) (*image.Gray, error) {
	if img == nil {
		return nil, errors.NewDecodeError("", "normalization", fmt.Errorf("nil image"))
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.NewDecodeError("", "normalization", fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy()))
	}

	gray := toGray(imaging.Grayscale(img))

	if gray.Bounds().Dx() < upscaleBelowWidth {
		gray = upscale(gray, upscaleFactor)
	}

	blurred := toGray(imaging.Blur(gray, blurSigma))

	angle := estimateSkew(blurred)
	page := blurred
	if math.Abs(angle) >= minSkewDegrees {
		page = rotate(blurred, -angle)
		n.logger.Debug("Deskewed page", "angle", angle)
	}

	threshold := otsuThreshold(page)
	return binarize(page, threshold), nil
}

// upscale enlarges img by factor with Catmull-Rom (bicubic) resampling.
func upscale(img *image.Gray, factor int) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// toGray copies img into a zero-origin *image.Gray. Inputs already
// gray-balanced by imaging carry luminance in every color channel.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < b.Dy(); y++ {
			si := src.PixOffset(b.Min.X, b.Min.Y+y)
			di := y * dst.Stride
			for x := 0; x < b.Dx(); x++ {
				dst.Pix[di+x] = src.Pix[si+4*x]
			}
		}
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			si := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+b.Dx()], src.Pix[si:si+b.Dx()])
		}
	default:
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	}
	return dst
}

// GrayscaleOnly converts pages to grayscale and nothing else. It gives the
// unprocessed baseline when comparing recognition with and without
// normalization.
type GrayscaleOnly struct{}

func (GrayscaleOnly) Normalize(img image.Image) (*image.Gray, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.NewDecodeError("", "normalization", fmt.Errorf("empty image"))
	}
	return toGray(imaging.Grayscale(img)), nil
}
