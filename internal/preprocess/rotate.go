package preprocess

import (
	"image"
	"math"
)

// rotate turns img by degrees about its center, keeping the original size.
// Positive degrees rotate content clockwise on screen. Samples outside the
// source repeat the nearest border pixel.
func rotate(img *image.Gray, degrees float64) *image.Gray {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))

	phi := degrees * math.Pi / 180
	c, s := math.Cos(phi), math.Sin(phi)
	cx, cy := float64(w-1)/2, float64(h-1)/2

	for y := 0; y < h; y++ {
		dy := float64(y) - cy
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			dx := float64(x) - cx
			xs := c*dx + s*dy + cx
			ys := -s*dx + c*dy + cy
			row[x] = sampleBicubic(img, xs, ys)
		}
	}
	return dst
}

// sampleBicubic interpolates img at (fx, fy) with the Catmull-Rom kernel,
// clamping coordinates to the image.
func sampleBicubic(img *image.Gray, fx, fy float64) uint8 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	x0, y0 := int(math.Floor(fx)), int(math.Floor(fy))
	tx, ty := fx-float64(x0), fy-float64(y0)

	var wx, wy [4]float64
	for i := 0; i < 4; i++ {
		wx[i] = cubicWeight(float64(i-1) - tx)
		wy[i] = cubicWeight(float64(i-1) - ty)
	}

	sum := 0.0
	for j := 0; j < 4; j++ {
		sy := clampInt(y0+j-1, 0, h-1)
		row := img.Pix[sy*img.Stride:]
		rowSum := 0.0
		for i := 0; i < 4; i++ {
			sx := clampInt(x0+i-1, 0, w-1)
			rowSum += wx[i] * float64(row[sx])
		}
		sum += wy[j] * rowSum
	}

	v := math.Round(sum)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// cubicWeight is the Keys cubic convolution kernel with a = -0.5.
func cubicWeight(d float64) float64 {
	const a = -0.5
	d = math.Abs(d)
	switch {
	case d <= 1:
		return (a+2)*d*d*d - (a+3)*d*d + 1
	case d < 2:
		return a*d*d*d - 5*a*d*d + 8*a*d - 4*a
	default:
		return 0
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
