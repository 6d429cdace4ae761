package preprocess

import "image"

// otsuThreshold picks the gray level that maximizes between-class variance.
// Pixels strictly above the threshold are foreground. Ties keep the lowest level.
func otsuThreshold(img *image.Gray) uint8 {
	var hist [256]int
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := 0; y < h; y++ {
		for _, v := range img.Pix[y*img.Stride : y*img.Stride+w] {
			hist[v]++
		}
	}

	total := float64(w * h)
	sum := 0.0
	for i, n := range hist {
		sum += float64(i) * float64(n)
	}

	var (
		sumB, wB  float64
		best      float64
		threshold int
	)
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = t
		}
	}
	return uint8(threshold)
}

// binarize maps pixels above threshold to 255 and the rest to 0.
func binarize(img *image.Gray, threshold uint8) *image.Gray {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for x, v := range src {
			if v > threshold {
				out[x] = 255
			}
		}
	}
	return dst
}
