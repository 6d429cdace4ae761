package preprocess

import "image"

// Canny hysteresis thresholds on the L1 Sobel magnitude.
const (
	cannyLow  = 50
	cannyHigh = 150
)

// edgeMap is a binary edge image in row-major order.
type edgeMap struct {
	w, h int
	on   []bool
}

func (e *edgeMap) at(x, y int) bool {
	if x < 0 || y < 0 || x >= e.w || y >= e.h {
		return false
	}
	return e.on[y*e.w+x]
}

func (e *edgeMap) count() int {
	n := 0
	for _, v := range e.on {
		if v {
			n++
		}
	}
	return n
}

// canny detects edges with Sobel gradients, non-maximum suppression and
// hysteresis thresholding. Border pixels are never edges.
func canny(img *image.Gray) *edgeMap {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	em := &edgeMap{w: w, h: h, on: make([]bool, w*h)}
	if w < 3 || h < 3 {
		return em
	}

	px := func(x, y int) int { return int(img.Pix[y*img.Stride+x]) }

	mag := make([]int, w*h)
	dir := make([]uint8, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := -px(x-1, y-1) - 2*px(x-1, y) - px(x-1, y+1) +
				px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1)
			gy := -px(x-1, y-1) - 2*px(x, y-1) - px(x+1, y-1) +
				px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1)
			i := y*w + x
			mag[i] = abs(gx) + abs(gy)
			dir[i] = quantizeDirection(gx, gy)
		}
	}

	const (
		weak   = 1
		strong = 2
	)
	class := make([]uint8, w*h)
	var stack []int

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m < cannyLow {
				continue
			}
			var a, b int
			switch dir[i] {
			case 0: // horizontal gradient
				a, b = mag[i-1], mag[i+1]
			case 1: // 45 degrees
				a, b = mag[i-w+1], mag[i+w-1]
			case 2: // vertical gradient
				a, b = mag[i-w], mag[i+w]
			default: // 135 degrees
				a, b = mag[i-w-1], mag[i+w+1]
			}
			if m < a || m < b {
				continue
			}
			if m >= cannyHigh {
				class[i] = strong
				stack = append(stack, i)
			} else {
				class[i] = weak
			}
		}
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		em.on[i] = true
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if class[j] == weak {
					class[j] = strong
					stack = append(stack, j)
				}
			}
		}
	}
	return em
}

// quantizeDirection maps a gradient onto one of four neighbor axes.
func quantizeDirection(gx, gy int) uint8 {
	ax, ay := abs(gx), abs(gy)
	// tan(22.5deg) ~= 0.4142, compared in integer arithmetic
	switch {
	case ay*10000 <= ax*4142:
		return 0
	case ax*10000 <= ay*4142:
		return 2
	case (gx > 0) == (gy > 0):
		// y grows downward, so equal signs point along the main diagonal
		return 3
	default:
		return 1
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
