package preprocess

import (
	"image"
	"math"
	"sort"
)

// Line search parameters, in pixels and degrees.
const (
	houghThetaStep     = 0.1
	houghVoteMin       = 100
	houghMaxPeaks      = 50
	peakThetaRadius    = 1.0
	peakRhoRadius      = 3
	seedMinLength      = 25
	segmentMinLength   = 100
	segmentMaxGap      = 10
	skewLimitDegrees   = 45
	segmentTolerancePx = 1
)

// lineSegment is a traced edge with its least-squares direction.
type lineSegment struct {
	x1, y1, x2, y2 int
	angle          float64 // degrees, y axis pointing down
}

func (s lineSegment) length() float64 {
	return math.Hypot(float64(s.x2-s.x1), float64(s.y2-s.y1))
}

// estimateSkew returns the median angle, in degrees, of the long
// near-horizontal edges found in img. Positive angles mean lines descend
// to the right. It returns 0 when no edge qualifies.
func estimateSkew(img *image.Gray) float64 {
	segments := detectSegments(canny(img))
	if len(segments) == 0 {
		return 0
	}

	angles := make([]float64, len(segments))
	for i, s := range segments {
		angles[i] = s.angle
	}
	return median(angles)
}

// detectSegments finds candidate lines with a Hough transform restricted to
// skewLimitDegrees of horizontal, then follows the edge pixels under each
// candidate and measures the angle of what it traced. The Hough bin only
// seeds the trace; its quantized angle is never reported.
func detectSegments(em *edgeMap) []lineSegment {
	if em.w == 0 || em.h == 0 {
		return nil
	}

	// The line x*cos(t) + y*sin(t) = rho has direction angle t - 90.
	nTheta := int(math.Round(2*skewLimitDegrees/houghThetaStep)) + 1
	cosT := make([]float64, nTheta)
	sinT := make([]float64, nTheta)
	for t := 0; t < nTheta; t++ {
		rad := (90 - skewLimitDegrees + float64(t)*houghThetaStep) * math.Pi / 180
		cosT[t] = math.Cos(rad)
		sinT[t] = math.Sin(rad)
	}

	rhoOffset := int(math.Ceil(math.Hypot(float64(em.w), float64(em.h))))
	nRho := 2*rhoOffset + 1
	acc := make([]int32, nTheta*nRho)

	for y := 0; y < em.h; y++ {
		for x := 0; x < em.w; x++ {
			if !em.on[y*em.w+x] {
				continue
			}
			fx, fy := float64(x), float64(y)
			for t := 0; t < nTheta; t++ {
				r := int(math.Round(fx*cosT[t]+fy*sinT[t])) + rhoOffset
				acc[t*nRho+r]++
			}
		}
	}

	peaks := findPeaks(acc, nTheta, nRho)

	used := make([]bool, em.w*em.h)
	var segments []lineSegment
	for _, p := range peaks {
		t, r := p/nRho, p%nRho
		rho := float64(r - rhoOffset)
		for _, run := range walkLine(em, rho, cosT[t], sinT[t]) {
			seed := run[len(run)/2]
			if used[seed.Y*em.w+seed.X] {
				continue
			}
			if s, ok := fitSegment(traceEdge(em, seed, used)); ok {
				segments = append(segments, s)
			}
		}
	}
	return segments
}

// findPeaks returns accumulator indices with at least houghVoteMin votes
// that are local maxima in their 3x3 neighborhood, strongest first. A peak
// within peakThetaRadius degrees and peakRhoRadius pixels of a stronger one
// is dropped, so one thick stroke cannot fill the peak budget.
func findPeaks(acc []int32, nTheta, nRho int) []int {
	var candidates []int
	for t := 0; t < nTheta; t++ {
		for r := 0; r < nRho; r++ {
			i := t*nRho + r
			v := acc[i]
			if v < houghVoteMin {
				continue
			}
			if isLocalMax(acc, nTheta, nRho, t, r, v) {
				candidates = append(candidates, i)
			}
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if acc[candidates[a]] != acc[candidates[b]] {
			return acc[candidates[a]] > acc[candidates[b]]
		}
		return candidates[a] < candidates[b]
	})

	thetaRadius := int(math.Round(peakThetaRadius / houghThetaStep))
	var peaks []int
	for _, c := range candidates {
		if len(peaks) == houghMaxPeaks {
			break
		}
		ct, cr := c/nRho, c%nRho
		suppressed := false
		for _, p := range peaks {
			pt, pr := p/nRho, p%nRho
			if abs(ct-pt) <= thetaRadius && abs(cr-pr) <= peakRhoRadius {
				suppressed = true
				break
			}
		}
		if !suppressed {
			peaks = append(peaks, c)
		}
	}
	return peaks
}

// isLocalMax breaks plateaus in favor of the lowest index.
func isLocalMax(acc []int32, nTheta, nRho, t, r int, v int32) bool {
	for dt := -1; dt <= 1; dt++ {
		for dr := -1; dr <= 1; dr++ {
			if dt == 0 && dr == 0 {
				continue
			}
			nt, nr := t+dt, r+dr
			if nt < 0 || nr < 0 || nt >= nTheta || nr >= nRho {
				continue
			}
			n := acc[nt*nRho+nr]
			before := dt < 0 || (dt == 0 && dr < 0)
			if n > v || (before && n == v) {
				return false
			}
		}
	}
	return true
}

// walkLine scans the line across the image and returns the runs of edge
// pixels within segmentTolerancePx of it that span at least seedMinLength
// columns. Runs are split at gaps longer than segmentMaxGap.
func walkLine(em *edgeMap, rho, cosT, sinT float64) [][]image.Point {
	var runs [][]image.Point
	var run []image.Point

	closeRun := func() {
		if len(run) > 0 && run[len(run)-1].X-run[0].X+1 >= seedMinLength {
			runs = append(runs, run)
		}
		run = nil
	}

	for x := 0; x < em.w; x++ {
		y := int(math.Round((rho - float64(x)*cosT) / sinT))
		if y < -segmentTolerancePx || y >= em.h+segmentTolerancePx {
			closeRun()
			continue
		}

		hitY, hit := 0, false
		for d := -segmentTolerancePx; d <= segmentTolerancePx && !hit; d++ {
			if em.at(x, y+d) {
				hitY, hit = y+d, true
			}
		}
		if !hit {
			if len(run) > 0 && x-run[len(run)-1].X-1 > segmentMaxGap {
				closeRun()
			}
			continue
		}
		run = append(run, image.Point{X: x, Y: hitY})
	}
	closeRun()

	return runs
}

// traceEdge follows a connected edge left and right from seed, moving at
// most one row per column and bridging gaps of up to segmentMaxGap columns.
// Visited pixels are marked in used. Points are returned in x order.
func traceEdge(em *edgeMap, seed image.Point, used []bool) []image.Point {
	used[seed.Y*em.w+seed.X] = true

	follow := func(dir int) []image.Point {
		var pts []image.Point
		y, gap := seed.Y, 0
		for x := seed.X + dir; x >= 0 && x < em.w && gap <= segmentMaxGap; x += dir {
			hit := false
			for _, d := range [3]int{0, 1, -1} {
				ny := y + d
				if ny < 0 || ny >= em.h || !em.on[ny*em.w+x] || used[ny*em.w+x] {
					continue
				}
				used[ny*em.w+x] = true
				pts = append(pts, image.Point{X: x, Y: ny})
				y, hit = ny, true
				break
			}
			if hit {
				gap = 0
			} else {
				gap++
			}
		}
		return pts
	}

	left := follow(-1)
	right := follow(1)

	pts := make([]image.Point, 0, len(left)+1+len(right))
	for i := len(left) - 1; i >= 0; i-- {
		pts = append(pts, left[i])
	}
	pts = append(pts, seed)
	return append(pts, right...)
}

// fitSegment fits y = a + b*x to pts by least squares. It rejects traces
// narrower than segmentMinLength or steeper than skewLimitDegrees.
func fitSegment(pts []image.Point) (lineSegment, bool) {
	if len(pts) < 2 || pts[len(pts)-1].X-pts[0].X+1 < segmentMinLength {
		return lineSegment{}, false
	}

	var sx, sy float64
	for _, p := range pts {
		sx += float64(p.X)
		sy += float64(p.Y)
	}
	n := float64(len(pts))
	mx, my := sx/n, sy/n

	var sxx, sxy float64
	for _, p := range pts {
		dx, dy := float64(p.X)-mx, float64(p.Y)-my
		sxx += dx * dx
		sxy += dx * dy
	}
	if sxx == 0 {
		return lineSegment{}, false
	}
	slope := sxy / sxx

	angle := math.Atan(slope) * 180 / math.Pi
	if math.Abs(angle) > skewLimitDegrees {
		return lineSegment{}, false
	}

	x1, x2 := pts[0].X, pts[len(pts)-1].X
	return lineSegment{
		x1:    x1,
		y1:    int(math.Round(my + slope*(float64(x1)-mx))),
		x2:    x2,
		y2:    int(math.Round(my + slope*(float64(x2)-mx))),
		angle: angle,
	}, true
}

// median averages the two middle values for even-length input.
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
