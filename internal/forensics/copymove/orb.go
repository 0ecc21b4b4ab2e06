package copymove

import (
	"image"
	"math"
	"math/rand"
	"sort"
)

const (
	fastThreshold = 20
	fastArc       = 9
	patchRadius   = 15
	patternRadius = 13
	// edgeBorder keeps the FAST circle, the orientation patch and the rotated sampling
	// pattern inside the level image.
	edgeBorder    = patchRadius + 1
	pyramidLevels = 3
	descriptorLen = 256
)

// circle is the 16-pixel Bresenham ring of radius 3 used by FAST.
var circle = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1}, {3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1}, {-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// samplingPattern holds the BRIEF test pairs. It is generated once from a fixed seed so
// descriptors are reproducible across runs and processes.
var samplingPattern = buildPattern()

// umax[dy] is the half-width of the orientation disk at row offset dy.
var umax = buildUmax()

// Keypoint is a detected corner. X and Y are in full-resolution pixel coordinates.
type Keypoint struct {
	X, Y     float64
	Level    int
	Response int
	Angle    float64
}

type descriptor [descriptorLen / 64]uint64

type feature struct {
	kp   Keypoint
	desc descriptor
}

type level struct {
	raw      *image.Gray
	smoothed *image.Gray
	scale    int
}

// extractFeatures detects up to maxKeypoints oriented FAST corners over a factor-two
// pyramid and computes a rotated BRIEF descriptor for each.
func extractFeatures(gray *image.Gray, maxKeypoints int) []feature {
	levels := buildPyramid(gray)
	budgets := levelBudgets(maxKeypoints, len(levels))

	var features []feature
	for i, lvl := range levels {
		corners := detectCorners(lvl.raw)
		sort.SliceStable(corners, func(a, b int) bool {
			if corners[a].response != corners[b].response {
				return corners[a].response > corners[b].response
			}
			if corners[a].y != corners[b].y {
				return corners[a].y < corners[b].y
			}
			return corners[a].x < corners[b].x
		})
		if len(corners) > budgets[i] {
			corners = corners[:budgets[i]]
		}
		for _, c := range corners {
			angle := orientation(lvl.raw, c.x, c.y)
			features = append(features, feature{
				kp: Keypoint{
					X:        float64(c.x * lvl.scale),
					Y:        float64(c.y * lvl.scale),
					Level:    i,
					Response: c.response,
					Angle:    angle,
				},
				desc: describe(lvl.smoothed, c.x, c.y, angle),
			})
		}
	}
	return features
}

func buildPyramid(gray *image.Gray) []level {
	levels := []level{{raw: gray, smoothed: smooth(gray), scale: 1}}
	current := gray
	for i := 1; i < pyramidLevels; i++ {
		b := current.Bounds()
		if b.Dx()/2 <= 2*edgeBorder || b.Dy()/2 <= 2*edgeBorder {
			break
		}
		current = downsample(current)
		levels = append(levels, level{raw: current, smoothed: smooth(current), scale: 1 << i})
	}
	return levels
}

// levelBudgets splits the keypoint budget geometrically across levels, finer levels first.
func levelBudgets(total, n int) []int {
	budgets := make([]int, n)
	if n == 0 {
		return budgets
	}
	factor := 0.5
	perLevel := float64(total) * (1 - factor) / (1 - math.Pow(factor, float64(n)))
	sum := 0
	for i := 0; i < n-1; i++ {
		budgets[i] = int(math.Round(perLevel))
		sum += budgets[i]
		perLevel *= factor
	}
	budgets[n-1] = max(0, total-sum)
	return budgets
}

func downsample(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx()/2, b.Dy()/2
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := int(src.GrayAt(2*x, 2*y).Y) + int(src.GrayAt(2*x+1, 2*y).Y) +
				int(src.GrayAt(2*x, 2*y+1).Y) + int(src.GrayAt(2*x+1, 2*y+1).Y)
			dst.Pix[y*dst.Stride+x] = uint8((sum + 2) / 4)
		}
	}
	return dst
}

// smooth applies a separable 5-tap binomial filter with clamped edges.
func smooth(src *image.Gray) *image.Gray {
	kernel := [5]int{1, 4, 6, 4, 1}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	tmp := make([]int, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := 0
			for k := -2; k <= 2; k++ {
				acc += kernel[k+2] * int(src.Pix[y*src.Stride+clampInt(x+k, 0, w-1)])
			}
			tmp[y*w+x] = acc
		}
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := 0
			for k := -2; k <= 2; k++ {
				acc += kernel[k+2] * tmp[clampInt(y+k, 0, h-1)*w+x]
			}
			dst.Pix[y*dst.Stride+x] = uint8((acc + 128) / 256)
		}
	}
	return dst
}

type corner struct {
	x, y     int
	response int
}

// detectCorners runs FAST-9 followed by 3x3 non-maximum suppression.
func detectCorners(img *image.Gray) []corner {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 2*edgeBorder || h <= 2*edgeBorder {
		return nil
	}
	responses := make([]int, w*h)
	for y := edgeBorder; y < h-edgeBorder; y++ {
		for x := edgeBorder; x < w-edgeBorder; x++ {
			responses[y*w+x] = fastResponse(img, x, y)
		}
	}

	var out []corner
	for y := edgeBorder; y < h-edgeBorder; y++ {
		for x := edgeBorder; x < w-edgeBorder; x++ {
			r := responses[y*w+x]
			if r == 0 || !isLocalMaximum(responses, w, x, y, r) {
				continue
			}
			out = append(out, corner{x: x, y: y, response: r})
		}
	}
	return out
}

// isLocalMaximum breaks ties in favour of the pixel that comes first in raster order.
func isLocalMaximum(responses []int, w, x, y, r int) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := responses[(y+dy)*w+x+dx]
			if n > r {
				return false
			}
			if n == r && (dy < 0 || (dy == 0 && dx < 0)) {
				return false
			}
		}
	}
	return true
}

// fastResponse returns 0 when (x,y) is not a FAST corner, otherwise the summed contrast of
// the ring pixels that exceed the threshold on the winning side.
func fastResponse(img *image.Gray, x, y int) int {
	stride := img.Stride
	center := int(img.Pix[y*stride+x])
	var ring [16]int
	for i, off := range circle {
		ring[i] = int(img.Pix[(y+off[1])*stride+x+off[0]])
	}

	brighter, darker := 0, 0
	runB, runD, bestB, bestD := 0, 0, 0, 0
	for i := 0; i < 32; i++ {
		v := ring[i%16]
		switch {
		case v > center+fastThreshold:
			runB++
			runD = 0
		case v < center-fastThreshold:
			runD++
			runB = 0
		default:
			runB, runD = 0, 0
		}
		bestB = max(bestB, runB)
		bestD = max(bestD, runD)
		if i < 16 {
			if v > center+fastThreshold {
				brighter += v - center - fastThreshold
			} else if v < center-fastThreshold {
				darker += center - fastThreshold - v
			}
		}
	}
	switch {
	case bestB >= fastArc && bestD >= fastArc:
		return max(brighter, darker)
	case bestB >= fastArc:
		return brighter
	case bestD >= fastArc:
		return darker
	default:
		return 0
	}
}

// orientation is the intensity-centroid angle over a disk of radius patchRadius.
func orientation(img *image.Gray, x, y int) float64 {
	stride := img.Stride
	var m01, m10 int
	for dy := -patchRadius; dy <= patchRadius; dy++ {
		d := umax[abs(dy)]
		row := (y + dy) * stride
		for dx := -d; dx <= d; dx++ {
			v := int(img.Pix[row+x+dx])
			m10 += dx * v
			m01 += dy * v
		}
	}
	return math.Atan2(float64(m01), float64(m10))
}

func describe(img *image.Gray, x, y int, angle float64) descriptor {
	sin, cos := math.Sincos(angle)
	stride := img.Stride
	sample := func(px, py int) uint8 {
		rx := int(math.Round(float64(px)*cos - float64(py)*sin))
		ry := int(math.Round(float64(px)*sin + float64(py)*cos))
		return img.Pix[(y+ry)*stride+x+rx]
	}
	var d descriptor
	for i, p := range samplingPattern {
		if sample(p[0], p[1]) < sample(p[2], p[3]) {
			d[i/64] |= 1 << (uint(i) % 64)
		}
	}
	return d
}

func buildPattern() [descriptorLen][4]int {
	rng := rand.New(rand.NewSource(0x5eed0c3))
	sigma := float64(2*patchRadius+1) / 5
	point := func() (int, int) {
		for {
			px := int(math.Round(rng.NormFloat64() * sigma))
			py := int(math.Round(rng.NormFloat64() * sigma))
			if px*px+py*py <= patternRadius*patternRadius {
				return px, py
			}
		}
	}
	var pattern [descriptorLen][4]int
	for i := range pattern {
		for {
			x1, y1 := point()
			x2, y2 := point()
			if x1 != x2 || y1 != y2 {
				pattern[i] = [4]int{x1, y1, x2, y2}
				break
			}
		}
	}
	return pattern
}

func buildUmax() [patchRadius + 1]int {
	var u [patchRadius + 1]int
	for dy := 0; dy <= patchRadius; dy++ {
		u[dy] = int(math.Floor(math.Sqrt(float64(patchRadius*patchRadius - dy*dy))))
	}
	return u
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

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
