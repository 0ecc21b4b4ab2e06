package copymove

import (
	"math"
	"math/bits"
)

type match struct {
	query, train int
	distance     int
}

func hamming(a, b descriptor) int {
	d := 0
	for i := range a {
		d += bits.OnesCount64(a[i] ^ b[i])
	}
	return d
}

// crossCheckSelf matches the feature set against itself. A feature never matches itself,
// and a pair is kept only when each side is the other's nearest neighbour. Each unordered
// pair is reported once, with query < train.
func crossCheckSelf(features []feature) []match {
	n := len(features)
	if n < 2 {
		return nil
	}
	nearest := make([]int, n)
	distance := make([]int, n)
	for i := range features {
		best, bestDist := -1, math.MaxInt
		for j := range features {
			if i == j {
				continue
			}
			if d := hamming(features[i].desc, features[j].desc); d < bestDist {
				best, bestDist = j, d
			}
		}
		nearest[i], distance[i] = best, bestDist
	}

	var out []match
	for i, j := range nearest {
		if i < j && nearest[j] == i {
			out = append(out, match{query: i, train: j, distance: distance[i]})
		}
	}
	return out
}

func displacement(a, b Keypoint) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
