// Package fusion combines per-metric scores into a final score and classification.
package fusion

import (
	"github.com/example/authdoc/internal/verification"
)

// Classification is the verdict label.
type Classification string

const (
	Authentic  Classification = "Authentic"
	Suspicious Classification = "Suspicious"
	Forged     Classification = "Forged"
)

// Result is the outcome of Fuse.
type Result struct {
	FinalScore     float64        `json:"final_score"`
	Classification Classification `json:"classification"`
	Policy         string         `json:"policy"`
}

// Fuse computes the weighted mean of the available scores weighted by p. Metrics are
// visited in canonical order so the floating point result does not depend on map order.
// When no weighted metric is available the final score is 0.
func Fuse(scores verification.ScoreMap, p Policy) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	var sum, weight float64
	for _, m := range verification.Metrics() {
		w := p.Weights[m]
		score, ok := scores[m]
		if w == 0 || !ok || !score.Available {
			continue
		}
		sum += w * score.Value
		weight += w
	}

	final := 0.0
	if weight > 0 {
		final = verification.Round3(verification.Clamp(sum / weight))
	}
	return Result{
		FinalScore:     final,
		Classification: Classify(final, p.Thresholds),
		Policy:         p.Name,
	}, nil
}

// Classify maps a final score onto a label.
func Classify(score float64, t Thresholds) Classification {
	switch {
	case score >= t.Authentic:
		return Authentic
	case score >= t.Suspicious:
		return Suspicious
	default:
		return Forged
	}
}
