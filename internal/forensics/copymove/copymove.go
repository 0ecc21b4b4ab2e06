// Package copymove looks for regions of a document image that were duplicated inside the
// same image. Oriented FAST keypoints are matched against each other and the spread of
// match displacements is inspected: a cloned region produces many matches that share one
// displacement.
package copymove

import (
	"context"
	"image"
	"math"

	"go.uber.org/zap"

	"github.com/example/authdoc/internal/forensics/imaging"
	"github.com/example/authdoc/internal/verification"
)

const (
	// MaxKeypoints is the detection budget across all pyramid levels.
	MaxKeypoints = 2000
	// MinKeypoints is the smallest keypoint count worth matching.
	MinKeypoints = 10
	// DisplacementFloor drops matches between neighbouring keypoints, in pixels.
	DisplacementFloor = 20.0
	HistogramBins     = 20
	// Sensitivity scales the duplication ratio before it is subtracted from 1.
	Sensitivity = 1.5
)

var (
	// InsufficientEvidence is reported when there are too few keypoints or no usable matches.
	InsufficientEvidence = verification.Open(1)
	// DecodeFailure is reported when the image cannot be decoded.
	DecodeFailure = verification.Closed(0)
)

// Report describes one copy-move analysis.
type Report struct {
	Keypoints        int
	Matches          int
	Retained         int
	DominantCount    int
	DuplicationRatio float64
	Score            float64
}

// Detector runs copy-move analysis.
type Detector struct {
	logger       *zap.Logger
	maxKeypoints int
}

// New returns a Detector that logs through logger.
func New(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{logger: logger.Named("copymove"), maxKeypoints: MaxKeypoints}
}

// Score returns the authenticity score of data. Only an abandoned ctx is reported as an
// error; an undecodable image fails closed.
func (d *Detector) Score(ctx context.Context, data []byte) (float64, error) {
	report, err := d.Analyze(ctx, data)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}
	if err != nil {
		d.logger.Debug("copy-move analysis failed closed", zap.Error(err))
		return DecodeFailure.Default, nil
	}
	return report.Score, nil
}

// Analyze decodes data and runs the analysis on its luma channel. It stops between stages
// once ctx is done.
func (d *Detector) Analyze(ctx context.Context, data []byte) (Report, error) {
	img, _, err := imaging.Decode(data)
	if err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	report, err := d.analyzeGray(ctx, imaging.Gray(img))
	if err != nil {
		return Report{}, err
	}
	d.logger.Debug("copy-move analysis complete",
		zap.Int("keypoints", report.Keypoints),
		zap.Int("matches", report.Matches),
		zap.Int("retained", report.Retained),
		zap.Float64("ratio", report.DuplicationRatio),
	)
	return report, nil
}

func (d *Detector) analyzeGray(ctx context.Context, gray *image.Gray) (Report, error) {
	features := extractFeatures(gray, d.maxKeypoints)
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	report := Report{Keypoints: len(features), Score: InsufficientEvidence.Default}
	if len(features) < MinKeypoints {
		return report, nil
	}

	matches := crossCheckSelf(features)
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	report.Matches = len(matches)

	displacements := make([]float64, 0, len(matches))
	for _, m := range matches {
		if dist := displacement(features[m.query].kp, features[m.train].kp); dist > DisplacementFloor {
			displacements = append(displacements, dist)
		}
	}
	report.Retained = len(displacements)
	if report.Retained == 0 {
		return report, nil
	}

	report.DominantCount = dominantBinCount(displacements)
	report.DuplicationRatio = float64(report.DominantCount) / float64(report.Retained)
	report.Score = scoreFromRatio(report.DuplicationRatio)
	return report, nil
}

// dominantBinCount histograms values into HistogramBins equal-width bins over [0, max]
// and returns the population of the fullest bin. The last bin includes max.
func dominantBinCount(values []float64) int {
	upper := 0.0
	for _, v := range values {
		upper = math.Max(upper, v)
	}
	var counts [HistogramBins]int
	width := upper / HistogramBins
	for _, v := range values {
		bin := HistogramBins - 1
		if width > 0 {
			bin = min(int(v/width), HistogramBins-1)
		}
		counts[bin]++
	}
	best := 0
	for _, c := range counts {
		best = max(best, c)
	}
	return best
}

func scoreFromRatio(ratio float64) float64 {
	return verification.Round3(verification.Clamp(1 - math.Min(Sensitivity*ratio, 1)))
}
