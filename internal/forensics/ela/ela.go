// Package ela scores images with error-level analysis: the image is recompressed as JPEG
// and the distribution of the recompression error is compared against fixed ceilings.
package ela

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"math"

	"go.uber.org/zap"

	"github.com/example/authdoc/internal/forensics/imaging"
	"github.com/example/authdoc/internal/verification"
)

const (
	// Quality is the JPEG quality used for recompression.
	Quality = 90
	// MeanCeiling and StdCeiling normalise the error statistics into [0,1].
	MeanCeiling = 50.0
	StdCeiling  = 30.0
)

// DecodeFailure is reported when the image cannot be decoded or recompressed.
var DecodeFailure = verification.Closed(0)

// Report describes one error-level analysis.
type Report struct {
	MaxDifference uint8
	Mean          float64
	Std           float64
	TamperIndex   float64
	Score         float64
}

// Analyzer runs error-level analysis.
type Analyzer struct {
	logger *zap.Logger
}

// New returns an Analyzer that logs through logger.
func New(logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{logger: logger.Named("ela")}
}

// Score returns the authenticity score of data, or DecodeFailure.Default if it cannot be
// decoded. The error is non-nil only when ctx is done.
func (a *Analyzer) Score(ctx context.Context, data []byte) (float64, error) {
	report, err := a.Analyze(ctx, data)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}
	if err != nil {
		a.logger.Debug("error level analysis failed closed", zap.Error(err))
		return DecodeFailure.Default, nil
	}
	return report.Score, nil
}

// Analyze performs the analysis and returns the intermediate statistics.
func (a *Analyzer) Analyze(ctx context.Context, data []byte) (Report, error) {
	img, _, err := imaging.Decode(data)
	if err != nil {
		return Report{}, err
	}
	original := imaging.ToRGB(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, original.Image(), &jpeg.Options{Quality: Quality}); err != nil {
		return Report{}, fmt.Errorf("recompress: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	decoded, err := jpeg.Decode(&buf)
	if err != nil {
		return Report{}, fmt.Errorf("%w: recompressed image: %v", imaging.ErrDecode, err)
	}
	recompressed := imaging.ToRGB(decoded)
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	return analyzeDifference(original, recompressed), nil
}

func analyzeDifference(original, recompressed *imaging.RGB) Report {
	diff := make([]uint8, len(original.Pix))
	var maxDiff uint8
	for i := range original.Pix {
		d := absDiff(original.Pix[i], recompressed.Pix[i])
		diff[i] = d
		if d > maxDiff {
			maxDiff = d
		}
	}

	scale := 1.0
	if maxDiff != 0 {
		scale = 255.0 / float64(maxDiff)
	}

	n := original.Width * original.Height
	if n == 0 {
		return Report{Score: 1}
	}
	var sum, sumSq float64
	for i := 0; i < len(diff); i += 3 {
		l := float64(imaging.Luma(enhance(diff[i], scale), enhance(diff[i+1], scale), enhance(diff[i+2], scale)))
		sum += l
		sumSq += l * l
	}
	mean := sum / float64(n)
	variance := math.Max(0, sumSq/float64(n)-mean*mean)
	std := math.Sqrt(variance)

	tamper := (math.Min(mean/MeanCeiling, 1) + math.Min(std/StdCeiling, 1)) / 2
	return Report{
		MaxDifference: maxDiff,
		Mean:          mean,
		Std:           std,
		TamperIndex:   tamper,
		Score:         verification.Round3(verification.Clamp(1 - tamper)),
	}
}

func enhance(v uint8, scale float64) uint8 {
	return uint8(math.Min(255, math.Round(float64(v)*scale)))
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
