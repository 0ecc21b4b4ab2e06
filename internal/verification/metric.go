package verification

import (
	"errors"
	"math"
	"time"

	"github.com/samber/lo"
)

// Metric names one of the forensic checks fused into a verdict.
type Metric string

const (
	MetricChecksum Metric = "checksum"
	MetricLayout   Metric = "layout"
	MetricText     Metric = "text"
	MetricCopyMove Metric = "copy_move"
	MetricMetadata Metric = "metadata"
	MetricELA      Metric = "ela"
)

var allMetrics = []Metric{
	MetricChecksum,
	MetricLayout,
	MetricText,
	MetricCopyMove,
	MetricMetadata,
	MetricELA,
}

// ErrInvalidScore is returned when a check produces a value that is not a number.
var ErrInvalidScore = errors.New("score is not a finite number")

// Metrics returns every enumerated metric in canonical order.
func Metrics() []Metric {
	return append([]Metric(nil), allMetrics...)
}

// Valid reports whether m is one of the enumerated metrics.
func (m Metric) Valid() bool {
	return lo.Contains(allMetrics, m)
}

// Outcome is the terminal state of a single metric task.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
	OutcomeSkipped Outcome = "skipped"
)

// MetricScore is the result recorded for one metric.
//
// Available is false only for metrics that were never run; such entries carry
// no value and are ignored by fusion. A defaulted score is still available:
// the default is a real (pessimistic) signal, not missing data.
type MetricScore struct {
	Metric    Metric        `json:"metric"`
	Value     float64       `json:"value"`
	Available bool          `json:"available"`
	Outcome   Outcome       `json:"outcome"`
	Defaulted bool          `json:"defaulted"`
	Latency   time.Duration `json:"latency"`
	Err       string        `json:"error,omitempty"`
}

// Succeeded builds a score from a genuine check result. Values are clamped to [0,1].
func Succeeded(metric Metric, value float64) (MetricScore, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return MetricScore{}, ErrInvalidScore
	}
	return MetricScore{
		Metric:    metric,
		Value:     Clamp(value),
		Available: true,
		Outcome:   OutcomeSuccess,
	}, nil
}

// Defaulted builds a score that stands in for a failed or timed out check.
func Defaulted(metric Metric, disposition Disposition, outcome Outcome, err error) MetricScore {
	score := MetricScore{
		Metric:    metric,
		Value:     disposition.Default,
		Available: true,
		Outcome:   outcome,
		Defaulted: true,
	}
	if err != nil {
		score.Err = err.Error()
	}
	return score
}

// Unavailable marks a metric that produced no signal at all.
func Unavailable(metric Metric) MetricScore {
	return MetricScore{Metric: metric, Outcome: OutcomeSkipped}
}

// Clamp bounds v to [0,1].
func Clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Round3 rounds v to three decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
