// Package observability receives per-metric and per-verdict events from the engine.
package observability

import (
	"time"

	"go.uber.org/zap"

	"github.com/example/authdoc/internal/fusion"
	"github.com/example/authdoc/internal/verification"
)

// MetricEvent is emitted once for every metric task that reaches a terminal state.
type MetricEvent struct {
	RequestID string
	Score     verification.MetricScore
}

// FusionEvent is emitted once per fused verdict.
type FusionEvent struct {
	RequestID string
	Result    fusion.Result
	Failed    []verification.Metric
	Elapsed   time.Duration
}

// Observer must be safe for concurrent use.
type Observer interface {
	MetricCompleted(MetricEvent)
	FusionCompleted(FusionEvent)
}

// Nop discards all events.
type Nop struct{}

func (Nop) MetricCompleted(MetricEvent) {}
func (Nop) FusionCompleted(FusionEvent) {}

// ZapObserver writes one structured log line per event. Defaulted metrics log at warn.
type ZapObserver struct {
	logger *zap.Logger
}

// NewZapObserver returns an observer logging through logger.
func NewZapObserver(logger *zap.Logger) *ZapObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapObserver{logger: logger.Named("observer")}
}

func (o *ZapObserver) MetricCompleted(e MetricEvent) {
	fields := []zap.Field{
		zap.String("request_id", e.RequestID),
		zap.String("metric", string(e.Score.Metric)),
		zap.String("outcome", string(e.Score.Outcome)),
		zap.Float64("value", e.Score.Value),
		zap.Bool("defaulted", e.Score.Defaulted),
		zap.Duration("latency", e.Score.Latency),
	}
	if e.Score.Err != "" {
		fields = append(fields, zap.String("error", e.Score.Err))
	}
	if e.Score.Defaulted {
		o.logger.Warn("metric defaulted", fields...)
		return
	}
	o.logger.Info("metric completed", fields...)
}

func (o *ZapObserver) FusionCompleted(e FusionEvent) {
	failed := make([]string, len(e.Failed))
	for i, m := range e.Failed {
		failed[i] = string(m)
	}
	o.logger.Info("verdict fused",
		zap.String("request_id", e.RequestID),
		zap.String("policy", e.Result.Policy),
		zap.Float64("final_score", e.Result.FinalScore),
		zap.String("classification", string(e.Result.Classification)),
		zap.Strings("failed_metrics", failed),
		zap.Duration("elapsed", e.Elapsed),
	)
}
