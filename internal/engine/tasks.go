package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/authdoc/internal/capability"
	"github.com/example/authdoc/internal/checksum"
	"github.com/example/authdoc/internal/forensics/copymove"
	"github.com/example/authdoc/internal/forensics/ela"
	"github.com/example/authdoc/internal/forensics/metadata"
	"github.com/example/authdoc/internal/orchestrator"
	"github.com/example/authdoc/internal/verification"
)

// NeutralLayoutScore is reported for the layout metric when no template was supplied.
const NeutralLayoutScore = 0.5

// StandardTasks returns one task per metric: the four local checks plus the two
// capability-backed checks served by client.
func StandardTasks(client capability.Client, logger *zap.Logger) []orchestrator.Task {
	if logger == nil {
		logger = zap.NewNop()
	}
	client = client.WithDefaults()
	copyMove := copymove.New(logger)
	errorLevel := ela.New(logger)
	meta := metadata.New(logger)

	task := func(m verification.Metric, run orchestrator.RunFunc) orchestrator.Task {
		return orchestrator.Task{Metric: m, Disposition: verification.OrchestrationDisposition(m), Run: run}
	}
	return []orchestrator.Task{
		task(verification.MetricChecksum, func(_ context.Context, req *verification.Request) (float64, error) {
			return checksum.Score(req.Identity()), nil
		}),
		task(verification.MetricLayout, func(ctx context.Context, req *verification.Request) (float64, error) {
			template, ok := req.Template()
			if !ok {
				return NeutralLayoutScore, nil
			}
			return client.Layout.ScoreLayout(ctx, req.Document().Bytes(), template.Bytes())
		}),
		task(verification.MetricText, func(ctx context.Context, req *verification.Request) (float64, error) {
			return client.Text.MatchText(ctx, req.Document().Bytes(), req.Identity())
		}),
		task(verification.MetricCopyMove, func(ctx context.Context, req *verification.Request) (float64, error) {
			return copyMove.Score(ctx, req.Document().Bytes())
		}),
		task(verification.MetricMetadata, func(ctx context.Context, req *verification.Request) (float64, error) {
			score := meta.Score(req.Document().Bytes())
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			return score, nil
		}),
		task(verification.MetricELA, func(ctx context.Context, req *verification.Request) (float64, error) {
			return errorLevel.Score(ctx, req.Document().Bytes())
		}),
	}
}
