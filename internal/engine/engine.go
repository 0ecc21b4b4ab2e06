// Package engine turns a verification request into a fused verdict.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/authdoc/internal/forensics/imaging"
	"github.com/example/authdoc/internal/fusion"
	"github.com/example/authdoc/internal/logging"
	"github.com/example/authdoc/internal/observability"
	"github.com/example/authdoc/internal/orchestrator"
	"github.com/example/authdoc/internal/verification"
)

// Verdict is the complete outcome of one verification.
type Verdict struct {
	RequestID string                `json:"request_id"`
	Scores    verification.ScoreMap `json:"scores"`
	Result    fusion.Result         `json:"result"`
	Elapsed   time.Duration         `json:"elapsed"`
}

// Engine runs the metric tasks and fuses their scores under one policy.
type Engine struct {
	orchestrator *orchestrator.Orchestrator
	policy       fusion.Policy
	observer     observability.Observer
	logger       *zap.Logger
}

// New validates policy and returns an Engine.
func New(orch *orchestrator.Orchestrator, policy fusion.Policy, observer observability.Observer, logger *zap.Logger) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if observer == nil {
		observer = observability.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{orchestrator: orch, policy: policy, observer: observer, logger: logger.Named("engine")}, nil
}

// Policy returns the fusion policy in use.
func (e *Engine) Policy() fusion.Policy {
	return e.policy
}

// Verify fails only when the document cannot be decoded at all, the caller gives up before
// the tasks settle, or the policy cannot produce a score. Every other failure is absorbed
// into the per-metric defaults.
func (e *Engine) Verify(ctx context.Context, req *verification.Request) (Verdict, error) {
	opLogger := logging.WithOperation(e.logger, "engine.verify", req.ID())
	start := time.Now()

	if _, err := imaging.Probe(req.Document().Bytes()); err != nil {
		wrapped := logging.NewOperationError("engine.intake", req.ID(), errors.Join(verification.ErrUndecodableImage, err))
		opLogger.Warn("rejecting undecodable document", zap.Error(err))
		return Verdict{}, wrapped
	}

	scores := e.orchestrator.Run(ctx, req)
	if err := ctx.Err(); err != nil {
		opLogger.Warn("verification abandoned by caller", zap.Error(err), zap.Int("defaulted", len(scores.Failed())))
		return Verdict{}, logging.NewOperationError("engine.verify", req.ID(), err)
	}

	result, err := fusion.Fuse(scores, e.policy)
	if err != nil {
		return Verdict{}, logging.NewOperationError("engine.fuse", req.ID(), err)
	}

	verdict := Verdict{RequestID: req.ID(), Scores: scores, Result: result, Elapsed: time.Since(start)}
	e.observer.FusionCompleted(observability.FusionEvent{
		RequestID: req.ID(),
		Result:    result,
		Failed:    scores.Failed(),
		Elapsed:   verdict.Elapsed,
	})
	return verdict, nil
}
