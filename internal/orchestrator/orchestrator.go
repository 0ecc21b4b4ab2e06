// Package orchestrator runs the metric tasks of one verification request concurrently and
// collects exactly one score per metric.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/authdoc/internal/logging"
	"github.com/example/authdoc/internal/observability"
	"github.com/example/authdoc/internal/verification"
)

// DefaultTimeout bounds a task when no per-metric timeout is configured.
const DefaultTimeout = 2 * time.Minute

var (
	ErrDuplicateTask = errors.New("orchestrator: duplicate task for metric")
	ErrInvalidTask   = errors.New("orchestrator: invalid task")
	ErrTaskPanic     = errors.New("orchestrator: task panicked")
)

// RunFunc computes one metric. It should return promptly once ctx is done, but the
// orchestrator does not rely on it.
type RunFunc func(ctx context.Context, req *verification.Request) (float64, error)

// Task is the unit of work for one metric.
type Task struct {
	Metric verification.Metric
	// Disposition is applied when Run errors, panics or times out.
	Disposition verification.Disposition
	Run         RunFunc
}

// Config tunes the pool. Zero values select the defaults.
type Config struct {
	Workers        int
	DefaultTimeout time.Duration
	Timeouts       map[verification.Metric]time.Duration
}

// Orchestrator is safe for concurrent use; each Run call is isolated.
type Orchestrator struct {
	tasks    []Task
	cfg      Config
	observer observability.Observer
	logger   *zap.Logger
}

// New validates tasks and returns an Orchestrator.
func New(tasks []Task, cfg Config, observer observability.Observer, logger *zap.Logger) (*Orchestrator, error) {
	seen := make(map[verification.Metric]bool, len(tasks))
	for _, t := range tasks {
		if !t.Metric.Valid() || t.Run == nil {
			return nil, fmt.Errorf("%w: metric %q", ErrInvalidTask, t.Metric)
		}
		if seen[t.Metric] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, t.Metric)
		}
		seen[t.Metric] = true
	}
	if cfg.Workers <= 0 {
		cfg.Workers = max(1, len(tasks))
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if observer == nil {
		observer = observability.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		tasks:    append([]Task(nil), tasks...),
		cfg:      cfg,
		observer: observer,
		logger:   logger.Named("orchestrator"),
	}, nil
}

// Run executes every task and returns once each has succeeded, failed or timed out. The
// returned map has an entry for every enumerated metric; metrics without a task are
// marked unavailable. Run never returns an error: failures become defaults.
func (o *Orchestrator) Run(ctx context.Context, req *verification.Request) verification.ScoreMap {
	board := newScoreBoard()
	opLogger := logging.WithOperation(o.logger, "orchestrator.run", req.ID())

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Workers)
	for _, task := range o.tasks {
		g.Go(func() error {
			score := o.runTask(ctx, req, task)
			if !board.set(score) {
				opLogger.Warn("discarding second result for metric", zap.String("metric", string(task.Metric)))
				return nil
			}
			o.observer.MetricCompleted(observability.MetricEvent{RequestID: req.ID(), Score: score})
			return nil
		})
	}
	_ = g.Wait()

	for _, m := range verification.Metrics() {
		board.set(verification.Unavailable(m))
	}
	return board.snapshot()
}

type taskResult struct {
	value float64
	err   error
}

func (o *Orchestrator) runTask(ctx context.Context, req *verification.Request, task Task) verification.MetricScore {
	taskCtx, cancel := context.WithTimeout(ctx, o.timeoutFor(task.Metric))
	defer cancel()

	start := time.Now()
	// Buffered so a task finishing after its deadline never blocks.
	done := make(chan taskResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- taskResult{err: fmt.Errorf("%w: %v", ErrTaskPanic, r)}
			}
		}()
		v, err := task.Run(taskCtx, req)
		done <- taskResult{value: v, err: err}
	}()

	var score verification.MetricScore
	select {
	case r := <-done:
		score = o.toScore(task, r)
	case <-taskCtx.Done():
		outcome := verification.OutcomeTimeout
		if !errors.Is(taskCtx.Err(), context.DeadlineExceeded) || ctx.Err() != nil {
			outcome = verification.OutcomeError
		}
		score = verification.Defaulted(task.Metric, task.Disposition, outcome, taskCtx.Err())
	}
	score.Latency = time.Since(start)
	return score
}

func (o *Orchestrator) toScore(task Task, r taskResult) verification.MetricScore {
	if r.err != nil {
		outcome := verification.OutcomeError
		if errors.Is(r.err, context.DeadlineExceeded) {
			outcome = verification.OutcomeTimeout
		}
		return verification.Defaulted(task.Metric, task.Disposition, outcome, r.err)
	}
	score, err := verification.Succeeded(task.Metric, r.value)
	if err != nil {
		return verification.Defaulted(task.Metric, task.Disposition, verification.OutcomeError, err)
	}
	return score
}

func (o *Orchestrator) timeoutFor(m verification.Metric) time.Duration {
	if d, ok := o.cfg.Timeouts[m]; ok && d > 0 {
		return d
	}
	return o.cfg.DefaultTimeout
}
