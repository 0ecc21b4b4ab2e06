package engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/authdoc/internal/capability"
	"github.com/example/authdoc/internal/checksum"
	"github.com/example/authdoc/internal/fusion"
	"github.com/example/authdoc/internal/orchestrator"
	"github.com/example/authdoc/internal/verification"
)

type stubCapabilities struct {
	layout      float64
	text        float64
	layoutCalls atomic.Int32
}

func (s *stubCapabilities) ScoreLayout(context.Context, []byte, []byte) (float64, error) {
	s.layoutCalls.Add(1)
	return s.layout, nil
}

func (s *stubCapabilities) MatchText(context.Context, []byte, string) (float64, error) {
	return s.text, nil
}

func documentPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newRequest(t *testing.T, identity string, document []byte, template []byte) *verification.Request {
	t.Helper()
	var tpl *verification.Image
	if template != nil {
		img := verification.NewImage(template, "image/png")
		tpl = &img
	}
	req, err := verification.NewRequest("req-e2e", identity, verification.NewImage(document, "image/png"), tpl)
	require.NoError(t, err)
	return req
}

func newEngine(t *testing.T, tasks []orchestrator.Task, policyName string) *Engine {
	t.Helper()
	orch, err := orchestrator.New(tasks, orchestrator.Config{}, nil, zap.NewNop())
	require.NoError(t, err)
	policy, err := fusion.Preset(policyName)
	require.NoError(t, err)
	e, err := New(orch, policy, nil, zap.NewNop())
	require.NoError(t, err)
	return e
}

func TestReferenceScenario(t *testing.T) {
	fixed := map[verification.Metric]float64{
		verification.MetricLayout:   0.92,
		verification.MetricText:     0.95,
		verification.MetricCopyMove: 0.88,
		verification.MetricMetadata: 0.90,
		verification.MetricELA:      0.86,
	}
	var tasks []orchestrator.Task
	for _, task := range StandardTasks(capability.Client{}, nil) {
		if v, ok := fixed[task.Metric]; ok {
			task.Run = func(context.Context, *verification.Request) (float64, error) { return v, nil }
		}
		tasks = append(tasks, task)
	}
	e := newEngine(t, tasks, fusion.NarrowBand)

	verdict, err := e.Verify(context.Background(), newRequest(t, "799273987135", documentPNG(t), nil))
	require.NoError(t, err)
	require.Equal(t, 1.0, verdict.Scores[verification.MetricChecksum].Value)
	require.Equal(t, 0.92, verdict.Result.FinalScore)
	require.Equal(t, fusion.Authentic, verdict.Result.Classification)
	require.Equal(t, "req-e2e", verdict.RequestID)
}

func TestStandardTasksEndToEnd(t *testing.T) {
	caps := &stubCapabilities{layout: 0.92, text: 0.95}
	e := newEngine(t, StandardTasks(capability.Client{Layout: caps, Text: caps}, nil), fusion.WideBand)
	doc := documentPNG(t)

	verdict, err := e.Verify(context.Background(), newRequest(t, "234123412346", doc, doc))
	require.NoError(t, err)
	require.True(t, verdict.Scores.Complete())
	require.Equal(t, 1.0, verdict.Scores[verification.MetricChecksum].Value)
	require.Equal(t, 0.92, verdict.Scores[verification.MetricLayout].Value)
	require.Equal(t, 0.95, verdict.Scores[verification.MetricText].Value)
	require.Equal(t, int32(1), caps.layoutCalls.Load())

	// PNG without EXIF: half of the MIME sub-score.
	require.Equal(t, 0.5, verdict.Scores[verification.MetricMetadata].Value)

	want, err := fusion.Fuse(verdict.Scores, e.Policy())
	require.NoError(t, err)
	require.Equal(t, want, verdict.Result)
}

func TestMissingTemplateScoresNeutralLayout(t *testing.T) {
	caps := &stubCapabilities{layout: 0.1, text: 0.9}
	e := newEngine(t, StandardTasks(capability.Client{Layout: caps, Text: caps}, nil), fusion.WideBand)

	verdict, err := e.Verify(context.Background(), newRequest(t, "234123412346", documentPNG(t), nil))
	require.NoError(t, err)
	require.Equal(t, NeutralLayoutScore, verdict.Scores[verification.MetricLayout].Value)
	require.Zero(t, caps.layoutCalls.Load())
}

func TestUnavailableCapabilitiesFailClosed(t *testing.T) {
	e := newEngine(t, StandardTasks(capability.Client{}, nil), fusion.WideBand)
	doc := documentPNG(t)

	verdict, err := e.Verify(context.Background(), newRequest(t, "123456789012", doc, doc))
	require.NoError(t, err)
	for _, m := range []verification.Metric{verification.MetricLayout, verification.MetricText} {
		score := verdict.Scores[m]
		require.True(t, score.Defaulted, m)
		require.Equal(t, 0.0, score.Value, m)
		require.Equal(t, verification.OutcomeError, score.Outcome, m)
	}
	require.Equal(t, 0.0, verdict.Scores[verification.MetricChecksum].Value)
	require.False(t, checksum.Validate("123456789012"))
}

func TestUndecodableDocumentIsRejected(t *testing.T) {
	e := newEngine(t, StandardTasks(capability.Client{}, nil), fusion.WideBand)

	_, err := e.Verify(context.Background(), newRequest(t, "234123412346", []byte("not an image"), nil))
	require.True(t, errors.Is(err, verification.ErrUndecodableImage), "got %v", err)
}

func TestCallerDeadlineYieldsNoVerdict(t *testing.T) {
	var tasks []orchestrator.Task
	for _, task := range StandardTasks(capability.Client{}, nil) {
		task.Run = func(ctx context.Context, _ *verification.Request) (float64, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		tasks = append(tasks, task)
	}
	e := newEngine(t, tasks, fusion.WideBand)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	verdict, err := e.Verify(ctx, newRequest(t, "234123412346", documentPNG(t), nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, verdict.RequestID)
	require.Nil(t, verdict.Scores)
	require.Empty(t, verdict.Result.Classification)
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	orch, err := orchestrator.New(StandardTasks(capability.Client{}, nil), orchestrator.Config{}, nil, nil)
	require.NoError(t, err)
	_, err = New(orch, fusion.Policy{Name: "empty"}, nil, nil)
	require.ErrorIs(t, err, fusion.ErrZeroWeight)
}
