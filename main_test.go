package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/authdoc/internal/config"
	"github.com/example/authdoc/internal/engine"
	"github.com/example/authdoc/internal/fusion"
	"github.com/example/authdoc/internal/verification"
)

func writeDocument(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	path := filepath.Join(t.TempDir(), "document.jpg")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write document: %v", err)
	}
	return path
}

func TestBuildEngineWithoutCapabilities(t *testing.T) {
	cfg, err := config.Parse(map[string]string{
		"FUSION_POLICY": fusion.WideBand,
		"TEXT_ENGINE":   config.TextEngineDisabled,
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	eng, cleanup, err := buildEngine(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("expected engine, got error: %v", err)
	}
	defer cleanup()

	if eng.Policy().Name != fusion.WideBand {
		t.Fatalf("unexpected policy %q", eng.Policy().Name)
	}
}

func TestBuildEngineRejectsUnknownPolicy(t *testing.T) {
	cfg, err := config.Parse(map[string]string{
		"FUSION_POLICY": "lenient",
		"TEXT_ENGINE":   config.TextEngineDisabled,
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	_, cleanup, err := buildEngine(context.Background(), cfg, zap.NewNop())
	cleanup()
	if !errors.Is(err, fusion.ErrUnknownPolicy) {
		t.Fatalf("expected ErrUnknownPolicy, got %v", err)
	}
}

func TestVerifyCommandPrintsJSON(t *testing.T) {
	t.Setenv("FUSION_POLICY", "")
	t.Setenv("TEXT_ENGINE", config.TextEngineDisabled)
	t.Setenv("LOG_LEVEL", "error")
	document := writeDocument(t)

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"verify",
		"--identity", "799273987135",
		"--document", document,
		"--policy", fusion.NarrowBand,
		"--json",
	})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	var verdict engine.Verdict
	if err := json.Unmarshal(out.Bytes(), &verdict); err != nil {
		t.Fatalf("invalid json output: %v\n%s", err, out.String())
	}
	if verdict.Result.Policy != fusion.NarrowBand {
		t.Fatalf("unexpected policy %q", verdict.Result.Policy)
	}
	if got := verdict.Scores[verification.MetricChecksum]; got.Value != 1 || got.Defaulted {
		t.Fatalf("unexpected checksum score %+v", got)
	}
	if got := verdict.Scores[verification.MetricText]; !got.Defaulted || got.Value != 0 {
		t.Fatalf("expected disabled text matcher to fail closed, got %+v", got)
	}
	if got := verdict.Scores[verification.MetricLayout]; got.Defaulted || got.Value != engine.NeutralLayoutScore {
		t.Fatalf("expected neutral layout score without a template, got %+v", got)
	}
	if !verdict.Scores.Complete() {
		t.Fatal("expected a complete score map")
	}
}

func TestVerifyCommandRequiresPolicy(t *testing.T) {
	t.Setenv("FUSION_POLICY", "")
	t.Setenv("TEXT_ENGINE", config.TextEngineDisabled)
	t.Setenv("LOG_LEVEL", "error")

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"verify", "--identity", "1", "--document", writeDocument(t)})

	err := cmd.ExecuteContext(context.Background())
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRenderVerdict(t *testing.T) {
	scores := verification.FromValues(map[verification.Metric]float64{
		verification.MetricChecksum: 1,
		verification.MetricText:     0.95,
		verification.MetricCopyMove: 0.88,
		verification.MetricMetadata: 0.9,
		verification.MetricELA:      0.86,
	})
	scores[verification.MetricLayout] = verification.Unavailable(verification.MetricLayout)

	out := renderVerdict(engine.Verdict{
		RequestID: "req-1",
		Scores:    scores,
		Result:    fusion.Result{FinalScore: 0.917, Classification: fusion.Authentic, Policy: fusion.WideBand},
		Elapsed:   120 * time.Millisecond,
	})

	for _, want := range []string{"checksum", "1.000", "0.917", "Authentic", "skipped"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q:\n%s", want, out)
		}
	}
}
