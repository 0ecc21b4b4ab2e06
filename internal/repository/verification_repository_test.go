package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/authdoc/internal/fusion"
	"github.com/example/authdoc/internal/logging"
	"github.com/example/authdoc/internal/retry"
	"github.com/example/authdoc/internal/verification"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &VerificationRepository{
		logger: zap.NewNop(),
		retry:  retry.Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "req-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &VerificationRepository{
		logger: zap.NewNop(),
		retry:  retry.Policy{Attempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "req-2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" || opErr.RequestID != "req-2" {
		t.Fatalf("unexpected operation error: %+v", opErr)
	}
}

func TestApplyVerdict(t *testing.T) {
	scores := verification.FromValues(map[verification.Metric]float64{
		verification.MetricChecksum: 1,
		verification.MetricText:     0.95,
		verification.MetricCopyMove: 0.88,
		verification.MetricMetadata: 0.9,
	})
	scores[verification.MetricLayout] = verification.Unavailable(verification.MetricLayout)
	scores[verification.MetricELA] = verification.Defaulted(verification.MetricELA, verification.Closed(0), verification.OutcomeTimeout, nil)

	record := &VerificationRecord{RequestID: "req-3", Status: StatusProcessing}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	record.ApplyVerdict(scores, fusion.Result{FinalScore: 0.81, Classification: fusion.Authentic, Policy: fusion.WideBand}, 1500*time.Millisecond, at)

	if record.Status != StatusCompleted || record.CompletedAt == nil || !record.CompletedAt.Equal(at) {
		t.Fatalf("unexpected lifecycle fields: %+v", record)
	}
	if record.LayoutScore != nil {
		t.Fatalf("expected unavailable layout to stay nil")
	}
	if record.ELAScore == nil || *record.ELAScore != 0 {
		t.Fatalf("expected defaulted ela to be stored as 0")
	}
	if record.FailedMetrics != "ela" {
		t.Fatalf("unexpected failed metrics %q", record.FailedMetrics)
	}
	if record.FinalScore == nil || *record.FinalScore != 0.81 || record.Classification != "Authentic" {
		t.Fatalf("unexpected verdict fields: %+v", record)
	}
	if record.LatencyMs != 1500 {
		t.Fatalf("unexpected latency %d", record.LatencyMs)
	}
	if got := record.Scores(); len(got) != 5 || got[verification.MetricText] != 0.95 {
		t.Fatalf("unexpected scores %v", got)
	}
}

func TestMaskIdentity(t *testing.T) {
	if got := MaskIdentity("234123412346"); got != "********2346" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskIdentity("123"); got != "***" {
		t.Fatalf("unexpected mask %q", got)
	}
}
