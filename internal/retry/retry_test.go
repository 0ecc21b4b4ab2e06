package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/authdoc/internal/logging"
)

type temporaryError struct{}

func (temporaryError) Error() string   { return "temporary" }
func (temporaryError) Temporary() bool { return true }

var fast = Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, nil, "cache.set", "req-1", func() error {
		calls++
		if calls < 3 {
			return temporaryError{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), fast, nil, "cache.set", "req-2", func() error {
		calls++
		return permanent
	})
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "cache.set" || opErr.RequestID != "req-2" {
		t.Fatalf("expected operation error, got %v", err)
	}
	if !errors.Is(err, permanent) {
		t.Fatalf("expected wrapped permanent error")
	}
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, nil, "db.create", "", func() error {
		calls++
		return context.DeadlineExceeded
	})
	if calls != fast.Attempts {
		t.Fatalf("expected %d calls, got %d", fast.Attempts, calls)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	calls := 0
	err := Do(ctx, p, nil, "cache.get", "", func() error {
		calls++
		cancel()
		return temporaryError{}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestCustomTransientPredicate(t *testing.T) {
	retryable := errors.New("retry me")
	p := fast
	p.Transient = func(err error) bool { return errors.Is(err, retryable) }
	calls := 0
	_ = Do(context.Background(), p, nil, "grpc.invoke", "", func() error {
		calls++
		return retryable
	})
	if calls != p.Attempts {
		t.Fatalf("expected %d calls, got %d", p.Attempts, calls)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) || IsTransient(errors.New("x")) {
		t.Fatalf("expected plain errors to be permanent")
	}
	if !IsTransient(temporaryError{}) || !IsTransient(context.DeadlineExceeded) {
		t.Fatalf("expected transient classification")
	}
}
