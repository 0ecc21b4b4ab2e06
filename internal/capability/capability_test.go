package capability

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestDisabledIsUnavailable(t *testing.T) {
	client := Client{}.WithDefaults()
	if _, err := client.Layout.ScoreLayout(context.Background(), nil, nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := client.Text.MatchText(context.Background(), nil, "123"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCheckScore(t *testing.T) {
	for _, v := range []float64{0, 0.42, 1} {
		if got, err := CheckScore(v); err != nil || got != v {
			t.Fatalf("CheckScore(%v) = %v, %v", v, got, err)
		}
	}
	for _, v := range []float64{-0.1, 1.01, math.NaN(), math.Inf(1)} {
		if _, err := CheckScore(v); !errors.Is(err, ErrInvalidResponse) {
			t.Fatalf("CheckScore(%v) expected ErrInvalidResponse, got %v", v, err)
		}
	}
}
