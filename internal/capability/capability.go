// Package capability defines the contract for scoring checks that run outside this
// process: layout similarity against a reference template and identity text matching.
package capability

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnavailable reports that the capability could not be reached or declined to answer.
	ErrUnavailable = errors.New("capability: unavailable")
	// ErrInvalidResponse reports a response that could not be interpreted as a score.
	ErrInvalidResponse = errors.New("capability: invalid response")
)

// LayoutScorer compares a document against a reference template of the same document type.
type LayoutScorer interface {
	ScoreLayout(ctx context.Context, document, template []byte) (float64, error)
}

// TextMatcher checks that the text printed on a document matches the claimed identity.
type TextMatcher interface {
	MatchText(ctx context.Context, document []byte, identity string) (float64, error)
}

// Client bundles the capabilities. It is built once at startup and shared by all requests.
type Client struct {
	Layout LayoutScorer
	Text   TextMatcher
}

// Disabled answers every call with ErrUnavailable.
type Disabled struct{}

func (Disabled) ScoreLayout(context.Context, []byte, []byte) (float64, error) {
	return 0, ErrUnavailable
}

func (Disabled) MatchText(context.Context, []byte, string) (float64, error) {
	return 0, ErrUnavailable
}

// WithDefaults replaces nil members with Disabled.
func (c Client) WithDefaults() Client {
	if c.Layout == nil {
		c.Layout = Disabled{}
	}
	if c.Text == nil {
		c.Text = Disabled{}
	}
	return c
}

// CheckScore validates a score returned by a remote capability.
func CheckScore(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
		return 0, fmt.Errorf("%w: score %v outside [0,1]", ErrInvalidResponse, v)
	}
	return v, nil
}
