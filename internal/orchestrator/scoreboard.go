package orchestrator

import (
	"sync"

	"github.com/example/authdoc/internal/verification"
)

// scoreBoard accepts the first score written for each metric and ignores the rest.
type scoreBoard struct {
	mu     sync.Mutex
	scores verification.ScoreMap
}

func newScoreBoard() *scoreBoard {
	return &scoreBoard{scores: make(verification.ScoreMap, len(verification.Metrics()))}
}

func (b *scoreBoard) set(score verification.MetricScore) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.scores[score.Metric]; ok {
		return false
	}
	b.scores[score.Metric] = score
	return true
}

func (b *scoreBoard) snapshot() verification.ScoreMap {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(verification.ScoreMap, len(b.scores))
	for m, s := range b.scores {
		out[m] = s
	}
	return out
}
