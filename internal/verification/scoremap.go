package verification

// ScoreMap holds exactly one MetricScore per enumerated metric once orchestration finishes.
// It is passed by value into fusion and never mutated after it is returned.
type ScoreMap map[Metric]MetricScore

// Complete reports whether every enumerated metric has an entry.
func (s ScoreMap) Complete() bool {
	for _, m := range allMetrics {
		if _, ok := s[m]; !ok {
			return false
		}
	}
	return true
}

// Values returns the numeric value of every available entry.
func (s ScoreMap) Values() map[Metric]float64 {
	out := make(map[Metric]float64, len(s))
	for m, score := range s {
		if score.Available {
			out[m] = score.Value
		}
	}
	return out
}

// Failed returns the metrics whose value is a failure default, in canonical order.
func (s ScoreMap) Failed() []Metric {
	var out []Metric
	for _, m := range allMetrics {
		if score, ok := s[m]; ok && score.Defaulted {
			out = append(out, m)
		}
	}
	return out
}

// FromValues builds a ScoreMap of successful scores. It is mainly used by callers that
// already hold raw values, such as tests and replays of persisted records.
func FromValues(values map[Metric]float64) ScoreMap {
	out := make(ScoreMap, len(values))
	for m, v := range values {
		out[m] = MetricScore{Metric: m, Value: Clamp(v), Available: true, Outcome: OutcomeSuccess}
	}
	return out
}
