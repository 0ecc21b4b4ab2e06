package verification

// FailureMode says whether a default favours authenticity (open) or forgery (closed).
type FailureMode string

const (
	FailOpen   FailureMode = "open"
	FailClosed FailureMode = "closed"
)

// Disposition is the value a check reports when it cannot produce a genuine result.
type Disposition struct {
	Default float64
	Mode    FailureMode
}

// Closed returns a fail-closed disposition with the given default.
func Closed(value float64) Disposition {
	return Disposition{Default: value, Mode: FailClosed}
}

// Open returns a fail-open disposition with the given default.
func Open(value float64) Disposition {
	return Disposition{Default: value, Mode: FailOpen}
}

var orchestrationDispositions = map[Metric]Disposition{
	MetricChecksum: Closed(0),
	MetricLayout:   Closed(0),
	MetricText:     Closed(0),
	MetricCopyMove: Closed(0),
	MetricMetadata: Closed(0),
	MetricELA:      Closed(0),
}

// OrchestrationDisposition is applied when a metric task errors, panics or times out.
// Every current metric fails closed to 0.0.
func OrchestrationDisposition(metric Metric) Disposition {
	if d, ok := orchestrationDispositions[metric]; ok {
		return d
	}
	return Closed(0)
}
