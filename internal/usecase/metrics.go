package usecase

import "context"

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalRequests              int64            `json:"total_requests"`
	CompletedRequests          int64            `json:"completed_requests"`
	FailedRequests             int64            `json:"failed_requests"`
	CompletionRate             float64          `json:"completion_rate"`
	AverageScore               float64          `json:"average_score"`
	AverageProcessingLatencyMs float64          `json:"average_processing_latency_ms"`
	Classifications            map[string]int64 `json:"classifications"`
}

// GetMetricsSummary aggregates verification metrics from persisted records.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:              aggregation.TotalCount,
		CompletedRequests:          aggregation.CompletedCount,
		FailedRequests:             aggregation.ErrorCount,
		AverageScore:               aggregation.AverageScore,
		AverageProcessingLatencyMs: aggregation.AverageProcessingLatencyMs,
		Classifications:            aggregation.ByClassification,
	}
	if summary.Classifications == nil {
		summary.Classifications = map[string]int64{}
	}

	if aggregation.TotalCount > 0 {
		summary.CompletionRate = float64(aggregation.CompletedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
