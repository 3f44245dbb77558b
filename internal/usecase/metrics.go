package usecase

import "context"

// MetricsSummary represents aggregated analysis insights.
type MetricsSummary struct {
	TotalRequests              int64            `json:"total_requests"`
	SuccessfulRequests         int64            `json:"successful_requests"`
	SuccessRate                float64          `json:"success_rate"`
	MalignantRate              float64          `json:"malignant_rate"`
	AverageRiskScore           float64          `json:"average_risk_score"`
	AverageProcessingLatencyMs float64          `json:"average_processing_latency_ms"`
	RiskCategories             map[string]int64 `json:"risk_categories"`
}

// GetMetricsSummary aggregates analysis metrics from the audit log.
func (uc *AnalysisUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if uc.repo == nil {
		return nil, ErrAuditDisabled
	}
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:              aggregation.TotalCount,
		SuccessfulRequests:         aggregation.SuccessCount,
		AverageRiskScore:           aggregation.AverageRiskScore,
		AverageProcessingLatencyMs: aggregation.AverageLatencyMs,
		RiskCategories:             aggregation.ByRiskCategory,
	}
	if summary.RiskCategories == nil {
		summary.RiskCategories = map[string]int64{}
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}
	if aggregation.SuccessCount > 0 {
		summary.MalignantRate = float64(aggregation.MalignantCount) / float64(aggregation.SuccessCount)
	}

	return summary, nil
}
