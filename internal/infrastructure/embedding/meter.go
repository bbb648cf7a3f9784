package embedding

import (
	"context"
	"log/slog"

	"github.com/kirillkom/knowledge-pipeline/internal/core/domain"
	"github.com/kirillkom/knowledge-pipeline/internal/observability/metrics"
)

// Meter emits one usage/cost record per embedding batch to the log
// stream and the Prometheus registry.
type Meter struct {
	log     *slog.Logger
	metrics *metrics.PipelineMetrics
}

func NewMeter(log *slog.Logger, m *metrics.PipelineMetrics) *Meter {
	return &Meter{log: log, metrics: m}
}

func (m *Meter) Record(_ context.Context, usage domain.UsageRecord) {
	m.log.Info("embedding_usage",
		"tenant_id", usage.TenantID,
		"provider", usage.Provider,
		"model", usage.Model,
		"total_tokens", usage.TotalTokens,
		"estimated_cost", usage.EstimatedCost,
	)
	if m.metrics != nil {
		m.metrics.AddEmbeddedTokens(usage.TenantID, usage.Provider, usage.TotalTokens)
	}
}
