package metrics

import (
	"context"

	"github.com/upb/llm-orchestrator/services/providers"
	"go.uber.org/zap"
)

// Sink receives per-request outcome events from provider clients and the
// orchestrator. Implementations must be safe for concurrent use.
type Sink interface {
	// RecordSuccess records a completed generation with its usage and cost
	RecordSuccess(ctx context.Context, tenant, provider, model string, usage providers.Usage, cost float64, latencyMs int64)

	// RecordError records a failed generation attempt by error kind
	RecordError(ctx context.Context, tenant, provider, model, errorKind string)
}

// ZapSink logs metric events as structured log lines. It is the default sink
// when no metrics database is configured.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink creates a log-backed metrics sink
func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger}
}

// RecordSuccess implements Sink
func (s *ZapSink) RecordSuccess(ctx context.Context, tenant, provider, model string, usage providers.Usage, cost float64, latencyMs int64) {
	s.logger.Info("llm request succeeded",
		zap.String("tenant", tenant),
		zap.String("provider", provider),
		zap.String("model", model),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
		zap.Float64("cost", cost),
		zap.Int64("latency_ms", latencyMs))
}

// RecordError implements Sink
func (s *ZapSink) RecordError(ctx context.Context, tenant, provider, model, errorKind string) {
	s.logger.Warn("llm request failed",
		zap.String("tenant", tenant),
		zap.String("provider", provider),
		zap.String("model", model),
		zap.String("error_kind", errorKind))
}
