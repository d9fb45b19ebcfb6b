package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecrank/internal/domain"
)

// HealthCheckText is embedded when the inner provider has no cheaper health check.
const HealthCheckText = "health check"

// InstrumentedEmbedder wraps Embedder with logging and a dimension guard.
// Transport metrics (requests, duration, tokens) are recorded in transport/openai.
type InstrumentedEmbedder struct {
	inner    domain.Embedder
	provider string
	model    string
	dim      int
	logger   *zap.Logger
}

// NewInstrumentedEmbedder wraps an embedder. dim 0 disables the dimension guard.
func NewInstrumentedEmbedder(
	inner domain.Embedder, provider, model string, dim int, logger *zap.Logger,
) *InstrumentedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedEmbedder{
		inner:    inner,
		provider: provider,
		model:    model,
		dim:      dim,
		logger:   logger,
	}
}

// Embed delegates to the inner embedder and rejects vectors of the wrong dimension.
func (p *InstrumentedEmbedder) Embed(
	ctx context.Context, text string,
) (domain.EmbeddingResult, error) {
	start := time.Now()

	result, err := p.inner.Embed(ctx, text)

	duration := time.Since(start)

	if err != nil {
		p.logger.Error("Embedding request failed",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}

	if p.dim > 0 {
		if err := domain.CheckDimensions(result.Embedding, p.dim); err != nil {
			p.logger.Error("Embedding dimension mismatch",
				zap.String("provider", p.provider),
				zap.String("model", p.model),
				zap.Int("dimensions", len(result.Embedding)),
				zap.Int("expected", p.dim),
			)
			return domain.EmbeddingResult{}, fmt.Errorf("embed: %w: %s", domain.ErrEmbeddingProviderError, err.Error())
		}
	}

	p.logger.Debug("Embedding request completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// HealthCheck uses the provider's own check when it has one, otherwise embeds a fixed text.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health: %w", err)
		}
		return nil
	}
	if _, err := p.Embed(ctx, HealthCheckText); err != nil {
		return fmt.Errorf("embedding health: %w", err)
	}
	return nil
}
