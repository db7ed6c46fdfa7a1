// Package embedding turns chunk text into vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/feichai0017/tender-ingest/config"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

// ErrDimensionMismatch is returned when a provider answers with vectors of a
// length other than its declared dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Generator 文本向量化接口
type Generator interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}

// New builds the provider named by cfg.Provider.
func New(ctx context.Context, cfg config.EmbeddingConfig, log logger.Logger) (Generator, error) {
	switch cfg.Provider {
	case config.EmbeddingHash, "":
		return NewHash(cfg.Dimension), nil
	case config.EmbeddingOllama:
		return NewOllama(cfg, log), nil
	case config.EmbeddingGemini:
		return NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// EmbedBatched embeds texts in batches of at most batchSize and checks every
// vector against the generator's dimension.
func EmbedBatched(ctx context.Context, g Generator, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		vectors, err := g.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("batch %d-%d: provider returned %d vectors", start, end, len(vectors))
		}
		for i, v := range vectors {
			if len(v) != g.Dimension() {
				return nil, fmt.Errorf("%w: vector %d has %d values, want %d", ErrDimensionMismatch, start+i, len(v), g.Dimension())
			}
		}
		out = append(out, vectors...)
	}
	return out, nil
}
