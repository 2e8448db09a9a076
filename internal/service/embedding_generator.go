package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/formbricks/buckets/internal/huberrors"
	"github.com/formbricks/buckets/internal/observability"
	"github.com/formbricks/buckets/pkg/cache"
)

const (
	// MaxEmbeddingInputRunes bounds the text sent to the provider; longer text is truncated.
	MaxEmbeddingInputRunes = 8000

	embeddingCacheName = "embedding"
)

// EmbeddingGenerator turns text into a vector through an EmbeddingClient.
// Calls are rate limited process-wide and identical (model, text) pairs are served from cache,
// so re-embedding unchanged text returns the same vector.
type EmbeddingGenerator struct {
	client       EmbeddingClient
	model        string
	dimensions   int
	limiter      *rate.Limiter
	cache        *cache.LoaderCache[string, []float32]
	cacheMetrics observability.CacheMetrics
	logger       *slog.Logger
}

// EmbeddingGeneratorParams configures EmbeddingGenerator. Limiter, Cache and CacheMetrics may be nil.
// Dimensions, when positive, is checked against every vector the client returns.
type EmbeddingGeneratorParams struct {
	Client       EmbeddingClient
	Model        string
	Dimensions   int
	Limiter      *rate.Limiter
	Cache        *cache.LoaderCache[string, []float32]
	CacheMetrics observability.CacheMetrics
	Logger       *slog.Logger
}

// NewEmbeddingGenerator creates an EmbeddingGenerator.
func NewEmbeddingGenerator(p EmbeddingGeneratorParams) *EmbeddingGenerator {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &EmbeddingGenerator{
		client:       p.Client,
		model:        p.Model,
		dimensions:   p.Dimensions,
		limiter:      p.Limiter,
		cache:        p.Cache,
		cacheMetrics: p.CacheMetrics,
		logger:       logger,
	}
}

// Model returns the embedding model name stored alongside each vector.
func (g *EmbeddingGenerator) Model() string {
	return g.model
}

// Embed returns the vector for text. Text is trimmed and truncated to MaxEmbeddingInputRunes.
// Empty text is a validation error; provider failures are returned as *huberrors.UpstreamError.
// The returned slice is owned by the caller.
func (g *EmbeddingGenerator) Embed(ctx context.Context, text string) ([]float32, error) {
	text = truncateRunes(strings.TrimSpace(text), MaxEmbeddingInputRunes)
	if text == "" {
		return nil, huberrors.NewValidationError("text", "nothing to embed: title and description are empty")
	}

	if g.cache == nil {
		return g.load(ctx, text)
	}

	vec, hit, err := g.cache.GetWithStats(ctx, g.cacheKey(text), func(ctx context.Context, _ string) ([]float32, error) {
		return g.load(ctx, text)
	})
	if err != nil {
		return nil, err
	}

	if g.cacheMetrics != nil {
		if hit {
			g.cacheMetrics.RecordHit(ctx, embeddingCacheName)
		} else {
			g.cacheMetrics.RecordMiss(ctx, embeddingCacheName)
		}
	}

	return slices.Clone(vec), nil
}

func (g *EmbeddingGenerator) load(ctx context.Context, text string) ([]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limiter: %w", err)
		}
	}

	vec, err := g.client.CreateEmbedding(ctx, text)
	if err != nil {
		g.logger.WarnContext(ctx, "embedding: provider call failed", "model", g.model, "error", err)

		return nil, huberrors.NewUpstreamError("embedding", err)
	}

	if len(vec) == 0 {
		return nil, huberrors.NewUpstreamError("embedding", errEmptyEmbedding)
	}

	if g.dimensions > 0 && len(vec) != g.dimensions {
		return nil, huberrors.NewUpstreamError("embedding",
			fmt.Errorf("%w: got %d, want %d", errEmbeddingDimensions, len(vec), g.dimensions))
	}

	return vec, nil
}

// cacheKey is model + sha256(text); the model is part of the key so switching models never serves stale vectors.
func (g *EmbeddingGenerator) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))

	return g.model + ":" + hex.EncodeToString(sum[:])
}

// truncateRunes returns s cut to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}

	runes := []rune(s)

	return string(runes[:n])
}
