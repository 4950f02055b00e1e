package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxidesk/voxidesk/internal/sanitize"
)

// maxInputRunes caps text sent to the provider. Longer content is truncated,
// not rejected.
const maxInputRunes = 8000

// callTimeout bounds a single embedding call; a timeout is reported as an
// absent embedding, never as a fatal error.
const callTimeout = 30 * time.Second

// Provider generates embeddings for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Embedder wraps a Provider with truncation and best-effort semantics.
type Embedder struct {
	provider Provider
	logger   *slog.Logger
}

// NewEmbedder creates an Embedder. provider may be nil, which means the
// capability is absent and every call returns nil.
func NewEmbedder(provider Provider) *Embedder {
	return &Embedder{provider: provider, logger: slog.Default()}
}

// Embed returns the embedding for text, or an error. Input is truncated to
// the provider cap first.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.provider == nil {
		return nil, fmt.Errorf("embedding provider not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	vec, err := e.provider.Embed(ctx, sanitize.Truncate(text, maxInputRunes))
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedOrNil is the best-effort form every indexing and search caller uses:
// provider errors, missing credentials, and timeouts all come back as nil so
// the caller degrades to keyword-only behavior.
func (e *Embedder) EmbedOrNil(ctx context.Context, text string) []float32 {
	if e.provider == nil {
		return nil
	}
	vec, err := e.Embed(ctx, text)
	if err != nil {
		e.logger.Debug("embedding unavailable, continuing without it", "error", err)
		return nil
	}
	return vec
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the provider.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
