// Package search implements ranked retrieval over the document store:
// keyword-only full-text ranking, and hybrid ranking that blends vector
// similarity with the keyword score when a query embedding is available.
package search

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/voxidesk/voxidesk/internal/storage"
)

// Hybrid scoring constants. The keyword rank is clamped to [0,1] before
// blending because the underlying ranking function usually stays below 1.0
// but is not bounded above, while cosine similarity already is.
const (
	similarityWeight = 0.7
	keywordWeight    = 0.3
)

// Search types reported to callers.
const (
	TypeKeyword = "keyword"
	TypeHybrid  = "hybrid"
)

// Result is one ranked document.
type Result struct {
	Document    storage.Document
	Similarity  float64 // cosine similarity; 0 when no vector component
	KeywordRank float64 // raw (unclamped) keyword relevance
	Score       float64 // final ordering score
}

// Response carries ranked results plus the mode that produced them.
type Response struct {
	Results    []Result
	SearchType string
}

// DocSearcher is the subset of storage the engine needs.
type DocSearcher interface {
	KeywordSearch(ctx context.Context, query string, limit int, connectorID, ownerUserID string) ([]storage.KeywordHit, error)
	EmbeddingCandidates(ctx context.Context, connectorID, ownerUserID string) ([]storage.EmbeddingRef, error)
	GetDocumentsByIDs(ctx context.Context, ids []string) ([]storage.Document, error)
}

// QueryEmbedder produces a best-effort query embedding; nil means keyword
// mode.
type QueryEmbedder interface {
	EmbedOrNil(ctx context.Context, text string) []float32
}

// Engine performs keyword or hybrid retrieval with graceful degradation.
type Engine struct {
	store    DocSearcher
	embedder QueryEmbedder
	logger   *slog.Logger
}

// NewEngine creates an Engine. embedder may be nil for keyword-only
// deployments.
func NewEngine(store DocSearcher, embedder QueryEmbedder) *Engine {
	return &Engine{store: store, embedder: embedder, logger: slog.Default()}
}

// Search returns the top limit documents for query, scoped by connector and
// owner. When a query embedding is obtainable it runs hybrid ranking; any
// failure on the hybrid path degrades to keyword-only rather than erroring.
func (e *Engine) Search(ctx context.Context, query string, limit int, connectorID, ownerUserID string) (Response, error) {
	if limit <= 0 {
		limit = 10
	}

	var queryVec []float32
	if e.embedder != nil {
		queryVec = e.embedder.EmbedOrNil(ctx, query)
	}

	if queryVec != nil {
		resp, err := e.hybrid(ctx, query, queryVec, limit, connectorID, ownerUserID)
		if err == nil {
			return resp, nil
		}
		e.logger.Warn("hybrid search failed, falling back to keyword", "error", err)
	}

	return e.keyword(ctx, query, limit, connectorID, ownerUserID)
}

func (e *Engine) keyword(ctx context.Context, query string, limit int, connectorID, ownerUserID string) (Response, error) {
	hits, err := e.store.KeywordSearch(ctx, query, limit, connectorID, ownerUserID)
	if err != nil {
		return Response{}, err
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			Document:    h.Document,
			KeywordRank: h.Rank,
			Score:       h.Rank,
		})
	}
	return Response{Results: results, SearchType: TypeKeyword}, nil
}

// hybrid blends cosine similarity against stored embeddings with the clamped
// keyword rank. Documents without an embedding still participate through
// their keyword score; documents without a keyword match participate through
// similarity alone.
func (e *Engine) hybrid(ctx context.Context, query string, queryVec []float32, limit int, connectorID, ownerUserID string) (Response, error) {
	// Pull a generous keyword pool so blending has something to reorder.
	hits, err := e.store.KeywordSearch(ctx, query, limit*4, connectorID, ownerUserID)
	if err != nil {
		return Response{}, err
	}

	refs, err := e.store.EmbeddingCandidates(ctx, connectorID, ownerUserID)
	if err != nil {
		return Response{}, err
	}

	scored := make(map[string]*Result, len(hits)+len(refs))
	for _, h := range hits {
		doc := h.Document
		scored[doc.ID] = &Result{Document: doc, KeywordRank: h.Rank}
	}
	for _, ref := range refs {
		sim := cosineSimilarity(queryVec, ref.Embedding)
		if r, ok := scored[ref.ID]; ok {
			r.Similarity = sim
			continue
		}
		scored[ref.ID] = &Result{Document: storage.Document{ID: ref.ID}, Similarity: sim}
	}

	results := make([]Result, 0, len(scored))
	var missing []string
	for _, r := range scored {
		r.Score = similarityWeight*r.Similarity + keywordWeight*math.Min(r.KeywordRank, 1.0)
		if r.Document.ConnectorID == "" && r.Document.Content == "" {
			missing = append(missing, r.Document.ID)
		}
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}

	if err := e.fillDocuments(ctx, results, missing); err != nil {
		return Response{}, err
	}

	return Response{Results: results, SearchType: TypeHybrid}, nil
}

// fillDocuments loads full rows for results that were scored from an
// embedding ref only.
func (e *Engine) fillDocuments(ctx context.Context, results []Result, missing []string) error {
	if len(missing) == 0 {
		return nil
	}

	need := make(map[string]bool, len(missing))
	for _, id := range missing {
		need[id] = true
	}

	var ids []string
	for i := range results {
		if need[results[i].Document.ID] {
			ids = append(ids, results[i].Document.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	docs, err := e.store.GetDocumentsByIDs(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[string]storage.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	for i := range results {
		if d, ok := byID[results[i].Document.ID]; ok {
			results[i].Document = d
		}
	}
	return nil
}

// cosineSimilarity returns dot(a,b) / (|a| * |b|), or 0 when either vector
// is empty, zero, or the lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, aNormSq, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aNormSq += float64(a[i]) * float64(a[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if aNormSq == 0 || bNormSq == 0 {
		return 0
	}
	return dot / (math.Sqrt(aNormSq) * math.Sqrt(bNormSq))
}
