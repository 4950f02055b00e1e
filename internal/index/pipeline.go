// Package index implements per-source document ingestion: sanitize, hash,
// dedupe, embed, persist. Every connector feeds the same pipeline and only
// differs in how it produces raw (title, content, sourceId, metadata) tuples.
package index

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxidesk/voxidesk/internal/sanitize"
	"github.com/voxidesk/voxidesk/internal/storage"
)

// maxContentRunes caps stored content. Longer documents are truncated at
// ingestion, after hashing.
const maxContentRunes = 8000

// Result statuses for a single document in a batch.
const (
	StatusIndexed = "indexed"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// RawDocument is a connector-produced tuple awaiting ingestion.
type RawDocument struct {
	SourceID string
	Title    string
	Content  string
	Metadata map[string]string
}

// Request is one ingestion batch for a (connector, sourceType) pair.
type Request struct {
	ConnectorID string
	SourceType  string
	OwnerUserID string // empty = globally owned
	Documents   []RawDocument
}

// Result reports the outcome for one document. Results are returned in
// input order so callers can reconcile them positionally.
type Result struct {
	Title  string
	Status string
	ID     string
	Err    string
}

// DocStore is the subset of storage the pipeline needs.
type DocStore interface {
	ExistsByHash(ctx context.Context, connectorID, contentHash, ownerUserID string) (bool, error)
	InsertDocument(ctx context.Context, doc storage.Document) error
}

// TextEmbedder produces best-effort embeddings; nil means absent.
type TextEmbedder interface {
	EmbedOrNil(ctx context.Context, text string) []float32
}

// Pipeline ingests document batches.
type Pipeline struct {
	store    DocStore
	embedder TextEmbedder
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline. embedder may be nil for keyword-only
// deployments.
func NewPipeline(store DocStore, embedder TextEmbedder) *Pipeline {
	return &Pipeline{
		store:    store,
		embedder: embedder,
		logger:   slog.Default(),
	}
}

// IndexBatch processes req's documents sequentially and returns one Result
// per input document, in input order. A failure on one document never aborts
// the batch; duplicate content is skipped, including the concurrent-ingest
// race where the unique constraint fires after the existence check passed.
func (p *Pipeline) IndexBatch(ctx context.Context, req Request) []Result {
	results := make([]Result, 0, len(req.Documents))
	for _, raw := range req.Documents {
		results = append(results, p.indexOne(ctx, req, raw))
	}
	return results
}

func (p *Pipeline) indexOne(ctx context.Context, req Request, raw RawDocument) Result {
	title := sanitize.Clean(raw.Title)
	content := sanitize.Clean(raw.Content)
	hash := sanitize.Fingerprint(content)

	res := Result{Title: title, Status: StatusError}

	exists, err := p.store.ExistsByHash(ctx, req.ConnectorID, hash, req.OwnerUserID)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	if exists {
		p.logger.Debug("skipping duplicate document",
			"connector", req.ConnectorID, "title", title, "hash", hash)
		res.Status = StatusSkipped
		return res
	}

	var vec []float32
	if p.embedder != nil {
		vec = p.embedder.EmbedOrNil(ctx, content)
	}

	doc := storage.Document{
		ID:          uuid.New().String(),
		ConnectorID: req.ConnectorID,
		SourceType:  req.SourceType,
		SourceID:    raw.SourceID,
		Title:       title,
		Content:     sanitize.Truncate(content, maxContentRunes),
		ContentHash: hash,
		Metadata:    raw.Metadata,
		Embedding:   vec,
		OwnerUserID: req.OwnerUserID,
		CreatedAt:   time.Now().UTC(),
	}

	if err := p.store.InsertDocument(ctx, doc); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost the race against a concurrent ingest of the same content.
			res.Status = StatusSkipped
			return res
		}
		p.logger.Warn("failed to store document",
			"connector", req.ConnectorID, "title", title, "error", err)
		res.Err = err.Error()
		return res
	}

	res.Status = StatusIndexed
	res.ID = doc.ID
	return res
}
