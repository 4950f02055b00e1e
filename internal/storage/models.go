package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert violates the per-connector
// content-hash uniqueness invariant. Callers treat it as "already stored",
// not as a failure.
var ErrConflict = errors.New("duplicate content")

// Document is an indexed piece of connector content. Documents are never
// mutated in place; they are inserted by the indexing pipeline and removed
// wholesale by connector purges.
type Document struct {
	ID          string
	ConnectorID string
	SourceType  string
	SourceID    string
	Title       string
	Content     string
	ContentHash string
	Metadata    map[string]string
	Embedding   []float32 // nil when the embedding provider was unavailable
	OwnerUserID string    // empty = globally owned
	CreatedAt   time.Time
}

// Message is one persisted conversation turn.
type Message struct {
	ID        string
	SessionID string
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}

// KeywordHit is a document matched by full-text search together with its
// relevance rank. Rank is usually below 1.0 but is not bounded above.
type KeywordHit struct {
	Document
	Rank float64
}

// EmbeddingRef carries just enough of a document to score it by vector
// similarity.
type EmbeddingRef struct {
	ID        string
	Embedding []float32
}
