// Package api exposes the HTTP surface: the connector endpoint for
// indexing, search, and purge, an admin document listing, a streaming chat
// endpoint, and the MCP server for agent integrations.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voxidesk/voxidesk/internal/chat"
	"github.com/voxidesk/voxidesk/internal/connectors/file"
	"github.com/voxidesk/voxidesk/internal/index"
	"github.com/voxidesk/voxidesk/internal/search"
	"github.com/voxidesk/voxidesk/internal/storage"
)

const maxRequestBodySize = 10 << 20 // 10MB

// PageFetcher produces a raw document from a URL. Implemented by
// connectors/web.Fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (index.RawDocument, error)
}

// Deps holds everything the HTTP layer needs.
type Deps struct {
	Store    *storage.Store
	Pipeline *index.Pipeline
	Search   *search.Engine
	Chat     *chat.Orchestrator
	Fetcher  PageFetcher // optional; URL indexing rejected when nil
	Token    string      // empty disables auth
}

// NewHandler builds the router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/connector", handleConnector(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Post("/v1/chat/stream", handleChatStream(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// ConnectorRequest is the action-dispatched payload for /connector.
type ConnectorRequest struct {
	Action      string        `json:"action"`
	ConnectorID string        `json:"connectorId"`
	SourceType  string        `json:"sourceType"`
	UserID      string        `json:"userId"`
	Query       string        `json:"query"`
	Limit       int           `json:"limit"`
	Documents   []RawDocument `json:"documents"`
	Files       []FileUpload  `json:"files"`
	URLs        []string      `json:"urls"`
}

// RawDocument is one inline document to index.
type RawDocument struct {
	SourceID string            `json:"sourceId"`
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// FileUpload is a base64-encoded file to run through the file connector.
type FileUpload struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

func handleConnector(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ConnectorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		switch req.Action {
		case "index":
			handleIndex(deps, w, r, req)
		case "search":
			handleSearch(deps, w, r, req)
		case "delete":
			handleDelete(deps, w, r, req)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "action must be one of index, search, delete")
		}
	}
}

// IndexResult reports one document's ingestion outcome on the wire.
type IndexResult struct {
	Title  string `json:"title"`
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error,omitempty"`
}

type indexResponse struct {
	Success bool          `json:"success"`
	Results []IndexResult `json:"results"`
}

func handleIndex(deps Deps, w http.ResponseWriter, r *http.Request, req ConnectorRequest) {
	if req.ConnectorID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "connectorId is required")
		return
	}
	if len(req.Documents) == 0 && len(req.Files) == 0 && len(req.URLs) == 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of documents, files, or urls is required")
		return
	}
	if len(req.URLs) > 0 && deps.Fetcher == nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "url indexing is not enabled")
		return
	}
	for i, doc := range req.Documents {
		if doc.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "documents[%d].content is required", i)
			return
		}
	}
	if req.SourceType == "" {
		req.SourceType = "text"
	}

	raw := make([]index.RawDocument, 0, len(req.Documents)+len(req.Files)+len(req.URLs))
	for _, doc := range req.Documents {
		raw = append(raw, index.RawDocument{
			SourceID: doc.SourceID,
			Title:    doc.Title,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
	}
	for i, upload := range req.Files {
		data, err := base64.StdEncoding.DecodeString(upload.Data)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "files[%d].data is not valid base64", i)
			return
		}
		doc, err := file.Extract(upload.Name, data)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "files[%d]: %v", i, err)
			return
		}
		raw = append(raw, doc)
	}
	for _, url := range req.URLs {
		doc, err := deps.Fetcher.Fetch(r.Context(), url)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "fetching %s: %v", url, err)
			return
		}
		raw = append(raw, doc)
	}

	results := deps.Pipeline.IndexBatch(r.Context(), index.Request{
		ConnectorID: req.ConnectorID,
		SourceType:  req.SourceType,
		OwnerUserID: req.UserID,
		Documents:   raw,
	})

	out := make([]IndexResult, 0, len(results))
	for _, res := range results {
		out = append(out, IndexResult{Title: res.Title, Status: res.Status, ID: res.ID, Error: res.Err})
	}
	writeJSON(w, indexResponse{Success: true, Results: out})
}

// SearchResult is one ranked hit on the wire. Score fields are omitted when
// the producing mode did not compute them.
type SearchResult struct {
	ID          string            `json:"id"`
	ConnectorID string            `json:"connectorId"`
	SourceType  string            `json:"sourceType"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata"`
	Similarity  *float64          `json:"similarity,omitempty"`
	KeywordRank *float64          `json:"keywordRank,omitempty"`
}

type searchResponse struct {
	Success    bool           `json:"success"`
	Results    []SearchResult `json:"results"`
	SearchType string         `json:"searchType"`
}

// toSearchResults maps engine results to the wire shape. The similarity
// component only exists in hybrid mode; the keyword rank is always present.
func toSearchResults(resp search.Response) []SearchResult {
	results := make([]SearchResult, 0, len(resp.Results))
	for _, hit := range resp.Results {
		out := SearchResult{
			ID:          hit.Document.ID,
			ConnectorID: hit.Document.ConnectorID,
			SourceType:  hit.Document.SourceType,
			Title:       hit.Document.Title,
			Content:     hit.Document.Content,
			Metadata:    hit.Document.Metadata,
		}
		rank := hit.KeywordRank
		out.KeywordRank = &rank
		if resp.SearchType == search.TypeHybrid {
			sim := hit.Similarity
			out.Similarity = &sim
		}
		results = append(results, out)
	}
	return results
}

func handleSearch(deps Deps, w http.ResponseWriter, r *http.Request, req ConnectorRequest) {
	if req.Query == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
		return
	}

	resp, err := deps.Search.Search(r.Context(), req.Query, req.Limit, req.ConnectorID, req.UserID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
		return
	}

	writeJSON(w, searchResponse{Success: true, Results: toSearchResults(resp), SearchType: resp.SearchType})
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func handleDelete(deps Deps, w http.ResponseWriter, r *http.Request, req ConnectorRequest) {
	if req.ConnectorID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "connectorId is required")
		return
	}

	count, err := deps.Store.DeleteByConnector(r.Context(), req.ConnectorID, req.UserID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "delete failed: %v", err)
		return
	}

	writeJSON(w, deleteResponse{
		Success: true,
		Message: fmt.Sprintf("deleted %d documents from connector %s", count, req.ConnectorID),
	})
}

// AdminDocument is the browse-listing shape. Embeddings stay server-side.
type AdminDocument struct {
	ID          string            `json:"id"`
	ConnectorID string            `json:"connectorId"`
	SourceType  string            `json:"sourceType"`
	SourceID    string            `json:"sourceId,omitempty"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	ContentHash string            `json:"contentHash"`
	Metadata    map[string]string `json:"metadata"`
	OwnerUserID string            `json:"ownerUserId,omitempty"`
	HasVector   bool              `json:"hasVector"`
	CreatedAt   time.Time         `json:"createdAt"`
}

type documentsResponse struct {
	Documents []AdminDocument `json:"documents"`
	Count     int             `json:"count"`
}

func toAdminDocument(d storage.Document) AdminDocument {
	return AdminDocument{
		ID:          d.ID,
		ConnectorID: d.ConnectorID,
		SourceType:  d.SourceType,
		SourceID:    d.SourceID,
		Title:       d.Title,
		Content:     d.Content,
		ContentHash: d.ContentHash,
		Metadata:    d.Metadata,
		OwnerUserID: d.OwnerUserID,
		HasVector:   d.Embedding != nil,
		CreatedAt:   d.CreatedAt,
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var (
			docs []storage.Document
			err  error
		)
		if text := q.Get("q"); text != "" {
			docs, err = deps.Store.SearchDocumentsText(r.Context(), text)
		} else {
			limit := queryInt(q.Get("limit"), 50)
			offset := queryInt(q.Get("offset"), 0)
			docs, err = deps.Store.ListDocuments(r.Context(), limit, offset)
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing documents: %v", err)
			return
		}

		out := make([]AdminDocument, 0, len(docs))
		for _, d := range docs {
			out = append(out, toAdminDocument(d))
		}
		writeJSON(w, documentsResponse{Documents: out, Count: len(out)})
	}
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
