package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxidesk/voxidesk/internal/chat"
	"github.com/voxidesk/voxidesk/internal/index"
	"github.com/voxidesk/voxidesk/internal/search"
	"github.com/voxidesk/voxidesk/internal/storage"
)

// stubStreamer replays canned chat events.
type stubStreamer struct {
	events []chat.Event
	err    error
}

func (s *stubStreamer) Stream(_ context.Context, _ []chat.Message) (<-chan chat.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan chat.Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// stubFetcher returns a fixed page per URL.
type stubFetcher struct {
	pages map[string]index.RawDocument
}

func (s *stubFetcher) Fetch(_ context.Context, url string) (index.RawDocument, error) {
	doc, ok := s.pages[url]
	if !ok {
		return index.RawDocument{}, fmt.Errorf("no such page")
	}
	return doc, nil
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return Deps{
		Store:    store,
		Pipeline: index.NewPipeline(store, nil),
		Search:   search.NewEngine(store, nil),
		Chat: chat.NewOrchestrator(&stubStreamer{events: []chat.Event{
			{Kind: chat.EventDelta, Delta: "Hel"},
			{Kind: chat.EventDelta, Delta: "lo, "},
			{Kind: chat.EventDelta, Delta: "world"},
			{Kind: chat.EventDone},
		}}, nil, nil, nil),
	}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestConnectorIndexSearchScenario(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	indexReq := map[string]any{
		"action":      "index",
		"connectorId": "file",
		"sourceType":  "upload",
		"documents": []map[string]any{
			{"title": "Guide", "content": "Reset your password by visiting the account portal"},
		},
	}

	rec := doJSON(t, h, http.MethodPost, "/connector", indexReq)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var indexed indexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &indexed))
	require.True(t, indexed.Success)
	require.Len(t, indexed.Results, 1)
	assert.Equal(t, "Guide", indexed.Results[0].Title)
	assert.Equal(t, index.StatusIndexed, indexed.Results[0].Status)
	assert.NotEmpty(t, indexed.Results[0].ID)

	// Identical payload again: skipped.
	rec = doJSON(t, h, http.MethodPost, "/connector", indexReq)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &indexed))
	assert.Equal(t, index.StatusSkipped, indexed.Results[0].Status)

	rec = doJSON(t, h, http.MethodPost, "/connector", map[string]any{
		"action": "search",
		"query":  "reset password",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var found searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &found))
	require.True(t, found.Success)
	assert.Equal(t, search.TypeKeyword, found.SearchType)
	require.Len(t, found.Results, 1)
	assert.Equal(t, "Guide", found.Results[0].Title)
	require.NotNil(t, found.Results[0].KeywordRank)
	assert.Greater(t, *found.Results[0].KeywordRank, 0.0)
	assert.Nil(t, found.Results[0].Similarity, "keyword mode has no similarity component")
}

func TestConnectorDelete(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	doJSON(t, h, http.MethodPost, "/connector", map[string]any{
		"action":      "index",
		"connectorId": "web",
		"documents":   []map[string]any{{"title": "Page", "content": "crawled text"}},
	})

	rec := doJSON(t, h, http.MethodPost, "/connector", map[string]any{
		"action":      "delete",
		"connectorId": "web",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var deleted deleteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deleted))
	assert.True(t, deleted.Success)
	assert.Contains(t, deleted.Message, "deleted 1 documents")

	n, err := deps.Store.CountDocuments(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConnectorValidation(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"unknown action", map[string]any{"action": "explode"}},
		{"index without connector", map[string]any{"action": "index", "documents": []map[string]any{{"content": "x"}}}},
		{"index without documents", map[string]any{"action": "index", "connectorId": "file"}},
		{"index with empty content", map[string]any{"action": "index", "connectorId": "file", "documents": []map[string]any{{"title": "t"}}}},
		{"search without query", map[string]any{"action": "search"}},
		{"delete without connector", map[string]any{"action": "delete"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/connector", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "invalid_request_error")
		})
	}

	// Validation failures must not leave partial state behind.
	n, err := deps.Store.CountDocuments(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "rejected requests must have no side effects")
}

func TestConnectorIndexFileUpload(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	md := "# Onboarding\n\nWelcome aboard, read the handbook."
	rec := doJSON(t, h, http.MethodPost, "/connector", map[string]any{
		"action":      "index",
		"connectorId": "file",
		"sourceType":  "upload",
		"files": []map[string]any{
			{"name": "onboarding.md", "data": base64.StdEncoding.EncodeToString([]byte(md))},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var indexed indexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &indexed))
	require.Len(t, indexed.Results, 1)
	assert.Equal(t, "Onboarding", indexed.Results[0].Title)
	assert.Equal(t, index.StatusIndexed, indexed.Results[0].Status)
}

func TestConnectorIndexURLs(t *testing.T) {
	deps := newTestDeps(t)
	deps.Fetcher = &stubFetcher{pages: map[string]index.RawDocument{
		"https://example.com/help": {
			SourceID: "https://example.com/help",
			Title:    "Help Center",
			Content:  "All the answers live here",
		},
	}}
	h := NewHandler(deps)

	rec := doJSON(t, h, http.MethodPost, "/connector", map[string]any{
		"action":      "index",
		"connectorId": "web",
		"sourceType":  "page",
		"urls":        []string{"https://example.com/help"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var indexed indexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &indexed))
	require.Len(t, indexed.Results, 1)
	assert.Equal(t, "Help Center", indexed.Results[0].Title)
}

func TestListDocuments(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	doJSON(t, h, http.MethodPost, "/connector", map[string]any{
		"action":      "index",
		"connectorId": "file",
		"documents": []map[string]any{
			{"title": "Alpha", "content": "first document"},
			{"title": "Beta", "content": "second document"},
		},
	})

	rec := doJSON(t, h, http.MethodGet, "/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed documentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, 2, listed.Count)

	rec = doJSON(t, h, http.MethodGet, "/documents?q=beta", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, "Beta", listed.Documents[0].Title)
	assert.False(t, listed.Documents[0].HasVector)
}

func TestBearerAuth(t *testing.T) {
	deps := newTestDeps(t)
	deps.Token = "secret-token"
	h := NewHandler(deps)

	// Health stays open.
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Missing and wrong tokens rejected.
	rec = doJSON(t, h, http.MethodGet, "/documents", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatStream(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	rec := doJSON(t, h, http.MethodPost, "/v1/chat/stream", map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "say hello"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `data: {"delta":"Hel"}`)
	assert.Contains(t, body, `data: {"delta":"lo, "}`)
	assert.Contains(t, body, `data: {"delta":"world"}`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))
}

func TestChatStreamErrorFrame(t *testing.T) {
	deps := newTestDeps(t)
	deps.Chat = chat.NewOrchestrator(&stubStreamer{events: []chat.Event{
		{Kind: chat.EventError, Err: fmt.Errorf("backend exploded")},
	}}, nil, nil, nil)
	h := NewHandler(deps)

	rec := doJSON(t, h, http.MethodPost, "/v1/chat/stream", map[string]any{
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "backend exploded")
	assert.NotContains(t, body, "[DONE]")
}

func TestChatStreamValidation(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	rec := doJSON(t, h, http.MethodPost, "/v1/chat/stream", map[string]any{"messages": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatStreamPersistsSessionTurn(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	rec := doJSON(t, h, http.MethodPost, "/v1/chat/stream", map[string]any{
		"sessionId": "session-9",
		"messages":  []map[string]any{{"role": "user", "content": "say hello"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rows, err := deps.Store.MessagesBySession(context.Background(), "session-9")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Hello, world", rows[0].Content)
}
