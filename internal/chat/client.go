// Package chat streams assistant responses from an OpenAI-compatible chat
// completion backend and orchestrates the full turn: retrieval-grounded
// prompt composition, delta streaming, persistence of the finished turn,
// and handoff to speech synthesis.
package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const streamingTimeout = 300 * time.Second

// Message is one chat turn on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EventKind tags stream events.
type EventKind int

const (
	// EventDelta carries one incremental text fragment.
	EventDelta EventKind = iota
	// EventDone marks successful stream completion.
	EventDone
	// EventError marks stream failure. Done and Error are mutually
	// exclusive and each stream emits exactly one of them, last.
	EventError
)

// Event is one element of the response stream.
type Event struct {
	Kind  EventKind
	Delta string
	Err   error
}

// Client talks to an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a Client for baseURL (no trailing slash required).
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		// No client-level timeout: streams are bounded per-request below.
		httpClient: &http.Client{},
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type streamChunk struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream sends messages and returns the response as an event channel. The
// channel carries zero or more Delta events followed by exactly one Done or
// Error, then closes. Request construction and non-200 responses fail
// before any channel exists.
func (c *Client) Stream(ctx context.Context, messages []Message) (<-chan Event, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("chat API key not configured")
	}

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshalling chat request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, streamingTimeout)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("calling chat API: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("chat API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer cancel()
		defer resp.Body.Close()
		readStream(resp.Body, events)
	}()
	return events, nil
}

// readStream parses SSE frames into events, ending with exactly one
// terminal event.
func readStream(body io.Reader, events chan<- Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			events <- Event{Kind: EventDone}
			return
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Tolerate unparseable keep-alive frames.
			continue
		}
		if chunk.Error != nil {
			events <- Event{Kind: EventError, Err: fmt.Errorf("chat backend: %s", chunk.Error.Message)}
			return
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			events <- Event{Kind: EventDelta, Delta: chunk.Choices[0].Delta.Content}
		}
	}

	if err := scanner.Err(); err != nil {
		events <- Event{Kind: EventError, Err: fmt.Errorf("reading chat stream: %w", err)}
		return
	}
	// Stream closed cleanly without a terminator frame.
	events <- Event{Kind: EventDone}
}
