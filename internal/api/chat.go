package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/voxidesk/voxidesk/internal/chat"
	"github.com/voxidesk/voxidesk/internal/convo"
)

// ChatStreamRequest starts one streamed assistant turn.
type ChatStreamRequest struct {
	SessionID string         `json:"sessionId"`
	UserID    string         `json:"userId"`
	Messages  []chat.Message `json:"messages"`
}

// handleChatStream runs the orchestrator and relays its events as SSE:
// one data frame per delta, a distinct error frame on failure, and a
// `[DONE]` terminator on success.
func handleChatStream(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatStreamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Messages) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages is required and must not be empty")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		var conversation *convo.Conversation
		if req.SessionID != "" {
			conversation = convo.New(req.SessionID, deps.Store)
			if err := conversation.Load(r.Context()); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "loading conversation: %v", err)
				return
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		writeFrame := func(v any) {
			payload, err := json.Marshal(v)
			if err != nil {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}

		deps.Chat.StreamChat(r.Context(), chat.StreamParams{
			Messages:     req.Messages,
			OwnerUserID:  req.UserID,
			Conversation: conversation,
			OnDelta: func(delta string) {
				writeFrame(map[string]string{"delta": delta})
			},
			OnDone: func(_ string) {
				fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
			},
			OnError: func(err error) {
				writeFrame(map[string]any{
					"error": map[string]any{
						"message": err.Error(),
						"type":    "api_error",
					},
				})
			},
		})
	}
}
