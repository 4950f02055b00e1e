package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voxidesk/voxidesk/internal/convo"
	"github.com/voxidesk/voxidesk/internal/search"
	"github.com/voxidesk/voxidesk/internal/settings"
)

const (
	// contextResultLimit caps how many retrieved documents ground a turn.
	contextResultLimit = 3
	// maxContextTokens bounds injected context; lowest-scoring documents
	// are dropped first.
	maxContextTokens = 4000

	apologyMessage = "I'm sorry, I ran into a problem answering that. Please try again."
)

// Streamer produces the backend response stream.
type Streamer interface {
	Stream(ctx context.Context, messages []Message) (<-chan Event, error)
}

// Retriever grounds answers in the document corpus.
type Retriever interface {
	Search(ctx context.Context, query string, limit int, connectorID, ownerUserID string) (search.Response, error)
}

// Voice plays the finished answer aloud.
type Voice interface {
	Speak(ctx context.Context, text, voice string) error
}

// StreamParams carries one turn's input and callbacks. OnDone and OnError
// are mutually exclusive and each fires at most once per call.
type StreamParams struct {
	Messages     []Message
	OwnerUserID  string
	Conversation *convo.Conversation // optional; completed turn appended
	OnDelta      func(delta string)
	OnDone       func(full string)
	OnError      func(err error)
}

// Orchestrator runs a complete assistant turn around the backend stream.
type Orchestrator struct {
	backend   Streamer
	retriever Retriever
	speaker   Voice           // optional
	settings  *settings.Store // optional; controls voice output
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. retriever, speaker, and
// voiceSettings may each be nil to disable grounding or speech.
func NewOrchestrator(backend Streamer, retriever Retriever, speaker Voice, voiceSettings *settings.Store) *Orchestrator {
	return &Orchestrator{
		backend:   backend,
		retriever: retriever,
		speaker:   speaker,
		settings:  voiceSettings,
		logger:    slog.Default(),
	}
}

// StreamChat grounds the latest user message in retrieved context, streams
// the backend response through OnDelta, and finishes the turn: persist the
// assistant message, then speak it if voice output is enabled. Stream
// failure appends an apology turn and fires OnError instead.
func (o *Orchestrator) StreamChat(ctx context.Context, params StreamParams) {
	terminalFired := false
	fail := func(err error) {
		if terminalFired {
			return
		}
		terminalFired = true
		o.appendTurn(ctx, params.Conversation, apologyMessage)
		if params.OnError != nil {
			params.OnError(err)
		}
	}

	messages := o.withContext(ctx, params)

	events, err := o.backend.Stream(ctx, messages)
	if err != nil {
		fail(err)
		return
	}

	var full strings.Builder
	for ev := range events {
		switch ev.Kind {
		case EventDelta:
			full.WriteString(ev.Delta)
			if params.OnDelta != nil {
				params.OnDelta(ev.Delta)
			}
		case EventError:
			fail(ev.Err)
			return
		case EventDone:
			if terminalFired {
				return
			}
			terminalFired = true
			text := full.String()
			o.appendTurn(ctx, params.Conversation, text)
			o.speak(ctx, text)
			if params.OnDone != nil {
				params.OnDone(text)
			}
			return
		}
	}

	// Channel closed without a terminal event; the client contract makes
	// this unreachable, but fail safe.
	fail(fmt.Errorf("chat stream ended without completion"))
}

// withContext composes the outbound message list: a system message built
// from retrieved documents (when any are found), then the caller's turns.
// Retrieval failure degrades to an ungrounded prompt.
func (o *Orchestrator) withContext(ctx context.Context, params StreamParams) []Message {
	if o.retriever == nil {
		return params.Messages
	}
	query := latestUserContent(params.Messages)
	if query == "" {
		return params.Messages
	}

	resp, err := o.retriever.Search(ctx, query, contextResultLimit, "", params.OwnerUserID)
	if err != nil {
		o.logger.Warn("context retrieval failed, answering ungrounded", "error", err)
		return params.Messages
	}
	prompt := buildSystemPrompt(resp.Results)
	if prompt == "" {
		return params.Messages
	}

	return append([]Message{{Role: "system", Content: prompt}}, params.Messages...)
}

func (o *Orchestrator) appendTurn(ctx context.Context, conv *convo.Conversation, text string) {
	if conv == nil || text == "" {
		return
	}
	if _, err := conv.Append(ctx, convo.RoleAssistant, text); err != nil {
		o.logger.Warn("failed to persist assistant turn", "error", err)
	}
}

func (o *Orchestrator) speak(ctx context.Context, text string) {
	if o.speaker == nil || text == "" {
		return
	}

	voice := ""
	if o.settings != nil {
		v, err := o.settings.Load()
		if err != nil {
			o.logger.Warn("failed to load voice settings", "error", err)
		} else if !v.OutputEnabled {
			return
		} else {
			voice = v.SelectedVoice
		}
	}

	if err := o.speaker.Speak(ctx, SpeechText(text), voice); err != nil {
		o.logger.Warn("speech playback failed", "error", err)
	}
}

func latestUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// buildSystemPrompt renders retrieved documents into a grounding system
// message, best-scored first, dropping entries that overflow the token
// budget.
func buildSystemPrompt(results []search.Result) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("You are a helpful assistant. Ground your answer in the knowledge below when relevant.\n\n[Knowledge Base]\n")
	remaining := maxContextTokens - estimateTokens(sb.String())

	wrote := false
	for _, r := range results {
		entry := fmt.Sprintf("(Source: %s/%s) %s\n%s\n\n", r.Document.ConnectorID, r.Document.SourceType, r.Document.Title, r.Document.Content)
		tokens := estimateTokens(entry)
		if tokens > remaining {
			continue
		}
		sb.WriteString(entry)
		remaining -= tokens
		wrote = true
	}
	if !wrote {
		return ""
	}
	return strings.TrimSpace(sb.String())
}

// estimateTokens uses the rough 4-chars-per-token heuristic.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}
