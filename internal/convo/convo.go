// Package convo holds per-session conversation state: the append-only
// message log (persisted), and the in-memory cross-turn context the
// assistant uses to resolve references like "that article" or to walk a
// multi-step incident-creation flow.
package convo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxidesk/voxidesk/internal/storage"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// IncidentStep tracks where a multi-turn incident-creation flow stands.
type IncidentStep string

const (
	StepNone        IncidentStep = ""
	StepSummary     IncidentStep = "summary"
	StepDescription IncidentStep = "description"
	StepUrgency     IncidentStep = "urgency"
	StepConfirm     IncidentStep = "confirm"
)

// IncidentDraft holds the partial fields gathered so far.
type IncidentDraft struct {
	Step             IncidentStep
	ShortDescription string
	Description      string
	Urgency          string
}

// Context is the in-memory cross-turn state for one session. It is mutated
// by shallow merge and replaced wholesale only on Reset.
type Context struct {
	LastArticleID  string
	LastIncidentID string
	Incident       IncidentDraft
}

// ContextUpdate is a partial update; nil fields are left untouched.
type ContextUpdate struct {
	LastArticleID  *string
	LastIncidentID *string
	Incident       *IncidentDraft
}

// Message is one conversation turn. Synthetic messages (the client-side
// welcome greeting) live only in memory: they are never persisted and never
// sent to the model.
type Message struct {
	ID        string
	Role      string
	Content   string
	Synthetic bool
	CreatedAt time.Time
}

// MessageStore is the persistence surface the conversation needs.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg storage.Message) error
	MessagesBySession(ctx context.Context, sessionID string) ([]storage.Message, error)
}

// Conversation is the message log plus context for one session. Safe for
// concurrent use.
type Conversation struct {
	sessionID string
	store     MessageStore

	mu       sync.Mutex
	messages []Message
	ctx      Context
}

// New creates an empty conversation for sessionID. store may be nil for
// ephemeral sessions that should not persist turns.
func New(sessionID string, store MessageStore) *Conversation {
	return &Conversation{sessionID: sessionID, store: store}
}

// Load restores previously persisted turns for this session.
func (c *Conversation) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	rows, err := c.store.MessagesBySession(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("loading conversation %s: %w", c.sessionID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = c.messages[:0]
	for _, m := range rows {
		c.messages = append(c.messages, Message{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return nil
}

// Welcome appends a synthetic greeting. It shows up in Messages but never in
// History and is never written to the store.
func (c *Conversation) Welcome(content string) Message {
	msg := Message{
		ID:        uuid.New().String(),
		Role:      RoleAssistant,
		Content:   content,
		Synthetic: true,
		CreatedAt: time.Now().UTC(),
	}
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	return msg
}

// Append records a turn and persists it.
func (c *Conversation) Append(ctx context.Context, role, content string) (Message, error) {
	msg := Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	if c.store != nil {
		err := c.store.SaveMessage(ctx, storage.Message{
			ID:        msg.ID,
			SessionID: c.sessionID,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		})
		if err != nil {
			return Message{}, fmt.Errorf("saving message: %w", err)
		}
	}

	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	return msg, nil
}

// Messages returns the full display log, synthetic welcome included.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// History returns the turns eligible for model context: everything except
// synthetic messages, in insertion order.
func (c *Conversation) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.messages))
	for _, m := range c.messages {
		if m.Synthetic {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Context returns a copy of the current cross-turn context.
func (c *Conversation) Context() Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// Merge applies a shallow partial update to the context.
func (c *Conversation) Merge(update ContextUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if update.LastArticleID != nil {
		c.ctx.LastArticleID = *update.LastArticleID
	}
	if update.LastIncidentID != nil {
		c.ctx.LastIncidentID = *update.LastIncidentID
	}
	if update.Incident != nil {
		c.ctx.Incident = *update.Incident
	}
}

// Reset replaces the context wholesale with the zero value. The message log
// is untouched.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = Context{}
}
