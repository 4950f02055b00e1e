package convo

import (
	"context"
	"testing"

	"github.com/voxidesk/voxidesk/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWelcomeExcludedFromHistoryAndPersistence(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	c := New("session-1", s)

	c.Welcome("Hi! How can I help today?")
	if _, err := c.Append(ctx, RoleUser, "reset my password"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := c.Append(ctx, RoleAssistant, "Sure, open the account portal."); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if got := len(c.Messages()); got != 3 {
		t.Errorf("display log has %d messages, want 3 (welcome included)", got)
	}

	hist := c.History()
	if len(hist) != 2 {
		t.Fatalf("history has %d messages, want 2 (welcome excluded)", len(hist))
	}
	if hist[0].Role != RoleUser || hist[1].Role != RoleAssistant {
		t.Errorf("history order wrong: %+v", hist)
	}

	rows, err := s.MessagesBySession(ctx, "session-1")
	if err != nil {
		t.Fatalf("MessagesBySession: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("persisted %d messages, want 2 (welcome never stored)", len(rows))
	}
}

func TestLoadRestoresPersistedTurns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first := New("session-2", s)
	if _, err := first.Append(ctx, RoleUser, "hello"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := first.Append(ctx, RoleAssistant, "hello back"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	restored := New("session-2", s)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	hist := restored.History()
	if len(hist) != 2 {
		t.Fatalf("restored %d messages, want 2", len(hist))
	}
	if hist[0].Content != "hello" || hist[1].Content != "hello back" {
		t.Errorf("restored history out of order: %+v", hist)
	}
}

func TestMergeIsShallow(t *testing.T) {
	c := New("session-3", nil)

	article := "KB0001"
	c.Merge(ContextUpdate{LastArticleID: &article})
	c.Merge(ContextUpdate{Incident: &IncidentDraft{
		Step:             StepDescription,
		ShortDescription: "printer on fire",
	}})

	got := c.Context()
	if got.LastArticleID != "KB0001" {
		t.Errorf("LastArticleID = %q, untouched fields must survive merges", got.LastArticleID)
	}
	if got.Incident.Step != StepDescription || got.Incident.ShortDescription != "printer on fire" {
		t.Errorf("Incident = %+v", got.Incident)
	}

	// A merge that only touches the incident must not clear the article ref.
	c.Merge(ContextUpdate{Incident: &IncidentDraft{Step: StepUrgency}})
	got = c.Context()
	if got.LastArticleID != "KB0001" {
		t.Errorf("merge clobbered LastArticleID: %q", got.LastArticleID)
	}
	if got.Incident.Step != StepUrgency {
		t.Errorf("Incident.Step = %q, want %q", got.Incident.Step, StepUrgency)
	}
}

func TestResetReplacesContextWholesale(t *testing.T) {
	ctx := context.Background()
	c := New("session-4", nil)

	article := "KB0002"
	c.Merge(ContextUpdate{
		LastArticleID: &article,
		Incident:      &IncidentDraft{Step: StepConfirm, Urgency: "high"},
	})
	if _, err := c.Append(ctx, RoleUser, "never mind"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	c.Reset()

	if got := c.Context(); got != (Context{}) {
		t.Errorf("context after reset = %+v, want zero value", got)
	}
	if len(c.Messages()) != 1 {
		t.Error("reset must not discard the message log")
	}
}
