package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Synthesizer turns text into playable audio. The remote HTTP backend and
// the local fallback both satisfy it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Player plays a synthesized clip to completion or until ctx is cancelled.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// pauser is the slice of Session the speaker needs for echo suppression.
type pauser interface {
	Pause()
	Resume()
}

// Speaker plays assistant speech. At most one utterance plays at a time:
// starting a new one cancels any in-flight synthesis fetch and playback.
// Recognition is paused for the duration of playback so the microphone does
// not pick the assistant's voice back up.
type Speaker struct {
	primary  Synthesizer
	fallback Synthesizer // optional local engine used when primary fails
	player   Player
	session  pauser
	logger   *slog.Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	generation uint64 // bumped per utterance; only the newest may resume
}

// NewSpeaker creates a Speaker. fallback may be nil.
func NewSpeaker(primary, fallback Synthesizer, player Player, session pauser) *Speaker {
	return &Speaker{
		primary:  primary,
		fallback: fallback,
		player:   player,
		session:  session,
		logger:   slog.Default(),
	}
}

// Speak synthesizes and plays text with the given voice, cancelling any
// utterance already in flight. Returns nil when playback finished or was
// superseded by a newer utterance.
func (s *Speaker) Speak(ctx context.Context, text, voice string) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.generation++
	gen := s.generation
	// Pause inside the critical section so a superseding utterance cannot
	// slip between the generation bump and the pause.
	s.session.Pause()
	s.mu.Unlock()
	defer cancel()

	// A superseded utterance unwinding late must not resume recognition
	// while the utterance that replaced it is still playing. The resume
	// belongs to whichever utterance is newest when the unwind runs.
	defer func() {
		s.mu.Lock()
		if gen == s.generation {
			s.session.Resume()
		}
		s.mu.Unlock()
	}()

	audio, err := s.primary.Synthesize(ctx, text, voice)
	if err != nil {
		if ctx.Err() != nil {
			return nil // superseded
		}
		if s.fallback == nil {
			return fmt.Errorf("synthesizing speech: %w", err)
		}
		s.logger.Warn("remote synthesis failed, using fallback", "error", err)
		audio, err = s.fallback.Synthesize(ctx, text, voice)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fallback synthesis: %w", err)
		}
	}

	if err := s.player.Play(ctx, audio); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("playing speech: %w", err)
	}
	return nil
}

// Stop cancels any in-flight synthesis or playback.
func (s *Speaker) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

// HTTPSynthesizer fetches speech audio from an OpenAI-compatible
// /audio/speech endpoint.
type HTTPSynthesizer struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPSynthesizer creates a client for baseURL (no trailing slash
// required).
func NewHTTPSynthesizer(baseURL, apiKey, model string) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type speechRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice,omitempty"`
}

// Synthesize posts text and returns the raw audio bytes.
func (h *HTTPSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if h.apiKey == "" {
		return nil, fmt.Errorf("speech API key not configured")
	}

	body, err := json.Marshal(speechRequest{Model: h.model, Input: text, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("marshalling speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling speech API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("speech API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading speech audio: %w", err)
	}
	return audio, nil
}
