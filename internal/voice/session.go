package voice

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// restartDelay is how long the session waits before restarting recognition
// after a recoverable error or an unexpected engine stop. The engine stops
// silently on many minor errors and network hiccups, so this restart path
// is the normal case, not an exception.
const restartDelay = 100 * time.Millisecond

// Session drives one voice conversation: Idle until Start, Listening while
// the recognizer runs, Paused while assistant audio plays. Safe for
// concurrent use.
type Session struct {
	recognizer Recognizer
	logger     *slog.Logger

	// schedule defers fn by d; swapped out in tests.
	schedule func(d time.Duration, fn func())

	// OnTranscript receives each finalized fragment; OnFatal receives the
	// error that ended the session without restart. Both optional, set
	// before Start.
	OnTranscript func(text string)
	OnFatal      func(err error)

	mu         sync.Mutex
	active     bool
	paused     bool
	transcript strings.Builder
}

// NewSession creates an idle session around the given recognizer.
func NewSession(recognizer Recognizer) *Session {
	return &Session{
		recognizer: recognizer,
		logger:     slog.Default(),
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
}

// Start moves an idle session to listening, clearing any stale transcript.
// Starting an already active session is a no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = true
	s.paused = false
	s.transcript.Reset()
	s.mu.Unlock()

	if err := s.recognizer.Start(s.events()); err != nil {
		// Roll back so the failed session does not look active with no
		// recognition running behind it.
		s.mu.Lock()
		s.active = false
		s.paused = false
		s.mu.Unlock()
		return err
	}
	return nil
}

// End stops recognition and returns the session to idle. Idempotent: ending
// an already idle session is a no-op.
func (s *Session) End() {
	s.mu.Lock()
	wasActive := s.active
	s.active = false
	s.paused = false
	s.mu.Unlock()

	if wasActive {
		s.recognizer.Stop()
	}
}

// Pause suspends recognition while assistant audio plays so the engine does
// not transcribe the assistant's own voice. The session stays active.
func (s *Session) Pause() {
	s.mu.Lock()
	shouldStop := s.active && !s.paused
	if shouldStop {
		s.paused = true
	}
	s.mu.Unlock()

	if shouldStop {
		s.recognizer.Stop()
	}
}

// Resume restarts recognition after playback, but only if the session is
// still active.
func (s *Session) Resume() {
	s.mu.Lock()
	shouldStart := s.active && s.paused
	if shouldStart {
		s.paused = false
	}
	s.mu.Unlock()

	if shouldStart {
		if err := s.recognizer.Start(s.events()); err != nil {
			s.handleError(err)
		}
	}
}

// Active reports whether the session is between Start and End.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Transcript returns the finalized text accumulated since Start.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.String()
}

func (s *Session) events() Events {
	return Events{
		OnResult: s.handleResult,
		OnError:  s.handleError,
		OnEnd:    s.handleEnd,
	}
}

func (s *Session) handleResult(text string, final bool) {
	if !final {
		return
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	if s.transcript.Len() > 0 {
		s.transcript.WriteByte(' ')
	}
	s.transcript.WriteString(text)
	notify := s.OnTranscript
	s.mu.Unlock()

	if notify != nil {
		notify(text)
	}
}

func (s *Session) handleError(err error) {
	if fatalError(err) {
		s.mu.Lock()
		wasActive := s.active
		s.active = false
		s.paused = false
		notify := s.OnFatal
		s.mu.Unlock()

		if wasActive {
			s.recognizer.Stop()
			if notify != nil {
				notify(err)
			}
		}
		return
	}

	s.logger.Debug("recoverable recognition error, scheduling restart", "error", err)
	s.scheduleRestart()
}

// handleEnd fires whenever the engine stops. A stop we did not ask for
// while listening is treated exactly like a transient error.
func (s *Session) handleEnd() {
	s.mu.Lock()
	unexpected := s.active && !s.paused
	s.mu.Unlock()

	if unexpected {
		s.scheduleRestart()
	}
}

// scheduleRestart defers a recognition restart. The live flags are checked
// at fire time, not schedule time: the user may end or pause the session
// during the delay window, and a stale closure must not resurrect it.
func (s *Session) scheduleRestart() {
	s.schedule(restartDelay, func() {
		s.mu.Lock()
		ok := s.active && !s.paused
		s.mu.Unlock()
		if !ok {
			return
		}
		if err := s.recognizer.Start(s.events()); err != nil {
			s.handleError(err)
		}
	})
}
