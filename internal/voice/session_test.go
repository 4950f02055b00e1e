package voice

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRecognizer records calls and exposes the last Events so tests can
// drive the engine.
type fakeRecognizer struct {
	starts   int
	stops    int
	events   Events
	startErr error
}

func (f *fakeRecognizer) Start(events Events) error {
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.events = events
	return nil
}

func (f *fakeRecognizer) Stop() {
	f.stops++
	// Real engines report their own stop asynchronously; fire it inline so
	// tests cover the reentrant path.
	if f.events.OnEnd != nil {
		f.events.OnEnd()
	}
}

// fakeScheduler collects deferred restarts for manual firing.
type fakeScheduler struct {
	pending []func()
}

func (f *fakeScheduler) schedule(_ time.Duration, fn func()) {
	f.pending = append(f.pending, fn)
}

func (f *fakeScheduler) fireAll() {
	fns := f.pending
	f.pending = nil
	for _, fn := range fns {
		fn()
	}
}

func newTestSession(rec *fakeRecognizer) (*Session, *fakeScheduler) {
	s := NewSession(rec)
	sched := &fakeScheduler{}
	s.schedule = sched.schedule
	return s, sched
}

func TestStartClearsStaleTranscript(t *testing.T) {
	rec := &fakeRecognizer{}
	s, _ := newTestSession(rec)

	require.NoError(t, s.Start())
	rec.events.OnResult("old words", true)
	s.End()

	require.NoError(t, s.Start())
	assert.Equal(t, "", s.Transcript(), "new session must not inherit old transcript")
}

func TestFinalResultsAccumulate(t *testing.T) {
	rec := &fakeRecognizer{}
	s, _ := newTestSession(rec)

	var fragments []string
	s.OnTranscript = func(text string) { fragments = append(fragments, text) }

	require.NoError(t, s.Start())
	rec.events.OnResult("reset my", true)
	rec.events.OnResult("password plea", false) // interim, display-only
	rec.events.OnResult("password please", true)

	assert.Equal(t, "reset my password please", s.Transcript())
	assert.Equal(t, []string{"reset my", "password please"}, fragments)
}

func TestPauseResumeRestartsExactlyOnce(t *testing.T) {
	rec := &fakeRecognizer{}
	s, sched := newTestSession(rec)

	require.NoError(t, s.Start())
	s.Pause()
	s.Resume()

	assert.Equal(t, 2, rec.starts, "initial start plus one resume")
	assert.Equal(t, 1, rec.stops)
	assert.Empty(t, sched.pending, "the stop we asked for must not schedule a restart")
	assert.True(t, s.Active())
}

func TestEndDuringPauseIsIdempotent(t *testing.T) {
	rec := &fakeRecognizer{}
	s, sched := newTestSession(rec)

	require.NoError(t, s.Start())
	s.Pause()
	s.End()

	assert.False(t, s.Active())

	// Resume and a second End after the session ended are no-ops.
	s.Resume()
	s.End()
	sched.fireAll()

	assert.Equal(t, 1, rec.starts, "nothing may restart an ended session")
}

func TestTransientErrorSchedulesRestart(t *testing.T) {
	rec := &fakeRecognizer{}
	s, sched := newTestSession(rec)

	require.NoError(t, s.Start())
	rec.events.OnError(fmt.Errorf("network hiccup"))

	require.Len(t, sched.pending, 1)
	sched.fireAll()
	assert.Equal(t, 2, rec.starts, "recoverable error restarts recognition")
	assert.True(t, s.Active())
}

func TestRestartChecksLiveFlagsAtFireTime(t *testing.T) {
	rec := &fakeRecognizer{}
	s, sched := newTestSession(rec)

	require.NoError(t, s.Start())
	rec.events.OnError(fmt.Errorf("network hiccup"))
	require.Len(t, sched.pending, 1)

	// The user ends the session inside the delay window.
	s.End()
	sched.fireAll()

	assert.Equal(t, 1, rec.starts, "stale restart closure must not resurrect an ended session")
	assert.False(t, s.Active())
}

func TestUnexpectedEndRestarts(t *testing.T) {
	rec := &fakeRecognizer{}
	s, sched := newTestSession(rec)

	require.NoError(t, s.Start())
	// Engine dies on its own with no error event.
	rec.events.OnEnd()

	require.Len(t, sched.pending, 1)
	sched.fireAll()
	assert.Equal(t, 2, rec.starts)
}

func TestFatalErrorEndsSessionWithoutRestart(t *testing.T) {
	rec := &fakeRecognizer{}
	s, sched := newTestSession(rec)

	var fatal error
	s.OnFatal = func(err error) { fatal = err }

	require.NoError(t, s.Start())
	rec.events.OnError(ErrPermissionDenied)

	assert.False(t, s.Active())
	assert.ErrorIs(t, fatal, ErrPermissionDenied)
	assert.Empty(t, sched.pending, "fatal errors are surfaced, never retried")
}

func TestStartFailureLeavesSessionIdle(t *testing.T) {
	rec := &fakeRecognizer{startErr: fmt.Errorf("microphone unavailable")}
	s, _ := newTestSession(rec)

	require.Error(t, s.Start())
	assert.False(t, s.Active(), "a session whose engine never started must not report active")

	// The failure is transient from the caller's point of view; a later
	// Start must work normally.
	rec.startErr = nil
	require.NoError(t, s.Start())
	assert.True(t, s.Active())
	assert.Equal(t, 2, rec.starts)
}

func TestStartWhileActiveIsNoOp(t *testing.T) {
	rec := &fakeRecognizer{}
	s, _ := newTestSession(rec)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.Equal(t, 1, rec.starts)
}

func TestEndWhileIdleIsNoOp(t *testing.T) {
	rec := &fakeRecognizer{}
	s, _ := newTestSession(rec)

	s.End()
	assert.Equal(t, 0, rec.stops)
}
