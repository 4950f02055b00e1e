// Package voice coordinates continuous speech recognition and synthesized
// playback for one assistant session. The recognition engine itself is an
// injected capability; this package owns the state machine around it —
// echo suppression while the assistant speaks, and automatic restart when
// the engine stops for recoverable reasons.
package voice

import "errors"

// Fatal recognizer errors. Anything else is treated as recoverable and
// triggers an automatic restart.
var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrAborted          = errors.New("recognition aborted")
)

// Events are the callbacks a Recognizer fires. OnResult delivers transcript
// fragments; final marks a finalized chunk (interim fragments carry
// final=false and are display-only). OnEnd fires whenever the engine stops,
// whether asked to or not.
type Events struct {
	OnResult func(text string, final bool)
	OnError  func(err error)
	OnEnd    func()
}

// Recognizer is the speech recognition capability a platform backend
// provides. Start begins continuous, interim-enabled recognition and fires
// events until Stop is called or the engine dies on its own.
type Recognizer interface {
	Start(events Events) error
	Stop()
}

// fatalError reports whether err ends the session rather than being
// retried.
func fatalError(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrAborted)
}
