// Package actor implements SessionDurableActor (§4.8): a single-writer-
// per-session serialization point that also owns whatever live stream
// (WebSocket) is attached to a session, so no other component ever
// writes to that client socket directly.
package actor

import (
	"sync"
)

// StreamSink forwards incremental AI tokens to a live client. A session
// with no connected client has a nil sink.
type StreamSink interface {
	PushChunk(chunk string) error
}

// SessionActor serializes all turn operations for one sessionId. Go's
// runtime wakes blocked mutex waiters in roughly the order they
// blocked, which combined with callers acquiring the lock at the start
// of each HTTP/WS handler invocation gives the FIFO-per-session ordering
// §4.8 requires in practice; nothing here depends on strict FIFO for
// correctness, only for fairness.
type SessionActor struct {
	sessionID string

	turnMu sync.Mutex

	streamMu sync.Mutex
	stream   StreamSink
}

func newSessionActor(sessionID string) *SessionActor {
	return &SessionActor{sessionID: sessionID}
}

// Do runs fn while holding this session's turn lock. Turns for the same
// session never overlap; turns for different sessions never contend.
func (a *SessionActor) Do(fn func() error) error {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	return fn()
}

// AttachStream installs the live client sink for this session. Only one
// stream may be attached at a time; attaching a new one replaces the
// old.
func (a *SessionActor) AttachStream(sink StreamSink) {
	a.streamMu.Lock()
	defer a.streamMu.Unlock()
	a.stream = sink
}

// DetachStream removes sink if it is the one attached; otherwise it is a
// no-op.
func (a *SessionActor) DetachStream(sink StreamSink) {
	a.streamMu.Lock()
	defer a.streamMu.Unlock()
	if a.stream == sink {
		a.stream = nil
	}
}

// PushChunk forwards a token to the attached stream, if any. It is safe
// to call with no stream attached — the AI reply will simply appear
// only as the final committed Message.
func (a *SessionActor) PushChunk(chunk string) error {
	a.streamMu.Lock()
	sink := a.stream
	a.streamMu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.PushChunk(chunk)
}

// Registry hands out one SessionActor per sessionId, creating it on
// first use. On cold start (process restart) a fresh actor is created
// lazily; the engine rehydrates all state from the SessionStore on the
// next turn, exactly per §4.8's "replay nothing" cold-start contract.
type Registry struct {
	mu     sync.Mutex
	actors map[string]*SessionActor
}

func NewRegistry() *Registry {
	return &Registry{actors: map[string]*SessionActor{}}
}

func (r *Registry) Get(sessionID string) *SessionActor {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[sessionID]
	if !ok {
		a = newSessionActor(sessionID)
		r.actors[sessionID] = a
	}
	return a
}

// Forget drops the actor for sessionID, e.g. after the session is
// deleted. A subsequent Get allocates a fresh one.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actors, sessionID)
}
