package session

import (
	"log/slog"
	"sync"
)

// Store maps participant ids to their single in-progress session. All
// mutation goes through Transition, which serializes the
// read-compute-write of a state machine step per participant; two
// concurrent events for the same participant cannot interleave.
type Store struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger, sessions: make(map[string]*Session)}
}

// Transition runs fn with exclusive access to the participant's session
// slot. fn receives the current session (nil when none) and returns the
// session to keep; returning nil destroys it. fn must not block — side
// effects such as sending messages belong after Transition returns.
func (st *Store) Transition(participantID string, fn func(cur *Session) *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()

	next := fn(st.sessions[participantID])
	if next == nil {
		if _, had := st.sessions[participantID]; had {
			st.logger.Debug("session destroyed", "participant", participantID)
		}
		delete(st.sessions, participantID)
		return
	}
	st.sessions[participantID] = next
}

// Get returns a copy of the participant's session, if any.
func (st *Store) Get(participantID string) (Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[participantID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Active reports the number of in-progress sessions.
func (st *Store) Active() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
