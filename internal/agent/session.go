package agent

import (
	"sync"

	"github.com/google/uuid"
)

// Session is the chat-scoped container: the ordered turn transcript plus
// the conversation context. Append-only except for explicit user-initiated
// clearing.
type Session struct {
	ID string

	mu    sync.Mutex
	turns []*TurnState
	convo *ConversationContext
}

func NewSession() *Session {
	return &Session{
		ID:    uuid.NewString(),
		convo: NewConversationContext(),
	}
}

// Context returns the session-owned conversation context.
func (s *Session) Context() *ConversationContext {
	return s.convo
}

func (s *Session) appendTurn(t *TurnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Index = len(s.turns)
	s.turns = append(s.turns, t)
}

// Turns returns a snapshot of the transcript.
func (s *Session) Turns() []*TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*TurnState(nil), s.turns...)
}

// TurnCount reports the number of recorded turns.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Clear drops the transcript and resets the conversation context.
func (s *Session) Clear() {
	s.mu.Lock()
	s.turns = nil
	s.mu.Unlock()
	s.convo.Reset()
}
