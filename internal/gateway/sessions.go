package gateway

import (
	"strings"
	"sync"
)

const maxSessionTurns = 10

type turn struct {
	userText      string
	assistantText string
}

// sessionTracker keeps a rolling window of recent turns per user. The
// rendered transcript is what the extraction pipeline analyzes, so it needs
// both sides of the exchange.
type sessionTracker struct {
	mu       sync.Mutex
	sessions map[string][]turn
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{sessions: make(map[string][]turn)}
}

// AppendTurn records a completed exchange and returns the current transcript
// for the user.
func (s *sessionTracker) AppendTurn(userID, userText, assistantText string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.sessions[userID], turn{userText: userText, assistantText: assistantText})
	if len(turns) > maxSessionTurns {
		turns = turns[len(turns)-maxSessionTurns:]
	}
	s.sessions[userID] = turns

	return renderTranscript(turns)
}

func (s *sessionTracker) Forget(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

func renderTranscript(turns []turn) string {
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("user: ")
		sb.WriteString(t.userText)
		if strings.TrimSpace(t.assistantText) != "" {
			sb.WriteString("\nassistant: ")
			sb.WriteString(t.assistantText)
		}
	}
	return sb.String()
}
