package usecase

import (
	"sync"

	"revpilot/internal/domain"
)

// ConversationLog is the append-only, insertion-ordered list of turns.
type ConversationLog struct {
	mu    sync.RWMutex
	turns []domain.Turn
}

func NewConversationLog() *ConversationLog {
	return &ConversationLog{}
}

func (l *ConversationLog) Append(turn domain.Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, turn.Clone())
}

// Snapshot returns a copy of every turn in insertion order.
func (l *ConversationLog) Snapshot() []domain.Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Turn, len(l.turns))
	for i, turn := range l.turns {
		out[i] = turn.Clone()
	}
	return out
}

func (l *ConversationLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Last returns the most recent turn authored by role.
func (l *ConversationLog) Last(role domain.Role) (domain.Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.turns) - 1; i >= 0; i-- {
		if l.turns[i].Role == role {
			return l.turns[i].Clone(), true
		}
	}
	return domain.Turn{}, false
}
