package telegram

import (
	"sync"
)

// ChatState is what the bot expects as the next plain-text message of a chat.
type ChatState int

const (
	StateIdle ChatState = iota
	StateAwaitingLight
	StateAwaitingPromo
)

type StateManager struct {
	mu     sync.RWMutex
	states map[int64]ChatState
}

func NewStateManager() *StateManager {
	return &StateManager{
		states: make(map[int64]ChatState),
	}
}

func (m *StateManager) Get(chatID int64) ChatState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[chatID]
}

func (m *StateManager) Set(chatID int64, state ChatState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state == StateIdle {
		delete(m.states, chatID)
		return
	}
	m.states[chatID] = state
}

func (m *StateManager) Reset(chatID int64) {
	m.Set(chatID, StateIdle)
}
