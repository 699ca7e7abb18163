package chat

import (
	"context"
	"sync"

	"castle_chat/internal/model"
	"castle_chat/internal/session"
)

// StateMachine moves forward through none, keyExchange, chatBeginMessage and
// chat. Aborted can be entered from any state and is terminal.
type StateMachine struct {
	mu      sync.Mutex
	state   model.SessionState
	changed chan struct{}
}

func NewStateMachine() *StateMachine {
	return &StateMachine{changed: make(chan struct{})}
}

func (m *StateMachine) Current() model.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *StateMachine) Aborted() bool {
	return m.Current() == model.StateAborted
}

// Transition reports whether the move was allowed.
func (m *StateMachine) Transition(to model.SessionState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == model.StateAborted || to <= m.state {
		return false
	}

	m.state = to
	close(m.changed)
	m.changed = make(chan struct{})
	return true
}

// Wait blocks until the state reaches target. It fails with
// session.ErrSessionAborted if the session aborts first.
func (m *StateMachine) Wait(ctx context.Context, target model.SessionState) error {
	for {
		m.mu.Lock()
		state, changed := m.state, m.changed
		m.mu.Unlock()

		if state == model.StateAborted {
			if target == model.StateAborted {
				return nil
			}
			return session.ErrSessionAborted
		}
		if state >= target {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
