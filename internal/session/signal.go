package session

import "sync"

// Signal is a one-shot broadcast.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
