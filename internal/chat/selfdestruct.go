package chat

import (
	"sync"
	"time"

	"castle_chat/internal/session"
)

type SelfDestructState int

const (
	SelfDestructIdle SelfDestructState = iota
	SelfDestructArmed
	SelfDestructCountingDown
	SelfDestructDestroying
	SelfDestructDestroyed
)

func (s SelfDestructState) String() string {
	switch s {
	case SelfDestructIdle:
		return "idle"
	case SelfDestructArmed:
		return "armed"
	case SelfDestructCountingDown:
		return "countingDown"
	case SelfDestructDestroying:
		return "destroying"
	case SelfDestructDestroyed:
		return "destroyed"
	}
	return "unknown"
}

type SelfDestructController struct {
	mu      sync.Mutex
	state   SelfDestructState
	timeout time.Duration
	remote  bool
	armed   *session.Signal
}

func NewSelfDestructController() *SelfDestructController {
	return &SelfDestructController{armed: session.NewSignal()}
}

// Arm succeeds once, from idle.
func (c *SelfDestructController) Arm(timeout time.Duration, remote bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != SelfDestructIdle || timeout <= 0 {
		return false
	}
	c.state = SelfDestructArmed
	c.timeout = timeout
	c.remote = remote
	c.armed.Fire()
	return true
}

func (c *SelfDestructController) advance(to SelfDestructState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if to > c.state {
		c.state = to
	}
}

func (c *SelfDestructController) State() SelfDestructState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether the chat has been armed for self-destruction.
func (c *SelfDestructController) Active() bool {
	return c.State() != SelfDestructIdle
}

func (c *SelfDestructController) Armed() <-chan struct{} {
	return c.armed.Done()
}

func (c *SelfDestructController) Timeout() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout, c.remote
}
