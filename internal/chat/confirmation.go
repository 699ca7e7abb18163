package chat

import (
	"errors"
	"sync"

	"castle_chat/internal/model"
)

var ErrStaleConfirmation = errors.New("chat: stale confirmation")

// ConfirmationTracker holds the highest message index the peer has
// acknowledged. Updates go through compare-and-swap on a version counter.
type ConfirmationTracker struct {
	mu      sync.Mutex
	last    model.LastConfirmed
	version uint64
}

func NewConfirmationTracker() *ConfirmationTracker {
	return &ConfirmationTracker{last: model.LastConfirmed{Index: -1}}
}

func (t *ConfirmationTracker) Load() (model.LastConfirmed, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.version
}

func (t *ConfirmationTracker) CompareAndSwap(version uint64, next model.LastConfirmed) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.version != version {
		return false
	}
	t.last = next
	t.version++
	return true
}

// Advance raises the watermark to next. A confirmation for the current id or
// for an index that is not higher returns ErrStaleConfirmation.
func (t *ConfirmationTracker) Advance(next model.LastConfirmed) error {
	for {
		cur, version := t.Load()
		if next.ID == cur.ID || next.Index <= cur.Index {
			return ErrStaleConfirmation
		}
		if t.CompareAndSwap(version, next) {
			return nil
		}
	}
}

// Removed re-bases the watermark after the message at index left the list.
// prev is the id now directly before index, or empty when index was 0.
func (t *ConfirmationTracker) Removed(index int, prev string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case index < t.last.Index:
		t.last.Index--
	case index == t.last.Index:
		t.last = model.LastConfirmed{ID: prev, Index: index - 1}
	default:
		return
	}
	t.version++
}

// Inserted re-bases the watermark after n messages were put at the front.
func (t *ConfirmationTracker) Inserted(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 || t.last.Index < 0 {
		return
	}
	t.last.Index += n
	t.version++
}

// Reset drops the watermark back to an empty list.
func (t *ConfirmationTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = model.LastConfirmed{Index: -1}
	t.version++
}
