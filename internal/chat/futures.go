package chat

import (
	"sync"

	"go.uber.org/zap"

	"castle_chat/internal/model"
	"castle_chat/internal/utils/log"
)

type futureEntry struct {
	predecessor string
	id          string
}

// futureBuffer holds messages whose predecessor has not been verified yet,
// keyed by predecessor id in arrival order. It is bounded; the oldest entry
// is evicted on overflow.
type futureBuffer struct {
	mu      sync.Mutex
	max     int
	order   []futureEntry
	pending map[string][]model.SessionMessageData
}

func newFutureBuffer(max int) *futureBuffer {
	if max <= 0 {
		max = 1000
	}
	return &futureBuffer{
		max:     max,
		pending: make(map[string][]model.SessionMessageData),
	}
}

// Add queues d behind predecessor and returns the ids evicted to make room.
func (b *futureBuffer) Add(predecessor string, d model.SessionMessageData) (evicted []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.order) >= b.max {
		oldest := b.order[0]
		b.order = b.order[1:]
		b.drop(oldest)
		evicted = append(evicted, oldest.id)
		log.Warn("future message buffer full, evicting oldest",
			zap.String("id", oldest.id), zap.String("predecessor", oldest.predecessor))
	}

	b.order = append(b.order, futureEntry{predecessor: predecessor, id: d.ID})
	b.pending[predecessor] = append(b.pending[predecessor], d)
	return evicted
}

func (b *futureBuffer) drop(e futureEntry) {
	waiting := b.pending[e.predecessor]
	for i, d := range waiting {
		if d.ID == e.id {
			waiting = append(waiting[:i:i], waiting[i+1:]...)
			break
		}
	}
	if len(waiting) == 0 {
		delete(b.pending, e.predecessor)
		return
	}
	b.pending[e.predecessor] = waiting
}

// Take removes and returns the messages waiting on id.
func (b *futureBuffer) Take(id string) []model.SessionMessageData {
	b.mu.Lock()
	defer b.mu.Unlock()

	waiting, ok := b.pending[id]
	if !ok {
		return nil
	}
	delete(b.pending, id)

	kept := b.order[:0]
	for _, e := range b.order {
		if e.predecessor != id {
			kept = append(kept, e)
		}
	}
	b.order = kept
	return waiting
}

func (b *futureBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}
