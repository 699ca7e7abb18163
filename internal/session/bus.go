package session

import (
	"context"
	"sync"
)

type Handler func(data any)

type (
	handlerEntry struct {
		id uint64
		fn Handler
	}

	// Bus is a synchronous publish/subscribe hub keyed by event name.
	Bus struct {
		mu       sync.RWMutex
		nextID   uint64
		handlers map[string][]handlerEntry
	}
)

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]handlerEntry)}
}

func (b *Bus) On(event string, fn Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[event] = append(b.handlers[event], handlerEntry{id: b.nextID, fn: fn})
	return b.nextID
}

func (b *Bus) Off(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.handlers[event]
	for i, e := range entries {
		if e.id == id {
			b.handlers[event] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(b.handlers[event]) == 0 {
		delete(b.handlers, event)
	}
}

// One waits for the next occurrence of event.
func (b *Bus) One(ctx context.Context, event string) (any, error) {
	ch := make(chan any, 1)
	id := b.On(event, func(data any) {
		select {
		case ch <- data:
		default:
		}
	})
	defer b.Off(event, id)

	select {
	case data := <-ch:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Trigger calls every handler of event in registration order on the calling
// goroutine.
func (b *Bus) Trigger(event string, data any) {
	b.mu.RLock()
	entries := append([]handlerEntry(nil), b.handlers[event]...)
	b.mu.RUnlock()

	for _, e := range entries {
		e.fn(data)
	}
}

// On registers a handler that only sees payloads of type T.
func On[T any](b interface {
	On(event string, fn Handler) uint64
}, event string, fn func(T)) uint64 {
	return b.On(event, func(data any) {
		if v, ok := data.(T); ok {
			fn(v)
		}
	})
}
