// Package session provides the transport boundary of a chat: lifecycle
// signals, an event bus, named locks and the encrypted Channel.
package session

import (
	"context"
	"errors"

	"castle_chat/internal/model"
)

var (
	ErrSessionAborted = errors.New("session: aborted")
	ErrClosed         = errors.New("session: closed")
)

// Internal events.
const (
	EventBeginChat         = "beginChat"
	EventBeginChatComplete = "beginChatComplete"
	EventConnectFailure    = "connectFailure"
	EventNotFound          = "notFound"
	EventCloseChat         = "closeChat"
	EventClosed            = "closed"
)

type SendResult struct {
	// Messages are the sent messages with ids and timestamps filled in.
	Messages []model.SessionMessage
	// Confirmed is closed once the transport accepted the batch.
	Confirmed <-chan struct{}
}

type Session interface {
	Send(ctx context.Context, messages ...model.SessionMessage) (*SendResult, error)

	On(event string, fn Handler) uint64
	Off(event string, id uint64)
	One(ctx context.Context, event string) (any, error)
	Trigger(event string, data any)

	Lock(ctx context.Context, name string, fn func(ctx context.Context) error) error

	Ready() <-chan struct{}
	Connected() <-chan struct{}
	Closed() <-chan struct{}
	NotFound() <-chan struct{}

	FreezePong(frozen bool)
	Close() error
}
