package chat

import (
	"time"

	"castle_chat/internal/storage"
)

type Options struct {
	// Ephemeral sessions run the begin-message phase and keep App message
	// values in the local store only.
	Ephemeral bool
	// InlineValues attaches the sealed value to outgoing text messages for
	// peers that do not share a persisted store.
	InlineValues bool

	BeginChatDelay         time.Duration
	SelfDestructWait       time.Duration
	SelfDestructSettle     time.Duration
	SelfDestructPause      time.Duration
	SelfDestructCloseGrace time.Duration
	MessageExpiryGrace     time.Duration
	TypingSettle           time.Duration
	IntroBackdate          time.Duration

	IntroMessage      string
	DisconnectMessage string

	MaxFutureMessages int

	// History, when set, receives message metadata as it is added.
	History storage.Storage
}

func DefaultOptions() Options {
	return Options{
		Ephemeral:              true,
		InlineValues:           true,
		BeginChatDelay:         3 * time.Second,
		SelfDestructWait:       1500 * time.Millisecond,
		SelfDestructSettle:     500 * time.Millisecond,
		SelfDestructPause:      time.Second,
		SelfDestructCloseGrace: 10 * time.Second,
		MessageExpiryGrace:     10 * time.Second,
		TypingSettle:           time.Second,
		IntroBackdate:          30 * time.Second,
		IntroMessage:           "You are now chatting with your friend. This conversation is end-to-end encrypted.",
		DisconnectMessage:      "This conversation has been ended.",
		MaxFutureMessages:      1000,
	}
}
