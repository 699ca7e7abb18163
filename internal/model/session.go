package model

import "time"

type SessionState int

const (
	StateNone SessionState = iota
	StateKeyExchange
	StateChatBeginMessage
	StateChat
	StateAborted
)

func (s SessionState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateKeyExchange:
		return "keyExchange"
	case StateChatBeginMessage:
		return "chatBeginMessage"
	case StateChat:
		return "chat"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// RPC events exchanged between peers.
const (
	RPCText    = "text"
	RPCConfirm = "confirm"
	RPCTyping  = "typing"
	RPCPing    = "ping"
	RPCPong    = "pong"
)

type (
	TextData struct {
		Predecessor         *PredecessorReference `json:"predecessor,omitempty"`
		SelfDestructTimeout time.Duration         `json:"selfDestructTimeout,omitempty"`
		SelfDestructChat    bool                  `json:"selfDestructChat,omitempty"`
		Hash                []byte                `json:"hash,omitempty"`
		Key                 []byte                `json:"key,omitempty"`
		// Ciphertext carries the stored value when peers do not share a
		// persisted store.
		Ciphertext []byte `json:"ciphertext,omitempty"`
	}

	TextConfirmation struct {
		ID string `json:"id"`
	}

	ChatState struct {
		IsTyping bool `json:"isTyping"`
	}

	SessionMessageData struct {
		ID               string            `json:"id"`
		AuthorKind       AuthorKind        `json:"-"`
		Timestamp        time.Time         `json:"timestamp"`
		Text             *TextData         `json:"text,omitempty"`
		TextConfirmation *TextConfirmation `json:"textConfirmation,omitempty"`
		ChatState        *ChatState        `json:"chatState,omitempty"`
	}

	SessionMessage struct {
		Event string             `json:"event"`
		Data  SessionMessageData `json:"data"`
	}
)
