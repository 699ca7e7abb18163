package model

import "time"

type FrameKind string

const (
	FrameHandshake FrameKind = "handshake"
	FrameMessage   FrameKind = "message"
	FrameNotFound  FrameKind = "notfound"
	FrameClose     FrameKind = "close"
)

type (
	// Frame is the unit the relay forwards between the two peers of a channel.
	Frame struct {
		Kind    FrameKind `json:"kind"`
		Payload []byte    `json:"payload,omitempty"`
	}

	Certificate struct {
		Username  string    `json:"username" bson:"username"`
		PublicKey []byte    `json:"public_key" bson:"public_key"`
		IssuedAt  time.Time `json:"issued_at" bson:"issued_at"`
		Signature []byte    `json:"signature" bson:"signature"`
	}
)

// SignedBytes is the byte string covered by the certificate signature.
func (c *Certificate) SignedBytes() []byte {
	b := make([]byte, 0, len(c.Username)+len(c.PublicKey)+32)
	b = append(b, "castle-certificate:"...)
	b = append(b, c.Username...)
	b = append(b, 0)
	b = append(b, c.PublicKey...)
	b = append(b, c.IssuedAt.UTC().Format(time.RFC3339)...)
	return b
}
