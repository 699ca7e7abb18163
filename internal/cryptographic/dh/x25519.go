package dh

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const KeySize = 32

// NewX25519KeyPair generates an ephemeral box key pair.
func NewX25519KeyPair() (pub, priv *[KeySize]byte, err error) {
	pub, priv, err = box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return pub, priv, nil
}

// PublicFromPrivate recomputes the public half of a stored private key.
func PublicFromPrivate(priv *[KeySize]byte) *[KeySize]byte {
	var pub [KeySize]byte
	curve25519.ScalarBaseMult(&pub, priv)
	return &pub
}

// SharedKey precomputes the box key between priv and the peer public key.
func SharedKey(peerPub []byte, priv *[KeySize]byte) (*[KeySize]byte, error) {
	if len(peerPub) != KeySize {
		return nil, fmt.Errorf("invalid public key length %d", len(peerPub))
	}
	var pub [KeySize]byte
	copy(pub[:], peerPub)

	var shared [KeySize]byte
	box.Precompute(&shared, &pub, priv)
	return &shared, nil
}

func Wipe(key *[KeySize]byte) {
	if key == nil {
		return
	}
	for i := range key {
		key[i] = 0
	}
}
