package encryption

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	NonceSize = 24
)

var ErrDecrypt = errors.New("encryption: message authentication failed")

func NewKey() (*[KeySize]byte, error) {
	var key [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, fmt.Errorf("rand.Read key: %w", err)
	}
	return &key, nil
}

func newNonce() (*[NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("rand.Read nonce: %w", err)
	}
	return &nonce, nil
}

// Seal returns nonce || secretbox(plaintext).
func Seal(key *[KeySize]byte, plaintext []byte) ([]byte, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, nonce, key), nil
}

func Open(key *[KeySize]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < NonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("ciphertext too short: %w", ErrDecrypt)
	}
	var nonce [NonceSize]byte
	copy(nonce[:], sealed[:NonceSize])

	plain, ok := secretbox.Open(nil, sealed[NonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// KeyFromBytes copies b into a fixed size key.
func KeyFromBytes(b []byte) (*[KeySize]byte, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("invalid key length %d", len(b))
	}
	var key [KeySize]byte
	copy(key[:], b)
	return &key, nil
}
