package encryption

import (
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// SealShared encrypts with a key precomputed by box.Precompute.
func SealShared(sharedKey *[KeySize]byte, plaintext []byte) ([]byte, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	return box.SealAfterPrecomputation(nonce[:], plaintext, nonce, sharedKey), nil
}

func OpenShared(sharedKey *[KeySize]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < NonceSize+box.Overhead {
		return nil, fmt.Errorf("ciphertext too short: %w", ErrDecrypt)
	}
	var nonce [NonceSize]byte
	copy(nonce[:], sealed[:NonceSize])

	plain, ok := box.OpenAfterPrecomputation(nil, sealed[NonceSize:], &nonce, sharedKey)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}
