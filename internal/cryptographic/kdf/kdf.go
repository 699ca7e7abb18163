package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	SaltSize = 16
	KeySize  = 32
)

// Argon2id parameters for PasswordHash.
var (
	ArgonTime    uint32 = 2
	ArgonMemory  uint32 = 64 * 1024
	ArgonThreads uint8  = 2
)

// HKDF fills buffer with key material derived from secret using SHA-256.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// PasswordHash stretches secret with Argon2id over an all-zero salt. Both
// peers must derive the same key from the shared secret alone.
func PasswordHash(secret []byte) *[KeySize]byte {
	var salt [SaltSize]byte
	derived := argon2.IDKey(secret, salt[:], ArgonTime, ArgonMemory, ArgonThreads, KeySize)

	var key [KeySize]byte
	copy(key[:], derived)
	for i := range derived {
		derived[i] = 0
	}
	return &key
}
