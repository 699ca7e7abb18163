package castle

import (
	"fmt"
	"sync"

	"castle_chat/internal/cryptographic/dh"
	"castle_chat/internal/cryptographic/encryption"
	"castle_chat/internal/cryptographic/kdf"
	"castle_chat/internal/cryptographic/secret"
)

// LocalUser holds this side's box key pair for one session.
type LocalUser struct {
	mu   sync.Mutex
	pub  *[dh.KeySize]byte
	priv *[dh.KeySize]byte
}

func NewLocalUser() (*LocalUser, error) {
	pub, priv, err := dh.NewX25519KeyPair()
	if err != nil {
		return nil, err
	}
	return &LocalUser{pub: pub, priv: priv}, nil
}

// LocalUserFromKey wraps a long-term private key registered in the directory.
func LocalUserFromKey(priv []byte) (*LocalUser, error) {
	k, err := encryption.KeyFromBytes(priv)
	if err != nil {
		return nil, err
	}
	return &LocalUser{pub: dh.PublicFromPrivate(k), priv: k}, nil
}

func (l *LocalUser) PublicKey() []byte {
	return append([]byte(nil), l.pub[:]...)
}

func (l *LocalUser) SharedKey(remote []byte) (*[dh.KeySize]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.priv == nil {
		return nil, fmt.Errorf("local key destroyed")
	}
	return dh.SharedKey(remote, l.priv)
}

func (l *LocalUser) Destroy() {
	l.mu.Lock()
	defer l.mu.Unlock()

	dh.Wipe(l.priv)
	l.priv = nil
}

// SealPublicKey produces the anonymous handshake payload: the local public
// key sealed under the password hash of the shared secret.
func SealPublicKey(sharedSecret []byte, local *LocalUser) ([]byte, error) {
	key := kdf.PasswordHash(sharedSecret)
	defer secret.Wipe(key[:])

	return encryption.Seal(key, local.PublicKey())
}
