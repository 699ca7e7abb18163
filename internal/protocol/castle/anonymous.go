package castle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"castle_chat/internal/cryptographic/dh"
	"castle_chat/internal/cryptographic/encryption"
	"castle_chat/internal/cryptographic/kdf"
	"castle_chat/internal/cryptographic/secret"
	"castle_chat/internal/utils/log"
)

// AnonymousRemoteUser recovers the peer's ephemeral public key from the first
// handshake ciphertext using the shared secret both sides hold.
type AnonymousRemoteUser struct {
	// 1-slot semaphore, held for the whole resolution
	sem chan struct{}

	username   string
	incoming   <-chan []byte
	ciphertext []byte
	secret     *secret.Buffer
	publicKey  []byte
}

var _ RemoteUser = (*AnonymousRemoteUser)(nil)

// NewAnonymousRemoteUser takes ownership of sharedSecret and wipes the
// caller's copy.
func NewAnonymousRemoteUser(sharedSecret []byte, incoming <-chan []byte, username string) (*AnonymousRemoteUser, error) {
	buf, err := secret.Move(sharedSecret)
	if err != nil {
		return nil, fmt.Errorf("shared secret: %w", err)
	}
	if username == "" {
		username = "anonymous"
	}

	return &AnonymousRemoteUser{
		sem:      make(chan struct{}, 1),
		username: username,
		incoming: incoming,
		secret:   buf,
	}, nil
}

func (u *AnonymousRemoteUser) Username() string { return u.username }

func (u *AnonymousRemoteUser) Kind() AuthKind { return Anonymous }

func (u *AnonymousRemoteUser) PublicKey(ctx context.Context) ([]byte, error) {
	select {
	case u.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-u.sem }()

	if u.publicKey != nil {
		return u.publicKey, nil
	}

	if u.ciphertext == nil {
		select {
		case ct, ok := <-u.incoming:
			if !ok {
				return nil, fmt.Errorf("handshake stream closed: %w", ErrIdentityUnresolvable)
			}
			u.ciphertext = ct
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !u.secret.Alive() {
		return nil, fmt.Errorf("shared secret unavailable: %w", ErrIdentityUnresolvable)
	}

	key := kdf.PasswordHash(u.secret.Bytes())
	pub, err := encryption.Open(key, u.ciphertext)
	secret.Wipe(key[:])
	if err != nil {
		log.Warn("anonymous handshake could not be opened", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrIdentityUnresolvable, err)
	}
	if len(pub) != dh.KeySize {
		return nil, fmt.Errorf("%w: public key length %d", ErrIdentityUnresolvable, len(pub))
	}

	u.secret.Destroy()
	u.ciphertext = nil
	u.incoming = nil
	u.publicKey = pub
	return pub, nil
}

// Resolved reports whether the secret has been consumed.
func (u *AnonymousRemoteUser) Resolved() bool {
	select {
	case u.sem <- struct{}{}:
		defer func() { <-u.sem }()
		return u.publicKey != nil && !u.secret.Alive() && u.ciphertext == nil
	default:
		return false
	}
}
