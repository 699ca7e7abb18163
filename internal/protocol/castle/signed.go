package castle

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"castle_chat/internal/cryptographic/dh"
	"castle_chat/internal/cryptographic/signature"
	"castle_chat/internal/model"
)

// Directory looks up issued certificates. GetByName returns nil, nil when
// the user is unknown.
type Directory interface {
	GetByName(ctx context.Context, name string) (*model.Certificate, error)
}

type SignedRemoteUser struct {
	mu        sync.Mutex
	username  string
	directory Directory
	root      ed25519.PublicKey
	publicKey []byte
}

var _ RemoteUser = (*SignedRemoteUser)(nil)

func NewSignedRemoteUser(username string, directory Directory, root ed25519.PublicKey) *SignedRemoteUser {
	return &SignedRemoteUser{
		username:  username,
		directory: directory,
		root:      root,
	}
}

func (u *SignedRemoteUser) Username() string { return u.username }

func (u *SignedRemoteUser) Kind() AuthKind { return Signed }

func (u *SignedRemoteUser) PublicKey(ctx context.Context) ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.publicKey != nil {
		return u.publicKey, nil
	}

	cert, err := u.directory.GetByName(ctx, u.username)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityUnresolvable, err)
	}
	if cert == nil {
		return nil, fmt.Errorf("%w: no certificate for %q", ErrIdentityUnresolvable, u.username)
	}
	if cert.Username != u.username {
		return nil, fmt.Errorf("%w: certificate issued to %q", ErrIdentityUnresolvable, cert.Username)
	}
	if err := signature.VerifyCertificate(u.root, cert); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityUnresolvable, err)
	}
	if len(cert.PublicKey) != dh.KeySize {
		return nil, fmt.Errorf("%w: public key length %d", ErrIdentityUnresolvable, len(cert.PublicKey))
	}

	u.publicKey = cert.PublicKey
	return u.publicKey, nil
}
