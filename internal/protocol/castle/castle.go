// Package castle resolves the public key of the remote peer of a session,
// either anonymously from a shared secret or from a signed directory
// certificate.
package castle

import (
	"context"
	"errors"
)

var ErrIdentityUnresolvable = errors.New("castle: remote identity unresolvable")

type AuthKind int

const (
	Anonymous AuthKind = iota
	Signed
)

func (k AuthKind) String() string {
	if k == Signed {
		return "signed"
	}
	return "anonymous"
}

// RemoteUser resolves the peer's box public key. PublicKey is idempotent:
// after the first success the key is cached.
type RemoteUser interface {
	PublicKey(ctx context.Context) ([]byte, error)
	Username() string
	Kind() AuthKind
}
