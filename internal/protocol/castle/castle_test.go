package castle_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"testing"
	"time"

	"castle_chat/internal/cryptographic/kdf"
	"castle_chat/internal/cryptographic/signature"
	"castle_chat/internal/model"
	"castle_chat/internal/protocol/castle"
)

func init() {
	kdf.ArgonTime = 1
	kdf.ArgonMemory = 8 * 1024
}

func TestAnonymousResolve(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bob, err := castle.NewLocalUser()
	if err != nil {
		t.Fatal(err)
	}
	payload, err := castle.SealPublicKey([]byte("correct horse"), bob)
	if err != nil {
		t.Fatal(err)
	}

	incoming := make(chan []byte, 1)
	incoming <- payload

	shared := []byte("correct horse")
	remote, err := castle.NewAnonymousRemoteUser(shared, incoming, "")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(shared, make([]byte, len(shared))) {
		t.Fatal("caller copy of the shared secret was not wiped")
	}
	if remote.Kind() != castle.Anonymous {
		t.Fatalf("kind %v", remote.Kind())
	}

	pub, err := remote.PublicKey(ctx)
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	if !bytes.Equal(pub, bob.PublicKey()) {
		t.Fatal("resolved key differs from peer key")
	}
	if !remote.Resolved() {
		t.Fatal("secret material not released after resolution")
	}

	// cached, no second ciphertext needed
	again, err := remote.PublicKey(ctx)
	if err != nil || !bytes.Equal(again, pub) {
		t.Fatalf("second PublicKey: %v", err)
	}
}

func TestAnonymousWrongSecret(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bob, _ := castle.NewLocalUser()
	payload, _ := castle.SealPublicKey([]byte("right"), bob)

	incoming := make(chan []byte, 1)
	incoming <- payload
	remote, err := castle.NewAnonymousRemoteUser([]byte("wrong"), incoming, "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := remote.PublicKey(ctx); !errors.Is(err, castle.ErrIdentityUnresolvable) {
		t.Fatalf("expected ErrIdentityUnresolvable, got %v", err)
	}
	if remote.Resolved() {
		t.Fatal("failed resolution reported as resolved")
	}
}

func TestAnonymousCancelled(t *testing.T) {
	remote, _ := castle.NewAnonymousRemoteUser([]byte("s"), make(chan []byte), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := remote.PublicKey(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAnonymousEmptySecret(t *testing.T) {
	if _, err := castle.NewAnonymousRemoteUser(nil, nil, ""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

type directory map[string]*model.Certificate

func (d directory) GetByName(_ context.Context, name string) (*model.Certificate, error) {
	return d[name], nil
}

func TestSignedResolve(t *testing.T) {
	rootPub, rootPriv, err := signature.NewEd25519Keypair()
	if err != nil {
		t.Fatal(err)
	}
	bob, _ := castle.NewLocalUser()
	dir := directory{"bob": signature.IssueCertificate(rootPriv, "bob", bob.PublicKey())}

	remote := castle.NewSignedRemoteUser("bob", dir, rootPub)
	pub, err := remote.PublicKey(context.Background())
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	if !bytes.Equal(pub, bob.PublicKey()) {
		t.Fatal("wrong key")
	}

	otherPub, _, _ := signature.NewEd25519Keypair()
	cases := []struct {
		name string
		user castle.RemoteUser
	}{
		{"unknown user", castle.NewSignedRemoteUser("carol", dir, rootPub)},
		{"untrusted root", castle.NewSignedRemoteUser("bob", dir, ed25519.PublicKey(otherPub))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.user.PublicKey(context.Background()); !errors.Is(err, castle.ErrIdentityUnresolvable) {
				t.Fatalf("expected ErrIdentityUnresolvable, got %v", err)
			}
		})
	}
}
