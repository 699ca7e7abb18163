package client_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"castle_chat/internal/chat"
	"castle_chat/internal/cryptographic/dh"
	"castle_chat/internal/cryptographic/kdf"
	"castle_chat/internal/cryptographic/signature"
	"castle_chat/internal/model"
	"castle_chat/internal/protocol/castle"
	"castle_chat/internal/service/client"
	"castle_chat/internal/service/server"
	"castle_chat/internal/session"
	"castle_chat/internal/storage"
	"castle_chat/internal/store"
)

func TestMain(m *testing.M) {
	kdf.ArgonTime = 1
	kdf.ArgonMemory = 8 * 1024
	os.Exit(m.Run())
}

func newValues() *chat.Values {
	return store.NewLayered(
		store.NewEncryptedMap[*model.MessageValue](storage.NewMemoryStorage(), "messageValues"),
		store.NewEncryptedMap[*model.MessageValue](storage.NewMemoryStorage(), "messageValues"),
	)
}

func fastOptions() chat.Options {
	opts := chat.DefaultOptions()
	opts.BeginChatDelay = 0
	opts.SelfDestructWait = 0
	opts.TypingSettle = 0
	opts.IntroMessage = ""
	return opts
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func exchange(t *testing.T, a, b *client.Conversation) {
	t.Helper()
	ctx := context.Background()

	eventually(t, "both connected", func() bool { return a.Chat.IsConnected() && b.Chat.IsConnected() })

	fa, err := a.Channel.Fingerprint()
	if err != nil {
		t.Fatal(err)
	}
	fb, _ := b.Channel.Fingerprint()
	if fa != fb {
		t.Fatalf("fingerprints differ: %s vs %s", fa, fb)
	}

	if err := a.Chat.SendText(ctx, "hi bob", chat.SendOptions{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	eventually(t, "message at b", func() bool { return len(b.Chat.Messages()) == 1 })

	m := b.Chat.Messages()[0]
	if m.AuthorKind != model.AuthorRemote {
		t.Fatalf("author %v", m.AuthorKind)
	}
	if v := b.Chat.GetMessageValue(ctx, m); v.Text == nil || *v.Text != "hi bob" {
		t.Fatalf("value %+v", v)
	}

	// the confirmation moves a's watermark
	eventually(t, "confirmation", func() bool { return a.Chat.LastConfirmed().ID == m.ID })

	if err := b.Chat.SendText(ctx, "hi alice", chat.SendOptions{}); err != nil {
		t.Fatalf("reply: %v", err)
	}
	eventually(t, "reply at a", func() bool { return len(a.Chat.Messages()) == 2 })
	sent := a.Chat.Messages()
	if a.Chat.FutureMessages() != 0 || sent[1].AuthorKind != model.AuthorRemote {
		t.Fatal("reply not linked to the first message")
	}
}

func TestAnonymousConversation(t *testing.T) {
	ctx := context.Background()
	secret, err := client.NewSecret()
	if err != nil {
		t.Fatal(err)
	}
	secretB := append([]byte(nil), secret...)

	connA, connB := session.Pipe()

	a, err := client.StartAnonymous(ctx, connA, secret, newValues(), fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	b, err := client.StartAnonymous(ctx, connB, secretB, newValues(), fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	defer b.Close()

	if !bytes.Equal(secret, make([]byte, len(secret))) {
		t.Fatal("shared secret not wiped")
	}

	exchange(t, a, b)

	a.Close()
	eventually(t, "b closed", func() bool {
		select {
		case <-b.Channel.Closed():
			return true
		default:
			return false
		}
	})
}

func TestAnonymousWrongSecret(t *testing.T) {
	ctx := context.Background()
	s1, _ := client.NewSecret()
	s2, _ := client.NewSecret()

	connA, connB := session.Pipe()
	a, err := client.StartAnonymous(ctx, connA, s1, newValues(), fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	b, err := client.StartAnonymous(ctx, connB, s2, newValues(), fastOptions())
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, "both aborted", func() bool {
		return a.Chat.State() == model.StateAborted && b.Chat.State() == model.StateAborted
	})
}

func TestSignedConversation(t *testing.T) {
	ctx := context.Background()

	_, root, err := signature.NewEd25519Keypair()
	if err != nil {
		t.Fatal(err)
	}
	relay := httptest.NewServer(server.NewHttpServer(nil, newDirectory(), root, time.Hour).Handler())
	defer relay.Close()

	c, err := client.NewClient(relay.URL)
	if err != nil {
		t.Fatal(err)
	}

	if cert, err := c.GetByName(ctx, "alice"); err != nil || cert != nil {
		t.Fatalf("unknown user: %+v %v", cert, err)
	}

	users := map[string]*castle.LocalUser{}
	for _, name := range []string{"alice", "bob"} {
		_, priv, err := dh.NewX25519KeyPair()
		if err != nil {
			t.Fatal(err)
		}
		u, err := castle.LocalUserFromKey(priv[:])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := c.Register(ctx, name, u.PublicKey()); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
		users[name] = u
	}

	rootPub, err := c.RootKey(ctx)
	if err != nil {
		t.Fatal(err)
	}

	connA, connB := session.Pipe()
	a, err := client.StartSigned(ctx, connA, users["alice"], "alice", "bob", c, rootPub, newValues(), fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := client.StartSigned(ctx, connB, users["bob"], "bob", "alice", c, rootPub, newValues(), fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	exchange(t, a, b)
	if a.Channel.Remote().Username() != "bob" {
		t.Fatal("wrong remote")
	}
}

func TestLinkRoundTrip(t *testing.T) {
	secret := bytes.Repeat([]byte{0xfe}, 32)
	l := client.Link{Relay: "https://relay.example/castle/", Channel: "c-123", Secret: secret}

	raw := l.String()
	if !strings.HasPrefix(raw, "https://relay.example/castle/channels/c-123#") {
		t.Fatalf("link %s", raw)
	}

	got, err := client.ParseLink(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Relay != "https://relay.example/castle" || got.Channel != "c-123" || !bytes.Equal(got.Secret, secret) {
		t.Fatalf("parsed %+v", got)
	}

	for _, bad := range []string{
		"https://relay.example/channels/c-123",
		"https://relay.example/other/c-123#AAAA",
		"https://relay.example/channels/#AAAA",
		"https://relay.example/channels/c-123#***",
	} {
		if _, err := client.ParseLink(bad); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

type directory struct {
	mu    sync.Mutex
	certs map[string]*model.Certificate
}

func newDirectory() *directory {
	return &directory{certs: map[string]*model.Certificate{}}
}

func (d *directory) GetByName(_ context.Context, name string) (*model.Certificate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.certs[name], nil
}

func (d *directory) Put(_ context.Context, cert *model.Certificate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.certs[cert.Username] = cert
	return nil
}
