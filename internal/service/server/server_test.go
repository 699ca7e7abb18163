package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"castle_chat/internal/cryptographic/signature"
	"castle_chat/internal/model"
	"castle_chat/internal/service/redis"
	"castle_chat/internal/service/server"
	transport "castle_chat/internal/transport/websocket"
)

type memoryCertificates struct {
	mu    sync.Mutex
	certs map[string]*model.Certificate
}

func (m *memoryCertificates) GetByName(_ context.Context, name string) (*model.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.certs[name], nil
}

func (m *memoryCertificates) Put(_ context.Context, cert *model.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.certs[cert.Username] = cert
	return nil
}

func TestDirectory(t *testing.T) {
	pub, priv, err := signature.NewEd25519Keypair()
	if err != nil {
		t.Fatal(err)
	}
	s := server.NewHttpServer(nil, &memoryCertificates{certs: map[string]*model.Certificate{}}, priv, time.Hour)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/directory/alice")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown user: status %d", resp.StatusCode)
	}

	key := bytes.Repeat([]byte{9}, 32)
	body, _ := json.Marshal(server.RegisterRequest{PublicKey: key})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/directory/alice", bytes.NewReader(body))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register: status %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/directory/alice")
	if err != nil {
		t.Fatal(err)
	}
	var cert model.Certificate
	err = json.NewDecoder(resp.Body).Decode(&cert)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if err := signature.VerifyCertificate(pub, &cert); err != nil {
		t.Fatalf("issued certificate does not verify: %v", err)
	}
	if !bytes.Equal(cert.PublicKey, key) {
		t.Fatal("wrong key in certificate")
	}

	resp, err = http.Get(srv.URL + "/directory/root")
	if err != nil {
		t.Fatal(err)
	}
	var root server.RootKeyResponse
	err = json.NewDecoder(resp.Body).Decode(&root)
	resp.Body.Close()
	if err != nil || !root.PublicKey.Equal(pub) {
		t.Fatalf("root key %x, %v", root.PublicKey, err)
	}

	short, _ := json.Marshal(server.RegisterRequest{PublicKey: key[:5]})
	req, _ = http.NewRequest(http.MethodPut, srv.URL+"/directory/bob", bytes.NewReader(short))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short key: status %d", resp.StatusCode)
	}
}

func newRelay(t *testing.T) *httptest.Server {
	t.Helper()
	addr := os.Getenv("CASTLE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CASTLE_TEST_REDIS_ADDR not set")
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })

	s := server.NewHttpServer(redis.NewRedis(rdb), &memoryCertificates{certs: map[string]*model.Certificate{}}, nil, time.Minute)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	return srv
}

func createChannel(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(srv.URL+"/channels", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.ID
}

func dial(t *testing.T, srv *httptest.Server, channel, peer string) (*transport.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/channels/" + channel + "/ws?peer=" + peer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return transport.Dial(ctx, url)
}

func read(t *testing.T, c *transport.Conn) model.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := c.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	return f
}

func TestRelayQueuesUntilPeerJoins(t *testing.T) {
	srv := newRelay(t)
	id := createChannel(t, srv)
	ctx := context.Background()

	a, err := dial(t, srv, id, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.WriteFrame(ctx, model.Frame{Kind: model.FrameHandshake, Payload: []byte("hello")}); err != nil {
		t.Fatal(err)
	}
	if err := a.WriteFrame(ctx, model.Frame{Kind: model.FrameMessage, Payload: []byte("one")}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	b, err := dial(t, srv, id, "b")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if f := read(t, b); f.Kind != model.FrameHandshake || string(f.Payload) != "hello" {
		t.Fatalf("first frame %+v", f)
	}
	if f := read(t, b); f.Kind != model.FrameMessage || string(f.Payload) != "one" {
		t.Fatalf("second frame %+v", f)
	}

	if err := b.WriteFrame(ctx, model.Frame{Kind: model.FrameMessage, Payload: []byte("two")}); err != nil {
		t.Fatal(err)
	}
	if f := read(t, a); string(f.Payload) != "two" {
		t.Fatalf("reply %+v", f)
	}

	_, err = dial(t, srv, id, "c")
	var dialErr *transport.DialError
	if !errors.As(err, &dialErr) || dialErr.Status != http.StatusConflict {
		t.Fatalf("third peer: %v", err)
	}

	a.Close()
	if f := read(t, b); f.Kind != model.FrameClose {
		t.Fatalf("expected close frame, got %+v", f)
	}
}

func TestRelayUnknownChannel(t *testing.T) {
	srv := newRelay(t)

	c, err := dial(t, srv, "no-such-channel", "a")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if f := read(t, c); f.Kind != model.FrameNotFound {
		t.Fatalf("frame %+v", f)
	}
}
