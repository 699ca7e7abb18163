package chat_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"castle_chat/internal/chat"
	"castle_chat/internal/model"
	"castle_chat/internal/session"
	"castle_chat/internal/storage"
	"castle_chat/internal/store"
)

// fakeSession records sent messages and lets tests deliver remote events.
type fakeSession struct {
	*session.Bus
	locks *session.Locks

	ready     *session.Signal
	connected *session.Signal
	closed    *session.Signal
	notFound  *session.Signal

	closeCalls atomic.Int32
	pongFrozen atomic.Bool
	mu         sync.Mutex
	sent       []model.SessionMessage
}

var _ session.Session = (*fakeSession)(nil)

func newFakeSession() *fakeSession {
	return &fakeSession{
		Bus:       session.NewBus(),
		locks:     session.NewLocks(),
		ready:     session.NewSignal(),
		connected: session.NewSignal(),
		closed:    session.NewSignal(),
		notFound:  session.NewSignal(),
	}
}

func (f *fakeSession) Send(_ context.Context, messages ...model.SessionMessage) (*session.SendResult, error) {
	if f.closed.Fired() {
		return nil, session.ErrClosed
	}
	for i := range messages {
		if messages[i].Data.ID == "" {
			messages[i].Data.ID = uuid.NewString()
		}
		if messages[i].Data.Timestamp.IsZero() {
			messages[i].Data.Timestamp = time.Now()
		}
	}

	f.mu.Lock()
	f.sent = append(f.sent, messages...)
	f.mu.Unlock()

	done := make(chan struct{})
	close(done)
	return &session.SendResult{Messages: messages, Confirmed: done}, nil
}

func (f *fakeSession) Lock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return f.locks.Get(name).Do(ctx, fn)
}

func (f *fakeSession) Ready() <-chan struct{}     { return f.ready.Done() }
func (f *fakeSession) Connected() <-chan struct{} { return f.connected.Done() }
func (f *fakeSession) Closed() <-chan struct{}    { return f.closed.Done() }
func (f *fakeSession) NotFound() <-chan struct{}  { return f.notFound.Done() }
func (f *fakeSession) FreezePong(frozen bool)     { f.pongFrozen.Store(frozen) }

func (f *fakeSession) Close() error {
	f.closeCalls.Add(1)
	if !f.closed.Fired() {
		f.closed.Fire()
		f.Trigger(session.EventClosed, nil)
	}
	return nil
}

func (f *fakeSession) sentEvents(event string) []model.SessionMessageData {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.SessionMessageData
	for _, m := range f.sent {
		if m.Event == event {
			out = append(out, m.Data)
		}
	}
	return out
}

// connect fires the session lifecycle and waits for the chat to begin.
func (f *fakeSession) connect(t *testing.T, c *chat.Service) {
	t.Helper()
	f.ready.Fire()
	f.connected.Fire()
	f.Trigger(session.EventBeginChat, nil)
	eventually(t, "chat connected", c.IsConnected)
}

func testOptions() chat.Options {
	opts := chat.DefaultOptions()
	opts.BeginChatDelay = 0
	opts.SelfDestructWait = 0
	opts.SelfDestructSettle = 0
	opts.SelfDestructPause = 0
	opts.SelfDestructCloseGrace = 0
	opts.MessageExpiryGrace = 0
	opts.TypingSettle = 0
	opts.IntroMessage = ""
	opts.DisconnectMessage = "ended"
	return opts
}

type harness struct {
	sess      *fakeSession
	chat      *chat.Service
	persisted storage.Storage
	local     *store.EncryptedMap[*model.MessageValue]
	peer      *store.EncryptedMap[*model.MessageValue]
}

func newHarness(t *testing.T, opts chat.Options) *harness {
	t.Helper()
	persisted := storage.NewMemoryStorage()
	local := store.NewEncryptedMap[*model.MessageValue](storage.NewMemoryStorage(), "messageValues")
	values := store.NewLayered(local, store.NewEncryptedMap[*model.MessageValue](persisted, "messageValues"))

	sess := newFakeSession()
	h := &harness{
		sess:      sess,
		chat:      chat.New(sess, values, opts),
		persisted: persisted,
		local:     local,
		peer:      store.NewEncryptedMap[*model.MessageValue](persisted, "messageValues"),
	}
	t.Cleanup(h.chat.AbortSetup)
	return h
}

// remoteText builds a text message as the peer would have sent it, with its
// value in the shared persisted store.
func (h *harness) remoteText(t *testing.T, text string, predecessor *model.SessionMessageData) model.SessionMessageData {
	t.Helper()
	id := uuid.NewString()
	ts := time.Now().Truncate(time.Millisecond)

	sum, key, err := h.peer.Put(context.Background(), id, model.TextValue(text), chat.MessageTag(id, ts))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	d := model.SessionMessageData{
		ID:        id,
		Timestamp: ts,
		Text:      &model.TextData{Hash: sum, Key: key},
	}
	if predecessor != nil {
		d.Text.Predecessor = &model.PredecessorReference{ID: predecessor.ID, Hash: predecessor.Text.Hash}
	}
	return d
}

func (h *harness) deliver(event string, batch ...model.SessionMessageData) {
	h.sess.Trigger(event, batch)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func messageIDs(c *chat.Service) []string {
	var ids []string
	for _, m := range c.Messages() {
		ids = append(ids, m.ID)
	}
	return ids
}
