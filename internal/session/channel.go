package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"castle_chat/internal/cryptographic/dh"
	"castle_chat/internal/cryptographic/encryption"
	"castle_chat/internal/cryptographic/kdf"
	"castle_chat/internal/model"
	"castle_chat/internal/protocol/castle"
	"castle_chat/internal/utils/log"
)

// Conn carries frames between the two peers of a channel.
type Conn interface {
	ReadFrame(ctx context.Context) (model.Frame, error)
	WriteFrame(ctx context.Context, f model.Frame) error
	Close() error
}

const closeFrameTimeout = 2 * time.Second

// Channel is a Session over a Conn. Message frames are sealed with the box
// key shared between the local key pair and the resolved remote key.
type Channel struct {
	conn      Conn
	local     *castle.LocalUser
	handshake []byte

	bus   *Bus
	locks *Locks

	ready     *Signal
	connected *Signal
	closed    *Signal
	notFound  *Signal

	incoming chan []byte

	mu        sync.RWMutex
	sharedKey *[dh.KeySize]byte
	remote    castle.RemoteUser

	freezePong atomic.Bool
	writeMu    sync.Mutex
	closeOnce  sync.Once
	cancel     context.CancelFunc
	logger     *zap.Logger
}

var _ Session = (*Channel)(nil)

func NewChannel(conn Conn, local *castle.LocalUser, handshake []byte) *Channel {
	return &Channel{
		conn:      conn,
		local:     local,
		handshake: handshake,
		bus:       NewBus(),
		locks:     NewLocks(),
		ready:     NewSignal(),
		connected: NewSignal(),
		closed:    NewSignal(),
		notFound:  NewSignal(),
		incoming:  make(chan []byte, 1),
		cancel:    func() {},
		logger:    log.With(zap.String("component", "channel")),
	}
}

// Incoming yields the payload of the first handshake frame from the peer.
func (c *Channel) Incoming() <-chan []byte {
	return c.incoming
}

// Start sends the handshake, begins reading frames and resolves remote in
// the background. Success fires Connected and triggers EventBeginChat;
// failure triggers EventConnectFailure and closes the channel.
func (c *Channel) Start(ctx context.Context, remote castle.RemoteUser) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.remote = remote
	c.mu.Unlock()

	go c.readLoop(ctx)

	if err := c.write(ctx, model.Frame{Kind: model.FrameHandshake, Payload: c.handshake}); err != nil {
		c.Close()
		return fmt.Errorf("send handshake: %w", err)
	}
	c.ready.Fire()

	go c.connect(ctx, remote)
	return nil
}

func (c *Channel) connect(ctx context.Context, remote castle.RemoteUser) {
	pub, err := remote.PublicKey(ctx)
	if err == nil {
		var key *[dh.KeySize]byte
		key, err = c.local.SharedKey(pub)
		if err == nil {
			c.mu.Lock()
			c.sharedKey = key
			c.mu.Unlock()
		}
	}

	if err != nil {
		if c.closed.Fired() {
			return
		}
		c.logger.Error("connect failed", zap.String("auth", remote.Kind().String()), zap.Error(err))
		c.Trigger(EventConnectFailure, err)
		c.Close()
		return
	}

	fields := []zap.Field{zap.String("remote", remote.Username())}
	if r, ok := remote.(interface{ Resolved() bool }); ok {
		fields = append(fields, zap.Bool("secretReleased", r.Resolved()))
	}
	c.connected.Fire()
	c.logger.Info("connected", fields...)
	c.Trigger(EventBeginChat, nil)
}

func (c *Channel) readLoop(ctx context.Context) {
	defer c.Close()

	for {
		f, err := c.conn.ReadFrame(ctx)
		if err != nil {
			if !c.closed.Fired() {
				c.logger.Debug("read loop stopped", zap.Error(err))
			}
			return
		}

		switch f.Kind {
		case model.FrameHandshake:
			select {
			case c.incoming <- f.Payload:
			default:
				c.logger.Debug("extra handshake ignored")
			}

		case model.FrameMessage:
			select {
			case <-c.connected.Done():
			case <-c.closed.Done():
				return
			case <-ctx.Done():
				return
			}
			c.receive(ctx, f.Payload)

		case model.FrameNotFound:
			c.notFound.Fire()
			c.Trigger(EventNotFound, nil)
			return

		case model.FrameClose:
			c.logger.Info("peer closed channel")
			return

		default:
			c.logger.Warn("unknown frame", zap.String("kind", string(f.Kind)))
		}
	}
}

// receive opens a batch and triggers one event per RPC name, in order of
// first appearance. Undecodable batches are dropped.
func (c *Channel) receive(ctx context.Context, payload []byte) {
	c.mu.RLock()
	key := c.sharedKey
	c.mu.RUnlock()
	if key == nil {
		return
	}

	plain, err := encryption.OpenShared(key, payload)
	if err != nil {
		c.logger.Warn("dropping undecryptable frame", zap.Error(err))
		return
	}

	var batch []model.SessionMessage
	if err := json.Unmarshal(plain, &batch); err != nil {
		c.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	var (
		order  []string
		events = make(map[string][]model.SessionMessageData)
	)
	for _, m := range batch {
		m.Data.AuthorKind = model.AuthorRemote
		if _, ok := events[m.Event]; !ok {
			order = append(order, m.Event)
		}
		events[m.Event] = append(events[m.Event], m.Data)
	}

	for _, event := range order {
		if event == model.RPCPing && !c.freezePong.Load() {
			if _, err := c.Send(ctx, model.SessionMessage{Event: model.RPCPong}); err != nil {
				c.logger.Debug("pong failed", zap.Error(err))
			}
		}
		c.Trigger(event, events[event])
	}
}

// Send waits for the channel to connect, fills in ids and timestamps and
// writes the batch as one frame.
func (c *Channel) Send(ctx context.Context, messages ...model.SessionMessage) (*SendResult, error) {
	if len(messages) == 0 {
		return nil, errors.New("session: nothing to send")
	}

	select {
	case <-c.connected.Done():
	case <-c.closed.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if c.closed.Fired() {
		return nil, ErrClosed
	}

	now := time.Now()
	for i := range messages {
		if messages[i].Data.ID == "" {
			messages[i].Data.ID = uuid.NewString()
		}
		if messages[i].Data.Timestamp.IsZero() {
			messages[i].Data.Timestamp = now
		}
		messages[i].Data.AuthorKind = model.AuthorLocal
	}

	plain, err := json.Marshal(messages)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	key := c.sharedKey
	c.mu.RUnlock()

	sealed, err := encryption.SealShared(key, plain)
	if err != nil {
		return nil, err
	}

	if err := c.write(ctx, model.Frame{Kind: model.FrameMessage, Payload: sealed}); err != nil {
		return nil, err
	}

	confirmed := make(chan struct{})
	close(confirmed)
	return &SendResult{Messages: messages, Confirmed: confirmed}, nil
}

func (c *Channel) write(ctx context.Context, f model.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteFrame(ctx, f)
}

// Fingerprint is a short code both peers can compare out of band.
func (c *Channel) Fingerprint() (string, error) {
	c.mu.RLock()
	key := c.sharedKey
	c.mu.RUnlock()
	if key == nil {
		return "", errors.New("session: not connected")
	}

	buf := make([]byte, 8)
	if _, err := kdf.HKDF(key[:], nil, []byte("castle fingerprint"), buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x-%x-%x-%x", buf[0:2], buf[2:4], buf[4:6], buf[6:8]), nil
}

func (c *Channel) Remote() castle.RemoteUser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remote
}

func (c *Channel) On(event string, fn Handler) uint64 { return c.bus.On(event, fn) }

func (c *Channel) Off(event string, id uint64) { c.bus.Off(event, id) }

func (c *Channel) One(ctx context.Context, event string) (any, error) { return c.bus.One(ctx, event) }

func (c *Channel) Trigger(event string, data any) { c.bus.Trigger(event, data) }

func (c *Channel) Lock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return c.locks.Get(name).Do(ctx, fn)
}

func (c *Channel) Ready() <-chan struct{}     { return c.ready.Done() }
func (c *Channel) Connected() <-chan struct{} { return c.connected.Done() }
func (c *Channel) Closed() <-chan struct{}    { return c.closed.Done() }
func (c *Channel) NotFound() <-chan struct{}  { return c.notFound.Done() }

func (c *Channel) FreezePong(frozen bool) { c.freezePong.Store(frozen) }

// Close is idempotent. The first call tells the peer, releases the key
// material and triggers EventClosed.
func (c *Channel) Close() error {
	var (
		err   error
		first bool
	)
	c.closeOnce.Do(func() {
		first = true
		c.closed.Fire()

		ctx, cancel := context.WithTimeout(context.Background(), closeFrameTimeout)
		if werr := c.write(ctx, model.Frame{Kind: model.FrameClose}); werr != nil {
			c.logger.Debug("close frame not delivered", zap.Error(werr))
		}
		cancel()

		err = c.conn.Close()

		c.mu.Lock()
		c.cancel()
		dh.Wipe(c.sharedKey)
		c.mu.Unlock()
		c.local.Destroy()
	})

	// handlers may call Close again
	if first {
		c.Trigger(EventClosed, nil)
	}
	return err
}
