// Package chat runs a conversation on top of a session: it orders inbound
// messages along their predecessor chain, tracks delivery confirmations and
// drives the self-destruct timers.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"castle_chat/internal/cryptographic/hash"
	"castle_chat/internal/model"
	"castle_chat/internal/session"
	"castle_chat/internal/store"
	"castle_chat/internal/utils/log"
)

// Events triggered on the session bus for observers of the chat.
const (
	EventMessage        = "chat.message"        // *model.Message
	EventMessageRemoved = "chat.messageRemoved" // string id
	EventCleared        = "chat.cleared"
	EventConfirmed      = "chat.confirmed"    // model.LastConfirmed
	EventFriendTyping   = "chat.friendTyping" // bool
	EventSelfDestruct   = "chat.selfDestruct" // SelfDestructState
)

type (
	Values = store.Layered[*model.MessageValue]

	SendOptions struct {
		// SelfDestructTimeout removes the message once it elapses.
		SelfDestructTimeout time.Duration
		// SelfDestructChat asks both sides to clear the whole chat after
		// SelfDestructTimeout. Honoured only for the opening message.
		SelfDestructChat bool
	}

	queuedMessage struct {
		value *model.MessageValue
		opts  SendOptions
	}

	Service struct {
		session session.Session
		values  *Values
		opts    Options
		logger  *zap.Logger

		// cancelled on abort, stops every timer
		ctx    context.Context
		cancel context.CancelFunc

		inbox chan []model.SessionMessageData

		mu               sync.RWMutex
		messages         []*model.Message
		isConnected      bool
		isDisconnected   bool
		isFriendTyping   bool
		isMessageChanged bool
		currentMessage   string
		previousMessage  string
		queued           *queuedMessage

		connected    *session.Signal
		futures      *futureBuffer
		confirm      *ConfirmationTracker
		selfDestruct *SelfDestructController
		state        *StateMachine
	}
)

// MessageTag binds a stored value to the message it belongs to.
func MessageTag(id string, ts time.Time) []byte {
	return []byte(id + "|" + strconv.FormatInt(ts.UnixMilli(), 10))
}

func New(sess session.Session, values *Values, opts Options) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		session:      sess,
		values:       values,
		opts:         opts,
		logger:       log.With(zap.String("component", "chat")),
		ctx:          ctx,
		cancel:       cancel,
		inbox:        make(chan []model.SessionMessageData, 256),
		connected:    session.NewSignal(),
		futures:      newFutureBuffer(opts.MaxFutureMessages),
		confirm:      NewConfirmationTracker(),
		selfDestruct: NewSelfDestructController(),
		state:        NewStateMachine(),
	}

	sess.On(session.EventBeginChat, func(any) { go s.Begin(s.ctx) })
	sess.On(session.EventConnectFailure, func(any) { s.AbortSetup() })
	sess.On(session.EventNotFound, func(any) { s.AbortSetup() })
	sess.On(session.EventClosed, func(any) { s.Close() })

	session.On(sess, model.RPCText, func(batch []model.SessionMessageData) {
		select {
		case s.inbox <- batch:
		case <-s.ctx.Done():
		}
	})
	session.On(sess, model.RPCConfirm, s.onConfirm)
	session.On(sess, model.RPCTyping, s.onTyping)

	go func() {
		select {
		case <-sess.Ready():
			s.state.Transition(model.StateKeyExchange)
		case <-sess.Closed():
		case <-s.ctx.Done():
		}
	}()
	go s.receiveLoop()

	return s
}

func (s *Service) receiveLoop() {
	for {
		select {
		case batch := <-s.inbox:
			s.receive(batch)
		case <-s.ctx.Done():
			return
		case <-s.session.Closed():
			for {
				select {
				case batch := <-s.inbox:
					s.receive(batch)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) receive(batch []model.SessionMessageData) {
	err := s.session.Lock(s.ctx, session.LockReceive, func(ctx context.Context) error {
		for _, d := range batch {
			s.receiveText(ctx, d)
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("receive failed", zap.Error(err))
	}
}

func (s *Service) receiveText(ctx context.Context, d model.SessionMessageData) {
	if d.Text == nil || s.state.Aborted() {
		return
	}
	d.AuthorKind = model.AuthorRemote

	if len(d.Text.Ciphertext) > 0 {
		s.importValue(ctx, d.ID, d.Text.Ciphertext)
		d.Text.Ciphertext = nil
	}

	if p := d.Text.Predecessor; p != nil && !s.messageHasValidHash(ctx, s.findMessage(p.ID), p.Hash) {
		s.logger.Debug("queueing future message", zap.String("id", d.ID), zap.String("predecessor", p.ID))
		for _, evicted := range s.futures.Add(p.ID, d) {
			if err := s.values.Local.Remove(ctx, evicted); err != nil {
				s.logger.Debug("remove evicted value failed", zap.String("id", evicted), zap.Error(err))
			}
		}
		return
	}

	s.addTextMessage(ctx, d, nil)
}

// importValue keeps an inline ciphertext locally unless the shared store
// already holds the value.
func (s *Service) importValue(ctx context.Context, id string, ct []byte) {
	shared, err := s.values.Persisted.Has(ctx, id)
	if err != nil {
		s.logger.Debug("persisted lookup failed", zap.String("id", id), zap.Error(err))
	}
	if shared {
		return
	}
	if err := s.values.Local.Import(ctx, id, ct); err != nil {
		s.logger.Warn("import inline value failed", zap.String("id", id), zap.Error(err))
	}
}

// addTextMessage handles local and remote text messages once ordering
// has been satisfied.
func (s *Service) addTextMessage(ctx context.Context, d model.SessionMessageData, value *model.MessageValue) {
	t := d.Text
	remote := d.AuthorKind == model.AuthorRemote

	selfDestructChat := false
	if t.SelfDestructChat && t.SelfDestructTimeout > 0 {
		s.mu.Lock()
		if s.canSelfDestructLocked() && s.selfDestruct.Arm(t.SelfDestructTimeout, remote) {
			selfDestructChat = true
		}
		s.mu.Unlock()
	}

	if selfDestructChat {
		s.session.Trigger(EventSelfDestruct, SelfDestructArmed)
		s.clearMessages(ctx, d.ID)
	}

	timeout := t.SelfDestructTimeout
	if selfDestructChat {
		timeout = 0
	}

	m := &model.Message{
		ID:                  d.ID,
		AuthorKind:          d.AuthorKind,
		Timestamp:           d.Timestamp,
		SelfDestructTimeout: timeout,
		Hash:                t.Hash,
		Key:                 t.Key,
		Value:               value,
	}
	if !s.addMessage(ctx, m) {
		return
	}

	if remote {
		_, err := s.session.Send(ctx, model.SessionMessage{
			Event: model.RPCConfirm,
			Data:  model.SessionMessageData{TextConfirmation: &model.TextConfirmation{ID: d.ID}},
		})
		if err != nil {
			s.logger.Warn("confirmation not sent", zap.String("id", d.ID), zap.Error(err))
		}
	}

	for _, f := range s.futures.Take(d.ID) {
		s.receiveText(ctx, f)
	}

	if selfDestructChat {
		go s.runSelfDestruct()
	}
}

// canSelfDestructLocked: the chat is empty or holds only the intro message.
func (s *Service) canSelfDestructLocked() bool {
	switch len(s.messages) {
	case 0:
		return true
	case 1:
		return s.messages[0].AuthorKind == model.AuthorApp
	}
	return false
}

// addMessage appends m to the chat. Human authored messages wait for the
// chat to be connected. It reports whether the message was added.
func (s *Service) addMessage(ctx context.Context, m *model.Message) bool {
	if s.state.Aborted() {
		return false
	}

	if m.AuthorKind != model.AuthorApp {
		s.mu.RLock()
		disconnected := s.isDisconnected
		s.mu.RUnlock()
		if disconnected {
			return false
		}

		select {
		case <-s.connected.Done():
		case <-s.session.Closed():
			return false
		case <-ctx.Done():
			return false
		}
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()

	s.saveHistory(ctx, m)
	s.session.Trigger(EventMessage, m)

	if m.SelfDestructTimeout > 0 {
		go s.expire(m.ID, m.SelfDestructTimeout+s.opts.MessageExpiryGrace)
	}
	return true
}

// AddAppMessage adds a message authored by the application itself.
func (s *Service) AddAppMessage(ctx context.Context, text string, ts time.Time) error {
	if ts.IsZero() {
		ts = time.Now()
	}
	id := uuid.NewString()
	value := model.TextValue(text)

	sum, key, err := s.values.Put(ctx, id, value, MessageTag(id, ts), s.opts.Ephemeral)
	if err != nil {
		return fmt.Errorf("store app message: %w", err)
	}

	s.addMessage(ctx, &model.Message{
		ID:         id,
		AuthorKind: model.AuthorApp,
		Timestamp:  ts,
		Hash:       sum,
		Key:        key,
		Value:      value,
	})
	return nil
}

// Send stores value, links it to the last verified remote message and sends
// it to the peer.
func (s *Service) Send(ctx context.Context, value *model.MessageValue, opts SendOptions) error {
	if !value.Valid() || value.Failure {
		return errors.New("chat: invalid message value")
	}
	if s.state.Aborted() {
		return session.ErrSessionAborted
	}

	return s.session.Lock(ctx, session.LockSend, func(ctx context.Context) error {
		id := uuid.NewString()
		ts := time.Now()

		var (
			predecessor   *model.PredecessorReference
			sum, key, raw []byte
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			predecessor = s.predecessor(gctx)
			return nil
		})
		g.Go(func() error {
			var err error
			sum, key, err = s.values.Put(gctx, id, value, MessageTag(id, ts), false)
			if err != nil {
				return err
			}
			if s.opts.InlineValues {
				raw, err = s.values.Raw(gctx, id)
			}
			return err
		})
		if err := g.Wait(); err != nil {
			return fmt.Errorf("prepare message: %w", err)
		}

		res, err := s.session.Send(ctx, model.SessionMessage{
			Event: model.RPCText,
			Data: model.SessionMessageData{
				ID:        id,
				Timestamp: ts,
				Text: &model.TextData{
					Predecessor:         predecessor,
					SelfDestructTimeout: opts.SelfDestructTimeout,
					SelfDestructChat:    opts.SelfDestructChat,
					Hash:                sum,
					Key:                 key,
					Ciphertext:          raw,
				},
			},
		})
		if err != nil {
			return err
		}

		sent := res.Messages[0].Data
		sent.AuthorKind = model.AuthorLocal
		text := *sent.Text
		text.Ciphertext = nil
		sent.Text = &text

		s.addTextMessage(ctx, sent, value)
		return nil
	})
}

// SendText sends text and resets the typing indicator.
func (s *Service) SendText(ctx context.Context, text string, opts SendOptions) error {
	if text == "" {
		return nil
	}
	s.SetCurrentMessage("")
	go s.MessageChange(s.ctx)

	return s.Send(ctx, model.TextValue(text), opts)
}

// SetQueuedMessage stores a message to send as soon as the chat begins.
func (s *Service) SetQueuedMessage(text string, opts SendOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = &queuedMessage{value: model.TextValue(text), opts: opts}
}

// predecessor returns the newest remote message whose value verifies.
func (s *Service) predecessor(ctx context.Context) *model.PredecessorReference {
	messages := s.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.AuthorKind == model.AuthorRemote && m.Verified() && s.messageHasValidHash(ctx, m, nil) {
			return &model.PredecessorReference{ID: m.ID, Hash: m.Hash}
		}
	}
	return nil
}

func (s *Service) messageHasValidHash(ctx context.Context, m *model.Message, expected []byte) bool {
	if m == nil || m.ID == "" || !m.Verified() {
		return false
	}
	if v := s.GetMessageValue(ctx, m); v.Failure {
		return false
	}
	return expected == nil || hash.Equal(m.Hash, expected)
}

// GetMessageValue resolves and caches the value of m. A value that cannot
// be fetched or verified yields a failure placeholder which is not cached.
func (s *Service) GetMessageValue(ctx context.Context, m *model.Message) *model.MessageValue {
	s.mu.RLock()
	v := m.Value
	s.mu.RUnlock()
	if v != nil {
		return v
	}

	if len(m.Hash) > 0 && len(m.Key) > 0 {
		v, err := s.values.Get(ctx, m.ID, m.Key, m.Hash, MessageTag(m.ID, m.Timestamp))
		if err == nil && v.Valid() && !v.Failure {
			s.mu.Lock()
			m.Value = v
			s.mu.Unlock()
			return v
		}
		s.logger.Warn("message value unavailable", zap.String("id", m.ID), zap.Error(err))
	}
	return model.FailureValue()
}

func (s *Service) findMessage(id string) *model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			return s.messages[i]
		}
	}
	return nil
}

func (s *Service) onConfirm(batch []model.SessionMessageData) {
	for _, d := range batch {
		if d.TextConfirmation == nil || d.TextConfirmation.ID == "" {
			continue
		}
		id := d.TextConfirmation.ID

		// removals re-base the watermark under s.mu, so the index lookup
		// and the advance happen under the same read lock
		index := -1
		s.mu.RLock()
		for i := len(s.messages) - 1; i >= 0; i-- {
			if s.messages[i].ID == id {
				index = i
				break
			}
		}
		var err error
		next := model.LastConfirmed{ID: id, Index: index}
		if index >= 0 {
			err = s.confirm.Advance(next)
		}
		s.mu.RUnlock()
		if index < 0 {
			continue
		}
		if err != nil {
			s.logger.Debug("confirmation ignored", zap.String("id", id), zap.Error(err))
			continue
		}
		s.session.Trigger(EventConfirmed, next)
	}
}

func (s *Service) onTyping(batch []model.SessionMessageData) {
	for _, d := range batch {
		if d.ChatState == nil {
			continue
		}
		s.mu.Lock()
		s.isFriendTyping = d.ChatState.IsTyping
		s.mu.Unlock()
		s.session.Trigger(EventFriendTyping, d.ChatState.IsTyping)
	}
}

// Messages returns a snapshot of the message list.
func (s *Service) Messages() []*model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*model.Message(nil), s.messages...)
}

func (s *Service) LastConfirmed() model.LastConfirmed {
	last, _ := s.confirm.Load()
	return last
}

// UnconfirmedMessages lists the ids after the last confirmed message.
func (s *Service) UnconfirmedMessages() map[string]bool {
	last := s.LastConfirmed()

	s.mu.RLock()
	defer s.mu.RUnlock()

	unconfirmed := make(map[string]bool)
	for i := len(s.messages) - 1; i >= 0; i-- {
		id := s.messages[i].ID
		if id == last.ID {
			break
		}
		unconfirmed[id] = true
	}
	return unconfirmed
}

func (s *Service) FutureMessages() int {
	return s.futures.Len()
}

func (s *Service) State() model.SessionState {
	return s.state.Current()
}

func (s *Service) WaitState(ctx context.Context, target model.SessionState) error {
	return s.state.Wait(ctx, target)
}

func (s *Service) SelfDestructState() SelfDestructState {
	return s.selfDestruct.State()
}

func (s *Service) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isConnected
}

func (s *Service) IsFriendTyping() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isFriendTyping
}

func (s *Service) removeMessage(ctx context.Context, id string) {
	s.mu.Lock()
	removed := false
	for i, m := range s.messages {
		if m.ID == id {
			prev := ""
			if i > 0 {
				prev = s.messages[i-1].ID
			}
			s.messages = append(s.messages[:i:i], s.messages[i+1:]...)
			s.confirm.Removed(i, prev)
			removed = true
			break
		}
	}
	s.mu.Unlock()

	if !removed {
		return
	}
	s.removeHistory(ctx, id)
	if err := s.values.Local.Remove(ctx, id); err != nil {
		s.logger.Debug("remove local value failed", zap.String("id", id), zap.Error(err))
	}
	s.session.Trigger(EventMessageRemoved, id)
}

// clearMessages empties the chat and drops every local value except keep's,
// including values imported for messages that never made it into the list.
func (s *Service) clearMessages(ctx context.Context, keep string) {
	s.mu.Lock()
	old := s.messages
	s.messages = nil
	s.confirm.Reset()
	s.mu.Unlock()

	local, err := s.values.Local.IDs(ctx)
	if err != nil {
		s.logger.Warn("listing local values failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, m := range old {
		id := m.ID
		g.Go(func() error {
			s.removeHistory(gctx, id)
			return s.values.Local.Remove(gctx, id)
		})
	}
	for _, id := range local {
		if id == keep {
			continue
		}
		g.Go(func() error {
			return s.values.Local.Remove(gctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("clearing message values failed", zap.Error(err))
	}

	s.session.Trigger(EventCleared, nil)
}

// sleep waits for d unless the chat is aborted first.
func (s *Service) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Service) expire(id string, after time.Duration) {
	if !s.sleep(after) {
		return
	}
	s.removeMessage(s.ctx, id)
}
