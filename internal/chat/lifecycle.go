package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"castle_chat/internal/model"
	"castle_chat/internal/session"
)

// Begin starts the conversation once the session has connected.
func (s *Service) Begin(ctx context.Context) {
	if s.state.Aborted() {
		return
	}

	if _, err := s.session.Send(ctx, model.SessionMessage{Event: model.RPCPing}); err != nil {
		s.logger.Debug("ping failed", zap.Error(err))
	}

	s.mu.Lock()
	queued := s.queued
	s.queued = nil
	s.mu.Unlock()
	if queued != nil {
		go func() {
			if err := s.Send(ctx, queued.value, queued.opts); err != nil {
				s.logger.Error("send queued message failed", zap.Error(err))
			}
		}()
	}

	if s.opts.Ephemeral {
		s.state.Transition(model.StateChatBeginMessage)

		if !s.sleep(s.opts.BeginChatDelay) || s.state.Aborted() {
			return
		}

		s.session.Trigger(session.EventBeginChatComplete, nil)
		s.state.Transition(model.StateChat)

		if s.opts.SelfDestructWait > 0 {
			t := time.NewTimer(s.opts.SelfDestructWait)
			select {
			case <-s.selfDestruct.Armed():
			case <-t.C:
			case <-s.ctx.Done():
				t.Stop()
				return
			}
			t.Stop()
		}

		if !s.selfDestruct.Active() && s.opts.IntroMessage != "" {
			if err := s.AddAppMessage(ctx, s.opts.IntroMessage, time.Now().Add(-s.opts.IntroBackdate)); err != nil {
				s.logger.Error("intro message failed", zap.Error(err))
			}
		}
	} else {
		s.state.Transition(model.StateChat)
	}

	s.mu.Lock()
	s.isConnected = true
	s.mu.Unlock()
	s.connected.Fire()
}

// Close ends the chat. It is idempotent and does nothing once aborted.
func (s *Service) Close() {
	if s.state.Aborted() {
		return
	}

	s.mu.Lock()
	if !s.isConnected {
		s.mu.Unlock()
		s.AbortSetup()
		return
	}
	if s.isDisconnected {
		s.mu.Unlock()
		return
	}
	s.isDisconnected = true
	s.isFriendTyping = false
	s.mu.Unlock()

	if !s.selfDestruct.Active() && s.opts.DisconnectMessage != "" {
		if err := s.AddAppMessage(s.ctx, s.opts.DisconnectMessage, time.Time{}); err != nil {
			s.logger.Warn("disconnect notice failed", zap.Error(err))
		}
	}

	if err := s.session.Close(); err != nil {
		s.logger.Debug("session close", zap.Error(err))
	}
}

// AbortSetup moves the chat to the terminal aborted state.
func (s *Service) AbortSetup() {
	if !s.state.Transition(model.StateAborted) {
		return
	}
	s.logger.Info("chat aborted")

	s.session.Trigger(session.EventCloseChat, nil)
	if err := s.session.Close(); err != nil {
		s.logger.Debug("session close", zap.Error(err))
	}
	s.cancel()
}

func (s *Service) runSelfDestruct() {
	timeout, remote := s.selfDestruct.Timeout()

	s.selfDestruct.advance(SelfDestructCountingDown)
	s.session.Trigger(EventSelfDestruct, SelfDestructCountingDown)
	if !s.sleep(timeout) {
		return
	}

	s.selfDestruct.advance(SelfDestructDestroying)
	s.session.Trigger(EventSelfDestruct, SelfDestructDestroying)
	if !s.sleep(s.opts.SelfDestructSettle) {
		return
	}
	s.clearMessages(s.ctx, "")
	if !s.sleep(s.opts.SelfDestructPause) {
		return
	}

	s.selfDestruct.advance(SelfDestructDestroyed)
	s.session.Trigger(EventSelfDestruct, SelfDestructDestroyed)

	if remote {
		if !s.sleep(s.opts.SelfDestructCloseGrace) {
			return
		}
		s.Close()
	}
}

// SetAway stops answering the peer's pings while away is set, so the peer
// sees this side as unresponsive.
func (s *Service) SetAway(away bool) {
	s.session.FreezePong(away)
}

func (s *Service) SetCurrentMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentMessage = text
}

// MessageChange sends a typing indicator when the draft changed since the
// last check, re-checking once after a settle delay.
func (s *Service) MessageChange(ctx context.Context) error {
	return s.session.Lock(ctx, session.LockTyping, func(ctx context.Context) error {
		for i := 0; i < 2; i++ {
			s.mu.Lock()
			changed := s.currentMessage != "" && s.currentMessage != s.previousMessage
			s.previousMessage = s.currentMessage
			differs := changed != s.isMessageChanged
			if differs {
				s.isMessageChanged = changed
			}
			s.mu.Unlock()

			if !differs {
				continue
			}

			_, err := s.session.Send(ctx, model.SessionMessage{
				Event: model.RPCTyping,
				Data:  model.SessionMessageData{ChatState: &model.ChatState{IsTyping: changed}},
			})
			if err != nil {
				return err
			}
			if !s.sleep(s.opts.TypingSettle) {
				return nil
			}
		}
		return nil
	})
}
