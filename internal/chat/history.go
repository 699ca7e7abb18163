package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"castle_chat/internal/model"
	"castle_chat/internal/storage"
)

const historyPrefix = "history/"

type historyRecord struct {
	ID                  string           `json:"id"`
	AuthorKind          model.AuthorKind `json:"authorKind"`
	Timestamp           time.Time        `json:"timestamp"`
	SelfDestructTimeout time.Duration    `json:"selfDestructTimeout,omitempty"`
	Hash                []byte           `json:"hash,omitempty"`
	Key                 []byte           `json:"key,omitempty"`
}

func (s *Service) saveHistory(ctx context.Context, m *model.Message) {
	if s.opts.History == nil {
		return
	}

	data, err := json.Marshal(historyRecord{
		ID:                  m.ID,
		AuthorKind:          m.AuthorKind,
		Timestamp:           m.Timestamp,
		SelfDestructTimeout: m.SelfDestructTimeout,
		Hash:                m.Hash,
		Key:                 m.Key,
	})
	if err != nil {
		s.logger.Error("marshal history record failed", zap.Error(err))
		return
	}
	if err := s.opts.History.Set(ctx, historyPrefix+m.ID, data); err != nil {
		s.logger.Warn("history write failed", zap.String("id", m.ID), zap.Error(err))
	}
}

func (s *Service) removeHistory(ctx context.Context, id string) {
	if s.opts.History == nil {
		return
	}
	if err := s.opts.History.Remove(ctx, historyPrefix+id); err != nil {
		s.logger.Debug("history remove failed", zap.String("id", id), zap.Error(err))
	}
}

// RestoreHistory loads previously stored messages, oldest first, ahead of
// any message already in the chat. Values are resolved lazily. Messages with
// a self-destruct timeout expire relative to their original timestamp.
func (s *Service) RestoreHistory(ctx context.Context) (int, error) {
	if s.opts.History == nil {
		return 0, nil
	}

	keys, err := s.opts.History.Keys(ctx, historyPrefix)
	if err != nil {
		return 0, err
	}

	restored := make([]*model.Message, 0, len(keys))
	for _, k := range keys {
		data, err := s.opts.History.Get(ctx, k)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}

		var r historyRecord
		if err := json.Unmarshal(data, &r); err != nil {
			s.logger.Warn("skipping malformed history record", zap.String("key", k), zap.Error(err))
			continue
		}
		restored = append(restored, &model.Message{
			ID:                  r.ID,
			AuthorKind:          r.AuthorKind,
			Timestamp:           r.Timestamp,
			SelfDestructTimeout: r.SelfDestructTimeout,
			Hash:                r.Hash,
			Key:                 r.Key,
		})
	}
	sort.SliceStable(restored, func(i, j int) bool {
		return restored[i].Timestamp.Before(restored[j].Timestamp)
	})

	s.mu.Lock()
	s.messages = append(restored, s.messages...)
	s.confirm.Inserted(len(restored))
	s.mu.Unlock()

	for _, m := range restored {
		if m.SelfDestructTimeout > 0 {
			go s.expire(m.ID, time.Until(m.Timestamp.Add(m.SelfDestructTimeout+s.opts.MessageExpiryGrace)))
		}
	}
	return len(restored), nil
}
