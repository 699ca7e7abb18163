package server

import (
	"context"
	"encoding/json"
	"fmt"

	"castle_chat/internal/model"
)

func channelKey(id string) string {
	return fmt.Sprintf("channel:%s", id)
}

func peersKey(id string) string {
	return fmt.Sprintf("channel:%s:peers", id)
}

func queueKey(id, from string) string {
	return fmt.Sprintf("queue:%s:%s", id, from)
}

// GetFramesFromCache drains the frames peer from queued while alone.
func (s *HttpServer) GetFramesFromCache(ctx context.Context, id, from string) ([]model.Frame, error) {
	vals, err := s.redisService.LDrain(ctx, queueKey(id, from))
	if err != nil {
		return nil, err
	}

	res := make([]model.Frame, 0, len(vals))
	for _, v := range vals {
		var f model.Frame
		if err := json.Unmarshal([]byte(v), &f); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, nil
}

func (s *HttpServer) PutFramesToCache(ctx context.Context, id, from string, frames ...model.Frame) error {
	key := queueKey(id, from)
	vals := make([]any, 0, len(frames))
	for _, f := range frames {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		vals = append(vals, data)
	}

	if err := s.redisService.RPush(ctx, key, vals...); err != nil {
		return err
	}
	return s.redisService.Expire(ctx, key, s.channelTTL)
}
