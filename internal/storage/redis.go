package storage

import (
	"context"
	"strings"
	"time"

	"castle_chat/internal/service/redis"
)

// RedisStorage keeps blobs under "<namespace>:<path>" with an optional TTL.
type RedisStorage struct {
	redis     *redis.RedisService
	namespace string
	ttl       time.Duration
}

var _ Storage = (*RedisStorage)(nil)

func NewRedisStorage(svc *redis.RedisService, namespace string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{
		redis:     svc,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (s *RedisStorage) key(path string) string {
	return s.namespace + ":" + path
}

func (s *RedisStorage) Get(ctx context.Context, path string) ([]byte, error) {
	v, err := s.redis.GetBytes(ctx, s.key(path))
	if redis.IsNil(err) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *RedisStorage) Set(ctx context.Context, path string, value []byte) error {
	return s.redis.Set(ctx, s.key(path), value, s.ttl)
}

func (s *RedisStorage) Remove(ctx context.Context, path string) error {
	return s.redis.Del(ctx, s.key(path))
}

func (s *RedisStorage) HasKey(ctx context.Context, path string) (bool, error) {
	return s.redis.Exists(ctx, s.key(path))
}

func (s *RedisStorage) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.redis.Scan(ctx, escapeGlob(s.key(prefix))+"*")
	if err != nil {
		return nil, err
	}

	trim := s.namespace + ":"
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, trim)
	}
	return keys, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
