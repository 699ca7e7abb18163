// Package store implements a content addressed encrypted map. Every value is
// sealed under a fresh one-time key; the caller keeps the key and the
// ciphertext hash and presents both to read the value back.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"castle_chat/internal/cryptographic/encryption"
	"castle_chat/internal/cryptographic/hash"
	"castle_chat/internal/cryptographic/secret"
	"castle_chat/internal/storage"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrIntegrityMismatch = errors.New("store: integrity mismatch")
)

type EncryptedMap[T any] struct {
	storage storage.Storage
	url     string
}

func NewEncryptedMap[T any](s storage.Storage, url string) *EncryptedMap[T] {
	return &EncryptedMap[T]{
		storage: s,
		url:     strings.TrimSuffix(url, "/"),
	}
}

func (m *EncryptedMap[T]) path(id string) string {
	return m.url + "/" + id
}

// Put seals value under a fresh key, stores it under id, and returns the
// ciphertext hash and the key. The key is not retained.
func (m *EncryptedMap[T]) Put(ctx context.Context, id string, value T, tag []byte) (sum, key []byte, err error) {
	plain, err := json.Marshal(value)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal value: %w", err)
	}
	defer secret.Wipe(plain)

	k, err := encryption.NewKey()
	if err != nil {
		return nil, nil, err
	}
	defer secret.Wipe(k[:])

	ct, err := encryption.Seal(k, plain)
	if err != nil {
		return nil, nil, err
	}

	if err := m.storage.Set(ctx, m.path(id), ct); err != nil {
		return nil, nil, fmt.Errorf("store %s: %w", id, err)
	}

	return hash.Sum(tag, ct), append([]byte(nil), k[:]...), nil
}

func (m *EncryptedMap[T]) Get(ctx context.Context, id string, key, expectedHash, tag []byte) (T, error) {
	var zero T

	ct, err := m.Raw(ctx, id)
	if err != nil {
		return zero, err
	}

	if !hash.Equal(hash.Sum(tag, ct), expectedHash) {
		return zero, fmt.Errorf("%s: %w", id, ErrIntegrityMismatch)
	}

	k, err := encryption.KeyFromBytes(key)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", id, ErrIntegrityMismatch)
	}
	defer secret.Wipe(k[:])

	plain, err := encryption.Open(k, ct)
	if err != nil {
		return zero, fmt.Errorf("%s: %w: %v", id, ErrIntegrityMismatch, err)
	}
	defer secret.Wipe(plain)

	var v T
	if err := json.Unmarshal(plain, &v); err != nil {
		return zero, fmt.Errorf("%s: %w: %v", id, ErrIntegrityMismatch, err)
	}
	return v, nil
}

// Raw returns the stored ciphertext for id.
func (m *EncryptedMap[T]) Raw(ctx context.Context, id string) ([]byte, error) {
	ct, err := m.storage.Get(ctx, m.path(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return ct, nil
}

// Import stores ciphertext received out of band. It is verified on Get.
func (m *EncryptedMap[T]) Import(ctx context.Context, id string, ct []byte) error {
	return m.storage.Set(ctx, m.path(id), ct)
}

func (m *EncryptedMap[T]) Has(ctx context.Context, id string) (bool, error) {
	return m.storage.HasKey(ctx, m.path(id))
}

func (m *EncryptedMap[T]) Remove(ctx context.Context, id string) error {
	return m.storage.Remove(ctx, m.path(id))
}

// IDs lists every id stored under the map.
func (m *EncryptedMap[T]) IDs(ctx context.Context) ([]string, error) {
	keys, err := m.storage.Keys(ctx, m.url+"/")
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, m.url+"/")
	}
	return keys, nil
}
