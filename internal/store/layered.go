package store

import (
	"context"
	"errors"
)

// Layered reads from Local first and falls back to Persisted when the id is
// not held locally.
type Layered[T any] struct {
	Local     *EncryptedMap[T]
	Persisted *EncryptedMap[T]
}

func NewLayered[T any](local, persisted *EncryptedMap[T]) *Layered[T] {
	return &Layered[T]{Local: local, Persisted: persisted}
}

func (l *Layered[T]) Put(ctx context.Context, id string, value T, tag []byte, local bool) (sum, key []byte, err error) {
	if local {
		return l.Local.Put(ctx, id, value, tag)
	}
	return l.Persisted.Put(ctx, id, value, tag)
}

func (l *Layered[T]) Get(ctx context.Context, id string, key, expectedHash, tag []byte) (T, error) {
	v, err := l.Local.Get(ctx, id, key, expectedHash, tag)
	if errors.Is(err, ErrNotFound) {
		return l.Persisted.Get(ctx, id, key, expectedHash, tag)
	}
	return v, err
}

func (l *Layered[T]) Raw(ctx context.Context, id string) ([]byte, error) {
	ct, err := l.Local.Raw(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return l.Persisted.Raw(ctx, id)
	}
	return ct, err
}

// Remove deletes id from both layers.
func (l *Layered[T]) Remove(ctx context.Context, id string) error {
	return errors.Join(l.Local.Remove(ctx, id), l.Persisted.Remove(ctx, id))
}
