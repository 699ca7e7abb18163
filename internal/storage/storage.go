// Package storage defines the blob storage contract used for message values
// and chat history, along with an in-memory and a Redis implementation.
package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("storage: not found")

type Storage interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Set(ctx context.Context, path string, value []byte) error
	Remove(ctx context.Context, path string) error
	HasKey(ctx context.Context, path string) (bool, error)
	// Keys lists the stored paths beginning with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
