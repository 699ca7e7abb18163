package store_test

import (
	"context"
	"errors"
	"testing"

	"castle_chat/internal/model"
	"castle_chat/internal/storage"
	"castle_chat/internal/store"
)

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := store.NewEncryptedMap[*model.MessageValue](storage.NewMemoryStorage(), "chat/messageValues")
	tag := []byte("m1|1700000000000")

	sum, key, err := m.Put(ctx, "m1", model.TextValue("hi"), tag)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(sum) == 0 || len(key) != 32 {
		t.Fatalf("bad hash/key lengths %d %d", len(sum), len(key))
	}

	v, err := m.Get(ctx, "m1", key, sum, tag)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v.Text == nil || *v.Text != "hi" {
		t.Fatalf("got %+v", v)
	}

	if _, err := m.Get(ctx, "m1", key, sum, []byte("other tag")); !errors.Is(err, store.ErrIntegrityMismatch) {
		t.Fatalf("wrong tag: %v", err)
	}

	other := make([]byte, 32)
	if _, err := m.Get(ctx, "m1", other, sum, tag); !errors.Is(err, store.ErrIntegrityMismatch) {
		t.Fatalf("wrong key: %v", err)
	}
}

func TestTamperedCiphertext(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStorage()
	m := store.NewEncryptedMap[string](s, "values")
	tag := []byte("t")

	sum, key, err := m.Put(ctx, "x", "payload", tag)
	if err != nil {
		t.Fatal(err)
	}

	ct, err := s.Get(ctx, "values/x")
	if err != nil {
		t.Fatal(err)
	}
	for i := range ct {
		mutated := append([]byte(nil), ct...)
		mutated[i] ^= 0x01
		_ = s.Set(ctx, "values/x", mutated)

		if _, err := m.Get(ctx, "x", key, sum, tag); !errors.Is(err, store.ErrIntegrityMismatch) {
			t.Fatalf("byte %d: expected integrity mismatch, got %v", i, err)
		}
	}
}

func TestNotFound(t *testing.T) {
	m := store.NewEncryptedMap[string](storage.NewMemoryStorage(), "values")
	if _, err := m.Get(context.Background(), "nope", make([]byte, 32), nil, nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLayeredLookupOrder(t *testing.T) {
	ctx := context.Background()
	local := store.NewEncryptedMap[string](storage.NewMemoryStorage(), "values")
	persisted := store.NewEncryptedMap[string](storage.NewMemoryStorage(), "values")
	l := store.NewLayered(local, persisted)

	sumP, keyP, err := l.Put(ctx, "p", "persisted", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	sumL, keyL, err := l.Put(ctx, "l", "local", nil, true)
	if err != nil {
		t.Fatal(err)
	}

	if ok, _ := persisted.Has(ctx, "l"); ok {
		t.Fatal("local value leaked to persisted layer")
	}

	if v, err := l.Get(ctx, "p", keyP, sumP, nil); err != nil || v != "persisted" {
		t.Fatalf("persisted lookup: %q %v", v, err)
	}
	if v, err := l.Get(ctx, "l", keyL, sumL, nil); err != nil || v != "local" {
		t.Fatalf("local lookup: %q %v", v, err)
	}

	// a local entry shadows the persisted one
	ct, _ := persisted.Raw(ctx, "p")
	_ = local.Import(ctx, "p", append(ct[:len(ct)-1:len(ct)-1], ct[len(ct)-1]^1))
	if _, err := l.Get(ctx, "p", keyP, sumP, nil); !errors.Is(err, store.ErrIntegrityMismatch) {
		t.Fatalf("expected local layer to be probed first, got %v", err)
	}

	if err := l.Remove(ctx, "p"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Get(ctx, "p", keyP, sumP, nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("after remove: %v", err)
	}

	ids, err := local.IDs(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "l" {
		t.Fatalf("IDs: %v %v", ids, err)
	}
}
