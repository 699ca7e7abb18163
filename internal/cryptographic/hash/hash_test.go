package hash_test

import (
	"testing"

	"castle_chat/internal/cryptographic/hash"
)

func TestSumBindsTag(t *testing.T) {
	data := []byte("ciphertext")
	a := hash.Sum([]byte("a"), data)
	if len(a) != hash.Size {
		t.Fatalf("size %d", len(a))
	}
	if !hash.Equal(a, hash.Sum([]byte("a"), data)) {
		t.Fatal("hash not deterministic")
	}
	if hash.Equal(a, hash.Sum([]byte("b"), data)) {
		t.Fatal("tag not bound")
	}
	// moving a byte between tag and data must change the digest
	if hash.Equal(hash.Sum([]byte("ab"), []byte("c")), hash.Sum([]byte("a"), []byte("bc"))) {
		t.Fatal("tag boundary not bound")
	}
	if hash.Equal(a, a[:10]) {
		t.Fatal("prefix compared equal")
	}
}
