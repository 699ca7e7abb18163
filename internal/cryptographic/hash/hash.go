package hash

import (
	"crypto/subtle"
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

const Size = blake2b.Size256

// Sum hashes data bound to a context tag: blake2b-256(len(tag) || tag || data).
func Sum(tag, data []byte) []byte {
	h, _ := blake2b.New256(nil)

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(tag)))
	h.Write(n[:])
	h.Write(tag)
	h.Write(data)
	return h.Sum(nil)
}

func Equal(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
