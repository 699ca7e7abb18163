// Package secret keeps key material in guarded memory.
package secret

import (
	"errors"

	"github.com/awnumar/memguard"
)

var ErrEmpty = errors.New("secret: empty")

type Buffer struct {
	lb *memguard.LockedBuffer
}

// Move copies b into a locked buffer and wipes b.
func Move(b []byte) (*Buffer, error) {
	if len(b) == 0 {
		return nil, ErrEmpty
	}
	return &Buffer{lb: memguard.NewBufferFromBytes(b)}, nil
}

func (b *Buffer) Bytes() []byte {
	if !b.Alive() {
		return nil
	}
	return b.lb.Bytes()
}

func (b *Buffer) Alive() bool {
	return b != nil && b.lb != nil && b.lb.IsAlive()
}

func (b *Buffer) Destroy() {
	if b.Alive() {
		b.lb.Destroy()
	}
}

func Wipe(b []byte) {
	memguard.WipeBytes(b)
}
