package session

import (
	"context"
	"io"
	"sync"

	"castle_chat/internal/model"
)

type pipeConn struct {
	in       <-chan model.Frame
	out      chan<- model.Frame
	done     chan struct{}
	peerDone chan struct{}
	once     *sync.Once
}

// Pipe returns two connected in-memory Conns.
func Pipe() (Conn, Conn) {
	ab := make(chan model.Frame, 64)
	ba := make(chan model.Frame, 64)
	aDone := make(chan struct{})
	bDone := make(chan struct{})

	a := &pipeConn{in: ba, out: ab, done: aDone, peerDone: bDone, once: &sync.Once{}}
	b := &pipeConn{in: ab, out: ba, done: bDone, peerDone: aDone, once: &sync.Once{}}
	return a, b
}

func (p *pipeConn) ReadFrame(ctx context.Context) (model.Frame, error) {
	// frames already queued are delivered even after the peer closed
	select {
	case f := <-p.in:
		return f, nil
	default:
	}

	select {
	case f := <-p.in:
		return f, nil
	case <-p.done:
		return model.Frame{}, io.EOF
	case <-p.peerDone:
		select {
		case f := <-p.in:
			return f, nil
		default:
			return model.Frame{}, io.EOF
		}
	case <-ctx.Done():
		return model.Frame{}, ctx.Err()
	}
}

func (p *pipeConn) WriteFrame(ctx context.Context, f model.Frame) error {
	select {
	case <-p.done:
		return io.ErrClosedPipe
	case <-p.peerDone:
		return io.ErrClosedPipe
	default:
	}

	select {
	case p.out <- f:
		return nil
	case <-p.done:
		return io.ErrClosedPipe
	case <-p.peerDone:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
