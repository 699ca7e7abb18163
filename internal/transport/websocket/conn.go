package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"castle_chat/internal/model"
)

const maxFrameSize = 1 << 20

type (
	// Conn carries JSON frames over a websocket. Reads and writes may run
	// concurrently; writes are serialized.
	Conn struct {
		ws        *websocket.Conn
		writeMu   sync.Mutex
		closeOnce sync.Once
		closeErr  error
	}
)

func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(maxFrameSize)
	return &Conn{ws: ws}
}

// Dial opens a websocket to rawURL, e.g. ws://host/channels/<id>/ws?peer=<peer>.
func Dial(ctx context.Context, rawURL string) (*Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, &DialError{Status: resp.StatusCode, Err: err}
		}
		return nil, err
	}
	return NewConn(ws), nil
}

// DialError reports the HTTP status the relay answered with instead of
// upgrading.
type DialError struct {
	Status int
	Err    error
}

func (e *DialError) Error() string {
	return http.StatusText(e.Status) + ": " + e.Err.Error()
}

func (e *DialError) Unwrap() error { return e.Err }

func (c *Conn) ReadFrame(ctx context.Context) (model.Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	var f model.Frame
	if err := c.ws.ReadJSON(&f); err != nil {
		if ctx.Err() != nil {
			return f, ctx.Err()
		}
		return f, err
	}
	return f, nil
}

func (c *Conn) WriteFrame(ctx context.Context, f model.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.ws.WriteJSON(&f)
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// IsClosed reports whether err is the peer going away normally.
func IsClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
