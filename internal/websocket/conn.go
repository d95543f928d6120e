package websocket

import (
	"context"
	"io"
	"net/http"

	"github.com/coder/websocket"

	"github.com/nfrund/chaats/internal/session"
)

// handshake is an upgrade request that has not been answered yet.
type handshake struct {
	w         http.ResponseWriter
	r         *http.Request
	opts      *websocket.AcceptOptions
	readLimit int64
}

func (h *handshake) Accept() (session.Conn, error) {
	ws, err := websocket.Accept(h.w, h.r, h.opts)
	if err != nil {
		return nil, err
	}
	if h.readLimit > 0 {
		ws.SetReadLimit(h.readLimit)
	}
	return &conn{ws: ws}, nil
}

// Reject completes the upgrade only to close it with code, so browsers see
// the close status instead of a bare HTTP error.
func (h *handshake) Reject(code session.StatusCode, reason string) error {
	ws, err := websocket.Accept(h.w, h.r, h.opts)
	if err != nil {
		return err
	}
	return ws.Close(websocket.StatusCode(code), reason)
}

// conn adapts a coder/websocket connection to session.Conn. Close status
// 1000 and 1001 from the peer surface as io.EOF.
type conn struct {
	ws *websocket.Conn
}

func (c *conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (c *conn) Write(ctx context.Context, payload []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, payload)
}

// Close starts the close handshake and returns without waiting for the peer,
// so a registry fan-out that closes a slow client is never held up by it.
func (c *conn) Close(code session.StatusCode, reason string) error {
	go func() {
		_ = c.ws.Close(websocket.StatusCode(code), reason)
	}()
	return nil
}
