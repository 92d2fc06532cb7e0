package parlance

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is the transport primitive a socket channel drives: UTF-8 text
// frames in, text frames out, close. The channel has a single reader per
// connection but calls WriteMessage from concurrent callers, so
// implementations MUST serialize writes.
type Conn interface {
	// ReadMessage blocks until the next inbound frame or a terminal error.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one text frame.
	WriteMessage(data []byte) error

	Close() error
}

// Dialer opens the underlying transport of a socket channel. The
// subprotocols carry the authentication credential when the channel
// requires one.
type Dialer interface {
	DialContext(ctx context.Context, url string, subprotocols []string) (Conn, error)
}

type wsDialer struct {
	dialer *websocket.Dialer
}

// newWSDialer wraps a `websocket.Dialer`, defaulting to the package one.
func newWSDialer(d *websocket.Dialer) Dialer {
	if d == nil {
		d = websocket.DefaultDialer
	}
	return &wsDialer{dialer: d}
}

func (wd *wsDialer) DialContext(ctx context.Context, url string, subprotocols []string) (Conn, error) {
	dialer := *wd.dialer
	if len(subprotocols) > 0 {
		dialer.Subprotocols = subprotocols
	}
	c, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil && err != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn

	// gorilla supports at most one concurrent writer.
	writeLk sync.Mutex
}

func (wc *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := wc.conn.ReadMessage()
	return data, err
}

func (wc *wsConn) WriteMessage(data []byte) error {
	wc.writeLk.Lock()
	defer wc.writeLk.Unlock()
	return wc.conn.WriteMessage(websocket.TextMessage, data)
}

func (wc *wsConn) Close() error {
	return wc.conn.Close()
}
