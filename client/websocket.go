package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{Dialer: websocket.DefaultDialer}
}

func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, _, err := d.Dialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket server: %w", err)
	}
	return &webSocketConn{conn: conn}, nil
}

type webSocketConn struct {
	conn *websocket.Conn
}

func (c *webSocketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if negotiatedClose(err) {
			return nil, fmt.Errorf("%w: %v", ErrCleanClose, err)
		}
		return nil, fmt.Errorf("WebSocket connection error: %w", err)
	}
	return data, nil
}

// negotiatedClose reports whether the peer sent a close frame. 1005 and
// 1006 are synthesized locally when no frame or no status arrived.
func negotiatedClose(err error) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code != websocket.CloseAbnormalClosure && ce.Code != websocket.CloseNoStatusReceived
}

func (c *webSocketConn) WriteMessage(data []byte) error {
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send WebSocket message: %w", err)
	}
	return nil
}

func (c *webSocketConn) CloseNormal() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	// Control frames may be written concurrently with WriteMessage.
	werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	if werr != nil {
		werr = fmt.Errorf("failed to send close message: %w", werr)
	}
	return errors.Join(werr, c.conn.Close())
}

func (c *webSocketConn) Close() error {
	return c.conn.Close()
}
