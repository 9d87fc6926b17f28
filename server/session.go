package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session is one authenticated WebSocket connection to the relay.
type Session struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Guest       bool      `json:"guest"`
	ConnectedAt time.Time `json:"connected_at"`

	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewSession(conn *websocket.Conn, remoteAddr string, guest bool) *Session {
	return &Session{
		ID:          uuid.NewString(),
		RemoteAddr:  remoteAddr,
		Guest:       guest,
		ConnectedAt: time.Now(),
		conn:        conn,
	}
}

func (s *Session) Send(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	slog.Debug("Sent WebSocket Message", "to", s.ID, "size", len(frame))
	return nil
}

// Close sends a close frame with code and reason, then drops the connection.
func (s *Session) Close(code int, reason string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return s.conn.Close()
}
