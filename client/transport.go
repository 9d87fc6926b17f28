package client

import (
	"context"
	"errors"
)

// ErrCleanClose is wrapped by Conn.ReadMessage when the peer sent a close
// frame, whatever its code. Only a dropped connection is unclean.
var ErrCleanClose = errors.New("connection closed cleanly")

// Conn is one live bidirectional connection. ReadMessage is only called
// from a single reader goroutine; WriteMessage calls are serialized by the
// client.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	// CloseNormal performs the closing handshake before releasing the
	// connection.
	CloseNormal() error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}
