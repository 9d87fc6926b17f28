package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closingServer upgrades every request and ends it the way the "code" query
// parameter says: a close frame with that code, or a dropped TCP connection
// when it is "drop".
func closingServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		how := r.URL.Query().Get("code")
		if how == "drop" {
			return
		}
		code, _ := strconv.Atoi(how)
		msg := websocket.FormatCloseMessage(code, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		// Wait for the client's close reply.
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialClosing(t *testing.T, srv *httptest.Server, how string) Conn {
	t.Helper()
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?code=" + how
	conn, err := NewWebSocketDialer().Dial(context.Background(), endpoint)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketCloseClassification(t *testing.T) {
	srv := closingServer(t)

	tests := []struct {
		how   string
		clean bool
	}{
		{"1000", true},
		{"1001", true},
		{"1008", true},
		{"1013", true},
		{"drop", false},
	}

	for _, tt := range tests {
		t.Run(tt.how, func(t *testing.T) {
			conn := dialClosing(t, srv, tt.how)
			_, err := conn.ReadMessage()
			require.Error(t, err)
			assert.Equal(t, tt.clean, errors.Is(err, ErrCleanClose), "got %v", err)
		})
	}
}

func TestCloseNormalReportsWriteFailure(t *testing.T) {
	srv := closingServer(t)
	conn := dialClosing(t, srv, "drop")

	_, err := conn.ReadMessage()
	require.Error(t, err)
	require.NoError(t, conn.Close())

	assert.Error(t, conn.CloseNormal())
}
