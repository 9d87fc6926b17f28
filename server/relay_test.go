package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/carelink/client"
	"github.com/mbocsi/carelink/dashboard"
	"github.com/mbocsi/carelink/proto"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startRelay(t *testing.T, opts ...Option) (*Relay, *httptest.Server) {
	t.Helper()
	relay := NewRelay("", append([]Option{WithLogger(quietLogger())}, opts...)...)
	srv := httptest.NewServer(relay.Routes())
	t.Cleanup(func() {
		relay.Shutdown(context.Background())
		srv.Close()
	})
	return relay, srv
}

func dialRelay(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func authenticate(t *testing.T, conn *websocket.Conn, token string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(proto.NewAuthenticate(token)))
}

func TestHandshakeRequiresAuthenticate(t *testing.T) {
	relay, srv := startRelay(t)
	conn := dialRelay(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ack"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.Zero(t, relay.Sessions().Len())
}

func TestGuestAuthenticateOpensSession(t *testing.T) {
	relay, srv := startRelay(t)
	conn := dialRelay(t, srv)

	authenticate(t, conn, "")

	require.Eventually(t, func() bool { return relay.Sessions().Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	s := relay.Sessions().List()[0]
	assert.True(t, s.Guest)
	assert.NotEmpty(t, s.ID)
}

func TestAuthenticatorRejectsToken(t *testing.T) {
	relay, srv := startRelay(t, WithAuthenticator(func(token string) error {
		if token != "good" {
			return errors.New("unknown token")
		}
		return nil
	}))

	bad := dialRelay(t, srv)
	authenticate(t, bad, "bad")
	bad.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := bad.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)

	good := dialRelay(t, srv)
	authenticate(t, good, "good")
	require.Eventually(t, func() bool { return relay.Sessions().Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, relay.Sessions().List()[0].Guest)
}

func TestMaxSessions(t *testing.T) {
	relay, srv := startRelay(t, WithMaxSessions(1))

	first := dialRelay(t, srv)
	authenticate(t, first, "")
	require.Eventually(t, func() bool { return relay.Sessions().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	second := dialRelay(t, srv)
	authenticate(t, second, "")
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
	assert.Equal(t, 1, relay.Sessions().Len())
}

func TestPushFansOutToSessions(t *testing.T) {
	relay, srv := startRelay(t)
	a := dialRelay(t, srv)
	b := dialRelay(t, srv)
	authenticate(t, a, "")
	authenticate(t, b, "")
	require.Eventually(t, func() bool { return relay.Sessions().Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/push", "application/json", strings.NewReader(`{"type":"alert","content":"Fall detected"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body pushResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Delivered)

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"alert","content":"Fall detected"}`, string(data))
	}
}

func TestPushRejectsUntypedFrames(t *testing.T) {
	_, srv := startRelay(t)

	for _, body := range []string{`{"content":"x"}`, `not json`} {
		resp, err := http.Post(srv.URL+"/push", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestSessionsRoute(t *testing.T) {
	relay, srv := startRelay(t)
	conn := dialRelay(t, srv)
	authenticate(t, conn, "tok")
	require.Eventually(t, func() bool { return relay.Sessions().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(srv.URL + "/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var sessions []Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessions))
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].Guest)
}

func TestRealtimeClientAgainstRelay(t *testing.T) {
	var (
		mu     sync.Mutex
		frames []string
	)
	relay, srv := startRelay(t, WithFrameHandler(func(id string, frame []byte) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, string(frame))
	}))

	dash := dashboard.New(nil, quietLogger())
	c := client.NewClient(srv.URL, client.NewWebSocketDialer(), dash,
		client.WithLogConfig(client.SuppressedLogConfig()))

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()
	require.Equal(t, client.Connected, c.State())
	require.Eventually(t, func() bool { return relay.Sessions().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err := relay.Broadcast([]byte(`{"type":"delivery_status","deliveryId":"D1","status":"in_transit","location":"5th Ave"}`))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return dash.Notifications()[0].Text == "Delivery D1 is in_transit (5th Ave)"
	}, 2*time.Second, 10*time.Millisecond)
	del, ok := dash.Delivery("D1")
	require.True(t, ok)
	assert.Equal(t, "5th Ave", del.Location)

	require.NoError(t, c.Send(proto.Outbound{"type": "ack", "deliveryId": "D1"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 1
	}, 2*time.Second, 10*time.Millisecond)

	c.Disconnect()
	require.Eventually(t, func() bool { return relay.Sessions().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, client.Disconnected, c.State())
}

func TestShutdownClosesPendingHandshakes(t *testing.T) {
	relay, srv := startRelay(t)
	conn := dialRelay(t, srv)

	require.NoError(t, relay.Shutdown(context.Background()))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestUpgradeRefusedAfterShutdown(t *testing.T) {
	relay, srv := startRelay(t)
	require.NoError(t, relay.Shutdown(context.Background()))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Zero(t, relay.Sessions().Len())
}

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

func TestRejectedClientDoesNotReconnect(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		fill bool
	}{
		{name: "policy violation", opts: []Option{WithAuthenticator(func(string) error { return errors.New("no guests") })}},
		{name: "relay full", opts: []Option{WithMaxSessions(1)}, fill: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay, srv := startRelay(t, tt.opts...)
			if tt.fill {
				authenticate(t, dialRelay(t, srv), "")
				require.Eventually(t, func() bool { return relay.Sessions().Len() == 1 }, 2*time.Second, 10*time.Millisecond)
			}

			var (
				mu        sync.Mutex
				scheduled []time.Duration
			)
			afterFunc := func(d time.Duration, f func()) client.Timer {
				mu.Lock()
				defer mu.Unlock()
				scheduled = append(scheduled, d)
				return noopTimer{}
			}

			dash := dashboard.New(nil, quietLogger())
			c := client.NewClient(srv.URL, client.NewWebSocketDialer(), dash,
				client.WithLogConfig(client.SuppressedLogConfig()),
				client.WithAfterFunc(afterFunc))
			require.NoError(t, c.Connect(context.Background()))
			defer c.Disconnect()

			require.Eventually(t, func() bool { return c.State() == client.Disconnected }, 2*time.Second, 10*time.Millisecond)

			mu.Lock()
			assert.Empty(t, scheduled)
			mu.Unlock()
			for _, n := range dash.Notifications() {
				assert.NotEqual(t, proto.LevelWarning, n.Level, n.Text)
				assert.NotEqual(t, proto.LevelDanger, n.Level, n.Text)
			}
		})
	}
}
