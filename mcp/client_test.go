package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/carelink/client"
	"github.com/mbocsi/carelink/dashboard"
	"github.com/mbocsi/carelink/proto"
)

type fakeConn struct {
	state      client.State
	sent       []any
	connectErr error
	disconnect int
}

func (f *fakeConn) Status() client.Status { return client.Status{State: f.state} }

func (f *fakeConn) Send(msg any) error {
	if f.state != client.Connected {
		return client.ErrNotConnected
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeConn) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = client.Connected
	return nil
}

func (f *fakeConn) Disconnect() {
	f.disconnect++
	f.state = client.Disconnected
}

type session bool

func (s session) Authenticated() bool { return bool(s) }

func newTestClient(conn *fakeConn, notes NotificationSource, sess Session) *MCPClient {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMCPClient(NewMCPServer(logger), conn, notes, sess)
}

func callRequest(t *testing.T, name string, args map[string]any) mcp.CallToolRequest {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"method": "tools/call",
		"params": map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)
	var req mcp.CallToolRequest
	require.NoError(t, json.Unmarshal(raw, &req))
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "unexpected content %T", res.Content[0])
	return text.Text
}

func TestConnectionStatusTool(t *testing.T) {
	notes := dashboard.New(nil, nil)
	notes.IncrementUnread()
	m := newTestClient(&fakeConn{state: client.Connected}, notes, nil)

	res, err := m.handleConnectionStatus(context.Background(), callRequest(t, "connection_status", nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"connection":{"state":"connected","attempts":0,"interval_ns":0},"unread":1}`, resultText(t, res))
}

func TestSendMessageTool(t *testing.T) {
	conn := &fakeConn{}
	m := newTestClient(conn, nil, session(true))
	req := callRequest(t, "send_message", map[string]any{
		"type":    "ack",
		"payload": map[string]any{"deliveryId": "D1", "type": "ignored"},
	})

	res, err := m.handleSendMessage(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "not open")

	conn.state = client.Connected
	res, err = m.handleSendMessage(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, conn.sent, 1)
	assert.Equal(t, proto.Outbound{"type": "ack", "deliveryId": "D1"}, conn.sent[0])
}

func TestSendMessageRequiresType(t *testing.T) {
	m := newTestClient(&fakeConn{state: client.Connected}, nil, nil)
	res, err := m.handleSendMessage(context.Background(), callRequest(t, "send_message", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestToolsRequireSession(t *testing.T) {
	conn := &fakeConn{state: client.Connected}
	m := newTestClient(conn, nil, session(false))
	ctx := context.Background()

	for name, handler := range map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"send_message": m.handleSendMessage,
		"connect":      m.handleConnect,
		"disconnect":   m.handleDisconnect,
	} {
		res, err := handler(ctx, callRequest(t, name, map[string]any{"type": "ack"}))
		require.NoError(t, err)
		assert.True(t, res.IsError, name)
	}
	assert.Empty(t, conn.sent)
	assert.Zero(t, conn.disconnect)
}

func TestConnectAndDisconnectTools(t *testing.T) {
	conn := &fakeConn{}
	m := newTestClient(conn, nil, nil)
	ctx := context.Background()

	res, err := m.handleConnect(ctx, callRequest(t, "connect", nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), `"state":"connected"`)

	res, err = m.handleDisconnect(ctx, callRequest(t, "disconnect", nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), `"state":"disconnected"`)
	assert.Equal(t, 1, conn.disconnect)

	conn.connectErr = client.ErrTransportUnsupported
	res, err = m.handleConnect(ctx, callRequest(t, "connect", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestListNotificationsTool(t *testing.T) {
	notes := dashboard.New(nil, nil)
	notes.Notify(proto.LevelInfo, "one")
	notes.Notify(proto.LevelDanger, "two")
	notes.Notify(proto.LevelInfo, "three")
	m := newTestClient(&fakeConn{}, notes, nil)

	res, err := m.handleListNotifications(context.Background(), callRequest(t, "list_notifications", map[string]any{
		"limit": 1,
		"level": "info",
	}))
	require.NoError(t, err)

	var body struct {
		Notifications []dashboard.Notification `json:"notifications"`
		Count         int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "three", body.Notifications[0].Text)
}
