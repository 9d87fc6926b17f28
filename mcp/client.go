package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbocsi/carelink/client"
	"github.com/mbocsi/carelink/dashboard"
	"github.com/mbocsi/carelink/proto"
)

// Connection is the part of the realtime client the tools drive.
type Connection interface {
	Status() client.Status
	Send(msg any) error
	Connect(ctx context.Context) error
	Disconnect()
}

// NotificationSource is usually the dashboard state.
type NotificationSource interface {
	Notifications() []dashboard.Notification
	Unread() int
}

type Session interface {
	Authenticated() bool
}

// MCPClient registers realtime tools on an MCP server.
type MCPClient struct {
	mcpServer *MCPServer
	conn      Connection
	notes     NotificationSource
	session   Session // nil disables gating
}

func NewMCPClient(mcpServer *MCPServer, conn Connection, notes NotificationSource, session Session) *MCPClient {
	m := &MCPClient{
		mcpServer: mcpServer,
		conn:      conn,
		notes:     notes,
		session:   session,
	}
	m.registerConnectionTools()
	m.registerNotificationTools()
	return m
}

func (m *MCPClient) Start() error {
	return m.mcpServer.Run()
}

func (m *MCPClient) registerConnectionTools() {
	statusTool := mcp.NewTool("connection_status",
		mcp.WithDescription("Show the realtime connection state, reconnect attempts and unread count"),
	)
	m.mcpServer.Server.AddTool(statusTool, m.handleConnectionStatus)

	sendTool := mcp.NewTool("send_message",
		mcp.WithDescription("Send a frame over the open realtime connection"),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Frame type tag"),
		),
		mcp.WithObject("payload",
			mcp.Description("Additional frame fields, merged next to type"),
		),
	)
	m.mcpServer.Server.AddTool(sendTool, m.handleSendMessage)

	connectTool := mcp.NewTool("connect",
		mcp.WithDescription("Open the realtime connection if it is not already open"),
	)
	m.mcpServer.Server.AddTool(connectTool, m.handleConnect)

	disconnectTool := mcp.NewTool("disconnect",
		mcp.WithDescription("Close the realtime connection without reconnecting"),
	)
	m.mcpServer.Server.AddTool(disconnectTool, m.handleDisconnect)
}

func (m *MCPClient) registerNotificationTools() {
	listTool := mcp.NewTool("list_notifications",
		mcp.WithDescription("List recent notifications, newest first"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of notifications (default 20)"),
		),
		mcp.WithString("level",
			mcp.Description("Only return notifications of this level"),
			mcp.Enum(string(proto.LevelInfo), string(proto.LevelSuccess), string(proto.LevelWarning), string(proto.LevelDanger)),
		),
	)
	m.mcpServer.Server.AddTool(listTool, m.handleListNotifications)
}

func (m *MCPClient) requireSession() *mcp.CallToolResult {
	if m.session != nil && !m.session.Authenticated() {
		return mcp.NewToolResultError("Not signed in. Run `carelink login` first.")
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (m *MCPClient) handleConnectionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result := map[string]any{
		"connection": m.conn.Status(),
	}
	if m.notes != nil {
		result["unread"] = m.notes.Unread()
	}
	return jsonResult(result)
}

func (m *MCPClient) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := m.requireSession(); res != nil {
		return res, nil
	}

	msgType, err := request.RequireString("type")
	if err != nil || msgType == "" {
		return mcp.NewToolResultError("type is required and must be a string"), nil
	}

	msg := proto.Outbound{}
	if payload, ok := request.GetArguments()["payload"].(map[string]any); ok {
		for k, v := range payload {
			msg[k] = v
		}
	}
	msg["type"] = msgType

	if err := m.conn.Send(msg); err != nil {
		if errors.Is(err, client.ErrNotConnected) {
			return mcp.NewToolResultError("Realtime connection is not open"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to send message: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Sent %s frame", msgType)), nil
}

func (m *MCPClient) handleConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := m.requireSession(); res != nil {
		return res, nil
	}

	err := m.conn.Connect(ctx)
	if errors.Is(err, client.ErrTransportUnsupported) || errors.Is(err, client.ErrBadEndpoint) {
		return mcp.NewToolResultError(fmt.Sprintf("Realtime updates are unavailable: %v", err)), nil
	}
	// Dial failures leave a reconnect scheduled; the status shows it.
	return jsonResult(m.conn.Status())
}

func (m *MCPClient) handleDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := m.requireSession(); res != nil {
		return res, nil
	}
	m.conn.Disconnect()
	return jsonResult(m.conn.Status())
}

func (m *MCPClient) handleListNotifications(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if m.notes == nil {
		return mcp.NewToolResultError("Notification history is not available"), nil
	}

	limit := int(request.GetFloat("limit", 20))
	if limit <= 0 {
		limit = 20
	}
	level := proto.Level(request.GetString("level", ""))

	out := make([]dashboard.Notification, 0, limit)
	for _, n := range m.notes.Notifications() {
		if len(out) >= limit {
			break
		}
		if level != "" && n.Level != level {
			continue
		}
		out = append(out, n)
	}

	return jsonResult(map[string]any{
		"notifications": out,
		"count":         len(out),
		"unread":        m.notes.Unread(),
	})
}
