// Package server is a development relay that speaks the realtime protocol:
// clients connect to /ws and authenticate, and frames posted to /push are
// fanned out to every session.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/mbocsi/carelink/proto"
)

const maxFrameSize = 1 << 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Authenticator decides whether the token from an authenticate frame may
// open a session. The guest token is passed through like any other.
type Authenticator func(token string) error

func allowAll(string) error { return nil }

type Relay struct {
	Addr        string
	sessions    *SessionRegistry
	auth        Authenticator
	authTimeout time.Duration
	onFrame     func(sessionID string, frame []byte)
	logger      *slog.Logger

	mu      sync.Mutex
	server  *http.Server
	closing bool
	conns   map[*websocket.Conn]struct{} // upgraded, with or without a session
}

type Option func(*Relay)

func WithMaxSessions(n int) Option {
	return func(r *Relay) { r.sessions = NewSessionRegistry(n) }
}

func WithAuthenticator(a Authenticator) Option {
	return func(r *Relay) { r.auth = a }
}

func WithAuthTimeout(d time.Duration) Option {
	return func(r *Relay) { r.authTimeout = d }
}

// WithFrameHandler registers a callback for frames sent by clients after
// they authenticated.
func WithFrameHandler(fn func(sessionID string, frame []byte)) Option {
	return func(r *Relay) { r.onFrame = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

func NewRelay(addr string, opts ...Option) *Relay {
	r := &Relay{
		Addr:        addr,
		sessions:    NewSessionRegistry(16),
		auth:        allowAll,
		authTimeout: 10 * time.Second,
		logger:      slog.Default(),
		conns:       make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Sessions() *SessionRegistry {
	return r.sessions
}

func (r *Relay) Routes() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Get("/ws", r.handleWebSocket)
	mux.Post("/push", r.handlePush)
	mux.Get("/sessions", r.handleSessions)
	return mux
}

func (r *Relay) Start() error {
	l, err := net.Listen("tcp", r.Addr)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	return r.Serve(l)
}

// Serve accepts connections on l until Shutdown.
func (r *Relay) Serve(l net.Listener) error {
	r.logger.Info("Starting relay", "addr", l.Addr().String())

	srv := &http.Server{
		Handler:           r.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		l.Close()
		return nil
	}
	r.server = srv
	r.mu.Unlock()

	err := srv.Serve(l)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}

// Shutdown stops accepting WebSocket upgrades, closes every connection with
// "going away" and stops the HTTP server. Clients see a negotiated close
// and do not reconnect.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.logger.Info("Shutting down relay", "addr", r.Addr)

	r.mu.Lock()
	r.closing = true
	srv := r.server
	conns := make([]*websocket.Conn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.Unlock()

	for _, s := range r.sessions.List() {
		s.Close(websocket.CloseGoingAway, "relay shutting down")
		r.sessions.Delete(s.ID)
	}
	// Connections still in the authenticate handshake have no session yet.
	for _, conn := range conns {
		goingAway(conn)
	}

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func goingAway(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
}

// track registers an upgraded connection. It fails once Shutdown started.
func (r *Relay) track(conn *websocket.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return false
	}
	r.conns[conn] = struct{}{}
	return true
}

func (r *Relay) untrack(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, conn)
}

func (r *Relay) isClosing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closing
}

// Broadcast writes frame to every session and returns how many received it.
// The frame must be a JSON object with a non-empty "type".
func (r *Relay) Broadcast(frame []byte) (int, error) {
	var env proto.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return 0, fmt.Errorf("frame is not a JSON object: %w", err)
	}
	if env.Type == "" {
		return 0, proto.ErrMissingType
	}

	delivered := 0
	for _, s := range r.sessions.List() {
		if err := s.Send(frame); err != nil {
			r.logger.Warn("Failed to push frame", "session", s.ID, "error", err)
			continue
		}
		delivered++
	}
	r.logger.Debug("Broadcast frame", "type", env.Type, "delivered", delivered)
	return delivered, nil
}

func (r *Relay) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	if r.isClosing() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Code: "UNAVAILABLE", Message: "relay is shutting down"})
		return
	}
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("Failed to upgrade connection", "error", err)
		return
	}
	if !r.track(conn) {
		goingAway(conn)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	go r.handleConnection(conn, req.RemoteAddr)
}

func (r *Relay) handleConnection(conn *websocket.Conn, remoteAddr string) {
	defer r.untrack(conn)

	auth, err := r.handshake(conn)
	if err != nil {
		r.logger.Warn("Rejected WebSocket client", "addr", remoteAddr, "error", err)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	session := NewSession(conn, remoteAddr, auth.Token == proto.GuestToken)
	if !r.sessions.Store(session) {
		r.logger.Warn("Max sessions reached, rejecting connection", "addr", remoteAddr)
		session.Close(websocket.CloseTryAgainLater, "too many sessions")
		return
	}
	r.logger.Info("WebSocket client connected", "addr", remoteAddr, "id", session.ID, "guest", session.Guest)

	defer func() {
		r.sessions.Delete(session.ID)
		conn.Close()
		r.logger.Info("WebSocket client disconnected", "addr", remoteAddr, "id", session.ID)
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Warn("WebSocket connection error", "addr", remoteAddr, "error", err)
			}
			return
		}
		r.logger.Debug("WebSocket message received", "sender", session.ID, "size", len(frame))
		if r.onFrame != nil {
			r.onFrame(session.ID, frame)
		}
	}
}

// handshake reads the first frame, which must be an authenticate frame
// accepted by the authenticator.
func (r *Relay) handshake(conn *websocket.Conn) (proto.Authenticate, error) {
	var auth proto.Authenticate

	conn.SetReadDeadline(time.Now().Add(r.authTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return auth, fmt.Errorf("no authenticate frame: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	if err := json.Unmarshal(data, &auth); err != nil {
		return auth, fmt.Errorf("invalid authenticate frame: %w", err)
	}
	if auth.Type != proto.TypeAuthenticate {
		return auth, fmt.Errorf("expected %s frame, got %q", proto.TypeAuthenticate, auth.Type)
	}
	if err := r.auth(auth.Token); err != nil {
		return auth, fmt.Errorf("authentication failed: %w", err)
	}
	return auth, nil
}

type pushResponse struct {
	Delivered int `json:"delivered"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r *Relay) handlePush(w http.ResponseWriter, req *http.Request) {
	frame, err := io.ReadAll(io.LimitReader(req.Body, maxFrameSize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INVALID_INPUT", Message: err.Error()})
		return
	}

	n, err := r.Broadcast(frame)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INVALID_INPUT", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, pushResponse{Delivered: n})
}

func (r *Relay) handleSessions(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.sessions.List())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
