package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbocsi/carelink/proto"
)

var (
	ErrTransportUnsupported = errors.New("realtime transport is not supported")
	ErrNotConnected         = errors.New("realtime connection is not open")
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TokenSource supplies the credential sent in the authenticate frame.
type TokenSource interface {
	Token() string
}

type guestTokens struct{}

func (guestTokens) Token() string { return proto.GuestToken }

// Timer is the handle of a pending reconnect.
type Timer interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Option func(*Client)

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

func WithBackoff(b Backoff) Option {
	return func(c *Client) { c.backoff = b.withDefaults() }
}

func WithAfterFunc(fn AfterFunc) Option {
	return func(c *Client) { c.afterFunc = fn }
}

func WithLogConfig(lc LogConfig) Option {
	return func(c *Client) { c.logger = lc.Logger() }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Status is a point-in-time copy of the connection bookkeeping.
type Status struct {
	State    State         `json:"state"`
	Endpoint string        `json:"endpoint,omitempty"`
	Attempts int           `json:"attempts"`
	Interval time.Duration `json:"interval_ns"`
}

// Client keeps one realtime connection to the server derived from origin
// alive, reconnecting with backoff after unexpected drops, and routes
// inbound frames to the UI.
type Client struct {
	origin    string
	dialer    Dialer
	ui        UI
	tokens    TokenSource
	backoff   Backoff
	afterFunc AfterFunc
	logger    *slog.Logger

	mu       sync.Mutex
	baseCtx  context.Context
	state    State
	conn     Conn
	endpoint string
	gen      uint64 // bumped whenever the current transport is replaced or dropped
	interval time.Duration
	attempts int
	timer    Timer
	manual   bool // set by Disconnect, cleared by Connect

	writeMu sync.Mutex
}

// NewClient builds a client for the page origin. A nil dialer means the
// platform offers no transport.
func NewClient(origin string, dialer Dialer, ui UI, opts ...Option) *Client {
	c := &Client{
		origin:    origin,
		dialer:    dialer,
		ui:        ui,
		tokens:    guestTokens{},
		backoff:   DefaultBackoff,
		afterFunc: realAfterFunc,
		logger:    slog.Default(),
		baseCtx:   context.Background(),
		state:     Disconnected,
		interval:  DefaultBackoff.Floor,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.interval = c.backoff.Floor
	return c
}

// Run connects and keeps the client alive until ctx is cancelled, then
// disconnects. It only returns an error when connecting can never succeed.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	err := c.Connect(ctx)
	if errors.Is(err, ErrTransportUnsupported) || errors.Is(err, ErrBadEndpoint) {
		return err
	}

	<-ctx.Done()
	c.Disconnect()
	return nil
}

// Connect opens a new transport unless one is already open or opening.
// Failures are surfaced to the UI; dial failures also schedule a reconnect.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.manual = false
	c.mu.Unlock()
	return c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	if c.dialer == nil {
		c.logger.Warn("WebSocket not supported")
		c.ui.Notify(proto.LevelWarning, "Real-time updates are not supported")
		return ErrTransportUnsupported
	}

	endpoint, err := EndpointFromOrigin(c.origin)
	if err != nil {
		c.logger.Error("Failed to create WebSocket connection", "origin", c.origin, "error", err)
		c.ui.Notify(proto.LevelDanger, "Failed to establish real-time connection")
		return err
	}

	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.state = Connecting
	c.endpoint = endpoint
	c.mu.Unlock()

	c.logger.Info("Connecting to WebSocket", "endpoint", endpoint)
	conn, err := c.dialer.Dial(ctx, endpoint)
	if err != nil {
		c.handleError(gen, err)
		c.handleClose(gen, false)
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		// Disconnected while dialing.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	c.handleOpen(gen)
	go c.readLoop(gen, conn)
	return nil
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			clean := errors.Is(err, ErrCleanClose)
			if !clean {
				c.handleError(gen, err)
			}
			c.handleClose(gen, clean)
			return
		}
		c.handleMessage(gen, data)
	}
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Client) handleOpen(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = Connected
	c.attempts = 0
	c.interval = c.backoff.Floor
	endpoint := c.endpoint
	c.mu.Unlock()

	c.logger.Info("WebSocket connected", "endpoint", endpoint)

	if err := c.Send(proto.NewAuthenticate(c.tokens.Token())); err != nil {
		c.logger.Warn("Failed to send authenticate message", "error", err)
	}
	c.ui.Notify(proto.LevelSuccess, "Connected to real-time updates")
}

func (c *Client) handleMessage(gen uint64, data []byte) {
	if !c.current(gen) {
		return
	}

	msg, err := proto.Decode(data)
	if err != nil {
		c.logger.Warn("Failed to parse WebSocket message", "error", err, "data", string(data))
		return
	}
	c.dispatch(msg)
}

func (c *Client) handleClose(gen uint64, clean bool) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.state = Disconnected
	conn := c.conn
	c.conn = nil
	manual := c.manual
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.logger.Info("WebSocket disconnected", "clean", clean)

	if !clean && !manual {
		c.ui.Notify(proto.LevelWarning, "Connection lost. Reconnecting...")
		c.scheduleReconnect()
	}
}

func (c *Client) handleError(gen uint64, err error) {
	if !c.current(gen) {
		return
	}
	c.logger.Error("WebSocket error", "error", err)
	c.ui.Notify(proto.LevelDanger, "Real-time connection error")
}

// scheduleReconnect arms the reconnect timer. The first delay of a failure
// episode is the floor itself; later ones grow by the backoff factor.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attempts == 0 {
		c.interval = c.backoff.Floor
	} else {
		c.interval = c.backoff.Next(c.interval)
	}
	c.attempts++

	if c.timer != nil {
		c.timer.Stop()
	}
	gen, delay := c.gen, c.interval
	c.timer = c.afterFunc(delay, func() { c.reconnect(gen) })

	c.logger.Info("Scheduling reconnect", "attempt", c.attempts, "delay", delay)
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	live := gen == c.gen && c.state == Disconnected && !c.manual
	ctx := c.baseCtx
	if live {
		c.timer = nil
	}
	c.mu.Unlock()

	if !live {
		c.logger.Debug("Skipping stale reconnect")
		return
	}
	if err := c.connect(ctx); err != nil {
		c.logger.Debug("Reconnect attempt failed", "error", err)
	}
}

// Send serializes msg and writes it if the connection is open. Nothing is
// queued: when closed it returns ErrNotConnected.
func (c *Client) Send(msg any) error {
	data, err := proto.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != Connected || conn == nil {
		c.logger.Warn("WebSocket not connected, message not sent", "state", state.String())
		return ErrNotConnected
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send failed: %w", err)
	}

	c.logger.Debug("Sent WebSocket Message", "size", len(data))
	return nil
}

// Disconnect closes the connection on behalf of the user. It never leads
// to a reconnect and cancels any pending one.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	prev := c.state
	c.state = Disconnected
	c.mu.Unlock()

	if conn != nil {
		if err := conn.CloseNormal(); err != nil {
			c.logger.Debug("Error closing connection", "error", err)
		}
	}
	if prev != Disconnected {
		c.logger.Info("WebSocket disconnected by user")
		c.ui.Notify(proto.LevelInfo, "Disconnected from real-time updates")
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:    c.state,
		Endpoint: c.endpoint,
		Attempts: c.attempts,
		Interval: c.interval,
	}
}
