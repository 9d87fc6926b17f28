package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mbocsi/carelink/proto"
)

type uiCall struct {
	Method string
	Args   []string
}

type recordingUI struct {
	mu    sync.Mutex
	calls []uiCall
}

func (u *recordingUI) record(method string, args ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, uiCall{Method: method, Args: args})
}

func (u *recordingUI) Calls() []uiCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]uiCall(nil), u.calls...)
}

func (u *recordingUI) Named(method string) []uiCall {
	var out []uiCall
	for _, c := range u.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (u *recordingUI) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = nil
}

func (u *recordingUI) Notify(level proto.Level, text string) { u.record("Notify", string(level), text) }
func (u *recordingUI) IncrementUnread()                      { u.record("IncrementUnread") }
func (u *recordingUI) PlayCue(cue Cue)                       { u.record("PlayCue", string(cue)) }
func (u *recordingUI) RefreshPatients(data json.RawMessage) {
	u.record("RefreshPatients", string(data))
}
func (u *recordingUI) RefreshAppointments(data json.RawMessage) {
	u.record("RefreshAppointments", string(data))
}
func (u *recordingUI) RefreshMedications(data json.RawMessage) {
	u.record("RefreshMedications", string(data))
}
func (u *recordingUI) UpdateDelivery(id, status, location string) {
	u.record("UpdateDelivery", id, status, location)
}
func (u *recordingUI) ShowHealthData(dataType string, data json.RawMessage) {
	u.record("ShowHealthData", dataType, string(data))
}

type fakeConn struct {
	frames  chan []byte
	closeCh chan error

	mu      sync.Mutex
	written [][]byte
	closed  bool
	normal  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closeCh: make(chan error, 1)}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.closeCh:
		return nil, err
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed conn")
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) CloseNormal() error {
	c.mu.Lock()
	c.normal = true
	c.mu.Unlock()
	return c.Close()
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		select {
		case c.closeCh <- errors.New("use of closed network connection"):
		default:
		}
	}
	return nil
}

func (c *fakeConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

// drop simulates the network going away.
func (c *fakeConn) drop() { c.closeCh <- errors.New("unexpected EOF") }

// closeClean simulates the server completing a normal close handshake.
func (c *fakeConn) closeClean() { c.closeCh <- fmt.Errorf("%w: 1000", ErrCleanClose) }

type dialResult struct {
	conn *fakeConn
	err  error
}

type fakeDialer struct {
	mu        sync.Mutex
	results   []dialResult
	endpoints []string
}

func (d *fakeDialer) push(r ...dialResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, r...)
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints = append(d.endpoints, endpoint)
	if len(d.results) == 0 {
		return nil, errors.New("connection refused")
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.endpoints)
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.timers))
	for i, t := range c.timers {
		out[i] = t.delay
	}
	return out
}

func (c *fakeClock) Last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

// FireLast runs the most recent timer callback on the calling goroutine.
func (c *fakeClock) FireLast() {
	if t := c.Last(); t != nil {
		t.fn()
	}
}
