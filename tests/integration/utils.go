//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/carelink/client"
	"github.com/mbocsi/carelink/server"
)

func getRandomPort(t *testing.T) int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to get port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startRelay runs a relay on addr in the background until the test ends.
func startRelay(t *testing.T, addr string) *server.Relay {
	t.Helper()
	relay := server.NewRelay(addr, server.WithLogger(quietLogger()))
	go func() {
		if err := relay.Start(); err != nil {
			t.Errorf("Relay failed to start: %v", err)
		}
	}()
	waitForPort(t, addr)
	return relay
}

// trackingListener remembers accepted connections so a test can drop them
// all at once, the way a crashed process would.
type trackingListener struct {
	net.Listener

	mu    sync.Mutex
	conns []net.Conn
}

func (l *trackingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		l.mu.Lock()
		l.conns = append(l.conns, conn)
		l.mu.Unlock()
	}
	return conn, err
}

// crash closes the listener and every TCP connection without any close
// frame.
func (l *trackingListener) crash() {
	l.Listener.Close()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, conn := range l.conns {
		conn.Close()
	}
}

// startCrashableRelay runs a relay on addr whose crash func kills it
// abruptly.
func startCrashableRelay(t *testing.T, addr string) (*server.Relay, func()) {
	t.Helper()
	l, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to listen on %s: %v", addr, err)
	}
	tl := &trackingListener{Listener: l}
	relay := server.NewRelay(addr, server.WithLogger(quietLogger()))
	go relay.Serve(tl)
	t.Cleanup(func() { relay.Shutdown(context.Background()) })
	return relay, tl.crash
}

func waitForPort(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("nothing listening on %s", addr)
}

// newQuietClient builds a realtime client with fast backoff and no log output.
func newQuietClient(port int, ui client.UI, opts ...client.Option) *client.Client {
	opts = append([]client.Option{
		client.WithLogConfig(client.SuppressedLogConfig()),
		client.WithBackoff(client.Backoff{Floor: 50 * time.Millisecond, Ceiling: 200 * time.Millisecond, Factor: 1.5}),
	}, opts...)
	return client.NewClient(fmt.Sprintf("http://127.0.0.1:%d", port), client.NewWebSocketDialer(), ui, opts...)
}
