package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/edgelink/internal/protocol/session"
	"github.com/danmuck/edgelink/internal/testutil/testlog"
)

// scriptedConn is a net.Conn whose reads come from a channel (closing it is
// a remote EOF) and whose writes are recorded.
type scriptedConn struct {
	reads     chan []byte
	pending   []byte
	readCalls atomic.Int64

	mu         sync.Mutex
	written    bytes.Buffer
	writeCalls int
	maxWrite   int
	failWrite  func(p []byte) error
	blockWrite bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{
		reads:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	c.readCalls.Add(1)
	if len(c.pending) > 0 {
		n := copy(p, c.pending)
		c.pending = c.pending[n:]
		return n, nil
	}
	select {
	case chunk, ok := <-c.reads:
		if !ok {
			return 0, io.EOF
		}
		n := copy(p, chunk)
		c.pending = chunk[n:]
		return n, nil
	case <-c.closed:
		return 0, net.ErrClosed
	}
}

func (c *scriptedConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	c.writeCalls++
	block := c.blockWrite
	fail := c.failWrite
	maxWrite := c.maxWrite
	c.mu.Unlock()

	if block {
		<-c.closed
		return 0, net.ErrClosed
	}
	if fail != nil {
		if err := fail(p); err != nil {
			return 0, err
		}
	}
	n := len(p)
	if maxWrite > 0 && n > maxWrite {
		n = maxWrite
	}
	c.mu.Lock()
	c.written.Write(p[:n])
	c.mu.Unlock()
	return n, nil
}

func (c *scriptedConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

func (c *scriptedConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *scriptedConn) writtenBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.written.Bytes()...)
}

func (c *scriptedConn) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeCalls
}

func (c *scriptedConn) LocalAddr() net.Addr                { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (c *scriptedConn) RemoteAddr() net.Addr               { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7000} }
func (c *scriptedConn) SetDeadline(t time.Time) error      { return nil }
func (c *scriptedConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *scriptedConn) SetWriteDeadline(t time.Time) error { return nil }

// fakeDialer hands out conns in order. fail, when set, can reject a dial by
// its zero-based call index.
type fakeDialer struct {
	mu    sync.Mutex
	calls int
	conns []net.Conn
	fail  func(call int) error
	block bool
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	call := d.calls
	d.calls++
	block := d.block
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.fail != nil {
		if err := d.fail(call); err != nil {
			return nil, err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil, errors.New("fake dialer: no conns left")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

var errRefused = &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

func testSessionConfig() session.Config {
	return session.Config{
		ReceiveBufferSize: 8192,
		InboundCeiling:    10000,
	}
}

func newTestTransport(t *testing.T, d Dialer, mutate func(*session.Config)) *Transport {
	t.Helper()
	testlog.Start(t)
	cfg := testSessionConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	tr, err := New(Config{Address: "127.0.0.1:7000", Session: cfg, Dialer: d})
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// connectScripted returns a connected transport backed by two scripted
// conns (command, event).
func connectScripted(t *testing.T, mutate func(*session.Config)) (*Transport, *scriptedConn, *scriptedConn) {
	t.Helper()
	cmd, evt := newScriptedConn(), newScriptedConn()
	tr := newTestTransport(t, &fakeDialer{conns: []net.Conn{cmd, evt}}, mutate)
	tr.BeginConnect()
	waitFor(t, "connected", tr.Connected)
	return tr, cmd, evt
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (b *inbox) parkedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.parked)
}
