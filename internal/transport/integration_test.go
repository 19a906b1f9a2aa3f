package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/edgelink/internal/protocol/session"
	"github.com/danmuck/edgelink/internal/target"
	"github.com/danmuck/edgelink/internal/testutil/testlog"
)

func startTarget(t *testing.T) *target.Server {
	t.Helper()
	cfg := target.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	srv, err := target.Listen(cfg)
	if err != nil {
		t.Fatalf("listen target: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
	})
	return srv
}

func dialTarget(t *testing.T, addr string) *Transport {
	t.Helper()
	testlog.Start(t)
	cfg := DefaultConfig(addr)
	cfg.Session.ConnectTimeout = 2 * time.Second
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	tr.BeginConnect()
	waitFor(t, "connected", tr.Connected)
	return tr
}

func collect(t *testing.T, tr *Transport, n int) [][]byte {
	t.Helper()
	var got [][]byte
	deadline := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case <-tr.TransportEvent():
			got = append(got, tr.GetIncomingPackets()...)
		case <-deadline:
			t.Fatalf("collected %d of %d packets", len(got), n)
		}
		if err := tr.Exception(); err != nil {
			t.Fatalf("unexpected exception: %v", err)
		}
	}
	return got
}

func TestLoopbackEchoRoundTrip(t *testing.T) {
	srv := startTarget(t)
	tr := dialTarget(t, srv.Addr())

	var sent [][]byte
	for i := 0; i < 50; i++ {
		f := mustFrame(t, byte(i), 0x10, patterned(i*997%65536))
		sent = append(sent, f)
		tr.BeginSend(f)
	}
	got := collect(t, tr, len(sent))
	if len(got) != len(sent) {
		t.Fatalf("expected %d echoes, got %d", len(sent), len(got))
	}
	for i := range sent {
		if !bytes.Equal(got[i], sent[i]) {
			t.Fatalf("echo %d mismatch", i)
		}
	}
}

func TestLoopbackEventsAndRemoteClose(t *testing.T) {
	srv := startTarget(t)
	tr := dialTarget(t, srv.Addr())
	waitFor(t, "session", func() bool { return len(srv.Sessions()) == 1 })

	ev := mustFrame(t, 0, 0x40, []byte("state changed"))
	if n := srv.Publish(ev); n != 1 {
		t.Fatalf("publish reached %d sessions", n)
	}
	got := collect(t, tr, 1)
	if !bytes.Equal(got[0], ev) {
		t.Fatalf("event mismatch")
	}

	srv.DropSessions()
	waitFor(t, "disconnect", func() bool { return tr.DisconnectMessage() != "" })
	if tr.Connected() {
		t.Fatalf("transport should report disconnected")
	}
	if err := tr.Exception(); err == nil {
		t.Fatalf("remote close should record a fault")
	}
	sentinels := 0
	waitFor(t, "sentinel", func() bool {
		for _, p := range tr.GetIncomingPackets() {
			if IsDisconnectSentinel(p) {
				sentinels++
			}
		}
		return sentinels > 0
	})
}

func TestConnectRefusedOnClosedPort(t *testing.T) {
	srv := startTarget(t)
	addr := srv.Addr()
	_ = srv.Close()

	testlog.Start(t)
	cfg := DefaultConfig(addr)
	cfg.Session.Backoff = session.BackoffConfig{InitialDelay: 5 * time.Millisecond, Multiplier: 1}
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	defer tr.Close()
	tr.BeginConnect()
	waitFor(t, "exception", func() bool { return tr.Exception() != nil })
	if !errors.Is(tr.Exception(), ErrConnectTimeout) {
		t.Fatalf("expected ErrConnectTimeout, got %v", tr.Exception())
	}
}
