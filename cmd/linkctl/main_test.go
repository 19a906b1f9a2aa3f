package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/edgelink/internal/config"
	"github.com/danmuck/edgelink/internal/logging"
	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/danmuck/edgelink/internal/target"
	"github.com/danmuck/edgelink/internal/testutil/testlog"
	"github.com/danmuck/edgelink/internal/transport"
)

func startTarget(t *testing.T) *target.Server {
	t.Helper()
	cfg := target.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	srv, err := target.Listen(cfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
	})
	return srv
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := config.LoadLinkConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Hello == nil || cfg.StatusAddr != "127.0.0.1:9300" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestPumpEchoesHelloThenStopsOnRemoteClose(t *testing.T) {
	testlog.Start(t)
	srv := startTarget(t)

	tr, err := transport.New(transport.DefaultConfig(srv.Addr()))
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	defer tr.Close()

	hello, _ := frame.Encode(1, 1, []byte("hello"))
	frames := make(chan []byte, 4)
	done := make(chan error, 1)
	go func() {
		done <- pump(context.Background(), tr, hello, logging.Component("pump"), func(f []byte) { frames <- f })
	}()

	select {
	case f := <-frames:
		if !bytes.Equal(f, hello) {
			t.Fatalf("expected echoed hello, got %x", f)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("hello echo never arrived")
	}

	srv.DropSessions()
	select {
	case err := <-done:
		if !errors.Is(err, errLinkDown) {
			t.Fatalf("expected errLinkDown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("pump did not stop after remote close")
	}
}

func TestPumpReportsConnectFailure(t *testing.T) {
	testlog.Start(t)
	srv := startTarget(t)
	addr := srv.Addr()
	_ = srv.Close()

	tr, err := transport.New(transport.DefaultConfig(addr))
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	defer tr.Close()

	err = pump(context.Background(), tr, nil, logging.Component("pump"), nil)
	if !errors.Is(err, errLinkDown) || !errors.Is(err, transport.ErrConnectTimeout) {
		t.Fatalf("expected connect failure, got %v", err)
	}
}

func TestPumpReturnsOnCancel(t *testing.T) {
	testlog.Start(t)
	srv := startTarget(t)
	tr, err := transport.New(transport.DefaultConfig(srv.Addr()))
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pump(ctx, tr, nil, logging.Component("pump"), nil) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("pump ignored cancel")
	}
}
