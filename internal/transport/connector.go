package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/danmuck/edgelink/internal/observability"
	"github.com/danmuck/edgelink/internal/protocol/session"
)

// BeginConnect starts the connect sequence in the background: command
// socket first, event socket second, then the sender and both receivers.
// The outcome is reported through TransportEvent, Connected and Exception.
func (t *Transport) BeginConnect() {
	if t.isClosed() {
		return
	}
	// A retry after a failed connect starts with an empty fault slot. Only
	// running receivers queue sentinels, so the inbox has nothing stale.
	t.errMu.Lock()
	started := t.state.CompareAndSwap(int32(StateUnconnected), int32(StateConnecting))
	var stale error
	if started {
		stale = t.err
		t.err = nil
		t.disconnectMsg = ""
	}
	t.errMu.Unlock()
	if !started {
		t.log.Debug().Str("state", t.State().String()).Msg("connect already started")
		return
	}
	if stale != nil {
		t.log.Debug().Err(stale).Msg("previous connect fault cleared")
	}
	go t.connect()
}

func (t *Transport) connect() {
	started := time.Now()
	backoff := session.NewBackoff(t.cfg.Backoff)
	for {
		attempt := backoff.Attempts() + 1
		cmd, evt, err := t.dialPair()
		if err == nil {
			observability.RecordConnectAttempt("ok")
			observability.RecordConnectDuration(time.Since(started))
			if t.start(cmd, evt) {
				t.log.Info().Int("attempt", attempt).Msg("transport connected")
				t.signal()
			}
			return
		}
		observability.RecordConnectAttempt("failed")

		if t.isClosed() || t.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
			t.failConnect(wrapError("connect", err))
			return
		}
		if !session.ShouldRetry(t.ConnectTimeout(), started, time.Now()) {
			observability.RecordConnectDuration(time.Since(started))
			t.failConnect(&Error{
				Op:  "connect",
				Err: fmt.Errorf("%w after %d attempt(s) to %s: %w", ErrConnectTimeout, attempt, t.remote, err),
			})
			return
		}

		delay := backoff.Next()
		t.log.Debug().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("connect attempt failed")
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-t.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// dialPair dials command then event. A failed event dial releases the
// command socket so the next attempt starts clean.
func (t *Transport) dialPair() (net.Conn, net.Conn, error) {
	addr := t.remote.String()
	cmd, err := t.dialer.DialContext(t.ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial command socket: %w", err)
	}
	evt, err := t.dialer.DialContext(t.ctx, "tcp", addr)
	if err != nil {
		_ = cmd.Close()
		return nil, nil, fmt.Errorf("dial event socket: %w", err)
	}
	return cmd, evt, nil
}

// start installs the sockets and launches the workers. It loses to a
// concurrent Close, in which case the fresh sockets are released.
func (t *Transport) start(cmd, evt net.Conn) bool {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.isClosed() || !t.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		_ = cmd.Close()
		_ = evt.Close()
		return false
	}
	t.command = cmd
	t.event = evt
	t.sender = newSender(t, cmd)
	t.receivers = []*receiver{
		newReceiver(t, CommandChannel, cmd),
		newReceiver(t, EventChannel, evt),
	}
	go t.sender.run()
	for _, r := range t.receivers {
		r.start()
	}
	return true
}
