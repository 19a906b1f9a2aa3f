package transport

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/danmuck/edgelink/internal/protocol/session"
)

func mustFrame(t *testing.T, ticket, id byte, payload []byte) []byte {
	t.Helper()
	f, err := frame.Encode(ticket, id, payload)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return f
}

func patterned(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*31 + 7)
	}
	return p
}

func TestComposeReassemblesAnyChunking(t *testing.T) {
	tr := newTestTransport(t, &fakeDialer{}, nil)
	cases := []struct {
		payload int
		chunk   int
	}{
		{0, 1}, {1, 1}, {3, 2}, {255, 1}, {256, 7}, {4096, 1},
		{4096, 4100}, {65535, 1000}, {65535, 65539},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("payload=%d/chunk=%d", tc.payload, tc.chunk), func(t *testing.T) {
			r := newReceiver(tr, CommandChannel, nil)
			want := mustFrame(t, 0x11, 0x22, patterned(tc.payload))
			for off := 0; off < len(want); off += tc.chunk {
				end := min(off+tc.chunk, len(want))
				r.onData(want[off:end])
				got := r.compose()
				if end < len(want) && got != 0 {
					t.Fatalf("frame surfaced after %d of %d bytes", end, len(want))
				}
			}
			frames := tr.GetIncomingPackets()
			if len(frames) != 1 {
				t.Fatalf("expected 1 frame, got %d", len(frames))
			}
			if !bytes.Equal(frames[0], want) {
				t.Fatalf("reassembled frame differs from original")
			}
			if r.buffered() != 0 {
				t.Fatalf("buffer should be empty, has %d bytes", r.buffered())
			}
		})
	}
}

func TestComposeManyFramesAndCompaction(t *testing.T) {
	tr := newTestTransport(t, &fakeDialer{}, nil)
	r := newReceiver(tr, EventChannel, nil)

	a := mustFrame(t, 1, 1, []byte("alpha"))
	b := mustFrame(t, 2, 2, nil)
	c := mustFrame(t, 3, 3, []byte("charlie"))
	d := mustFrame(t, 4, 4, []byte("delta"))
	var stream []byte
	for _, f := range [][]byte{a, b, c} {
		stream = append(stream, f...)
	}
	stream = append(stream, d[:6]...)

	r.onData(stream)
	if got := r.compose(); got != 3 {
		t.Fatalf("expected 3 frames, got %d", got)
	}
	if r.buffered() != 6 {
		t.Fatalf("expected 6 leftover bytes, got %d", r.buffered())
	}
	r.onData(d[6:])
	if got := r.compose(); got != 1 {
		t.Fatalf("expected final frame, got %d", got)
	}

	frames := tr.GetIncomingPackets()
	want := [][]byte{a, b, c, d}
	if len(frames) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(frames))
	}
	for i := range want {
		if !bytes.Equal(frames[i], want[i]) {
			t.Fatalf("frame[%d] mismatch", i)
		}
	}
	if tr.Stats().FramesReceived != 4 {
		t.Fatalf("unexpected frames_received=%d", tr.Stats().FramesReceived)
	}
}

func TestComposeAbandonsAfterClose(t *testing.T) {
	tr := newTestTransport(t, &fakeDialer{}, nil)
	r := newReceiver(tr, CommandChannel, nil)
	r.onData(mustFrame(t, 1, 1, []byte("late")))
	_ = tr.Close()
	if got := r.compose(); got != 0 {
		t.Fatalf("compose after close produced %d frames", got)
	}
	if n := len(tr.GetIncomingPackets()); n != 0 {
		t.Fatalf("expected no frames after close, got %d", n)
	}
}

func TestReceiveByteAtATimeOverSocket(t *testing.T) {
	tr, cmd, _ := connectScripted(t, nil)
	// drop the connect signal
	select {
	case <-tr.TransportEvent():
	default:
	}

	want := mustFrame(t, 9, 8, []byte("one byte at a time"))
	for i := range want {
		cmd.reads <- want[i : i+1]
	}

	select {
	case <-tr.TransportEvent():
	case <-time.After(3 * time.Second):
		t.Fatalf("no transport event after frame arrival")
	}
	got := tr.GetIncomingPackets()
	if len(got) != 1 || !bytes.Equal(got[0], want) {
		t.Fatalf("unexpected frames: %v", got)
	}
}

func TestBackpressurePausesReadsUntilPoll(t *testing.T) {
	tr, cmd, evt := connectScripted(t, func(c *session.Config) {
		c.InboundCeiling = 2
	})
	tr.inbox.push([]byte{0xAA})
	tr.inbox.push([]byte{0xBB})

	cmd.reads <- mustFrame(t, 1, 1, []byte("cmd"))
	evt.reads <- mustFrame(t, 2, 2, []byte("evt"))
	waitFor(t, "both receivers parked", func() bool { return tr.inbox.parkedCount() == 2 })
	if !tr.Stats().Backpressured {
		t.Fatalf("backpressure flag should be set")
	}

	time.Sleep(50 * time.Millisecond)
	if got := cmd.readCalls.Load(); got != 1 {
		t.Fatalf("command receiver issued %d reads while paused", got)
	}
	if got := evt.readCalls.Load(); got != 1 {
		t.Fatalf("event receiver issued %d reads while paused", got)
	}

	frames := tr.GetIncomingPackets()
	if len(frames) < 2 || frames[0][0] != 0xAA || frames[1][0] != 0xBB {
		t.Fatalf("queued frames must survive backpressure, got %v", frames)
	}
	if tr.Stats().Backpressured {
		t.Fatalf("poll should clear backpressure")
	}

	waitFor(t, "resumed reads", func() bool {
		return cmd.readCalls.Load() == 2 && evt.readCalls.Load() == 2
	})
	time.Sleep(50 * time.Millisecond)
	if cmd.readCalls.Load() != 2 || evt.readCalls.Load() != 2 {
		t.Fatalf("expected exactly one resumed read per receiver, got cmd=%d evt=%d",
			cmd.readCalls.Load(), evt.readCalls.Load())
	}
}

func TestDisconnectSentinelFollowsFrames(t *testing.T) {
	tr, _, evt := connectScripted(t, nil)
	a := mustFrame(t, 1, 10, []byte("first"))
	b := mustFrame(t, 2, 11, []byte("second"))
	evt.reads <- append(append([]byte{}, a...), b...)
	close(evt.reads)

	var got [][]byte
	waitFor(t, "sentinel", func() bool {
		got = append(got, tr.GetIncomingPackets()...)
		return len(got) > 0 && IsDisconnectSentinel(got[len(got)-1])
	})
	if len(got) != 3 {
		t.Fatalf("expected 2 frames + sentinel, got %d packets", len(got))
	}
	if !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Fatalf("frames out of order before sentinel")
	}
	if tr.DisconnectMessage() == "" {
		t.Fatalf("disconnect message should be set")
	}
	if err := tr.Exception(); !errors.Is(err, ErrRemoteClosed) {
		t.Fatalf("expected ErrRemoteClosed, got %v", err)
	}
	if tr.Connected() {
		t.Fatalf("transport must not report connected after remote close")
	}
}

func TestBrokenPacketAtDisconnect(t *testing.T) {
	tr, cmd, _ := connectScripted(t, nil)
	f := mustFrame(t, 1, 1, []byte("truncated payload"))
	cmd.reads <- f[:7]
	close(cmd.reads)

	waitFor(t, "exception", func() bool { return tr.Exception() != nil })
	if err := tr.Exception(); !errors.Is(err, ErrBrokenPacket) {
		t.Fatalf("expected ErrBrokenPacket, got %v", err)
	}
	var got [][]byte
	waitFor(t, "sentinel", func() bool {
		got = append(got, tr.GetIncomingPackets()...)
		return len(got) > 0
	})
	if len(got) != 1 || !IsDisconnectSentinel(got[0]) {
		t.Fatalf("expected only the sentinel, got %v", got)
	}
}

func TestReadErrorIsWrapped(t *testing.T) {
	tr, cmd, _ := connectScripted(t, nil)
	// Closing the conn locally makes the pending Read fail with net.ErrClosed.
	_ = cmd.Close()
	waitFor(t, "exception", func() bool { return tr.Exception() != nil })
	var te *Error
	if !errors.As(tr.Exception(), &te) {
		t.Fatalf("expected *Error, got %T %v", tr.Exception(), tr.Exception())
	}
	if te.Op != "receive command" {
		t.Fatalf("unexpected op=%q", te.Op)
	}
}
