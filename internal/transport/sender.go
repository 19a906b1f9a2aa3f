package transport

import (
	"io"
	"sync"

	"github.com/danmuck/edgelink/internal/observability"
)

type pendingPacket struct {
	data []byte
	sent int
}

type writeResult struct {
	n   int
	err error
}

// sender is the single writer for the command socket. Packets go out in
// queue order and each one is fully written before the next starts.
type sender struct {
	t        *Transport
	w        io.Writer
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newSender(t *Transport, w io.Writer) *sender {
	return &sender{
		t:      t,
		w:      w,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *sender) stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *sender) run() {
	defer close(s.done)
	for {
		select {
		case <-s.t.sendWake:
		case <-s.stopCh:
			return
		}
		for _, p := range s.t.outbox.swap() {
			if !s.transmit(p) {
				return
			}
		}
	}
}

// transmit writes p until every byte is out. A write error poisons only this
// packet; a stop request during a write abandons p and everything behind it.
func (s *sender) transmit(p *pendingPacket) bool {
	for p.sent < len(p.data) {
		done := make(chan writeResult, 1)
		go func(b []byte) {
			n, err := s.w.Write(b)
			done <- writeResult{n: n, err: err}
		}(p.data[p.sent:])

		select {
		case res := <-done:
			p.sent += res.n
			if res.err == nil && res.n == 0 {
				res.err = io.ErrShortWrite
			}
			if res.err != nil {
				s.t.fail(wrapError("send", res.err))
				s.t.log.Debug().Err(res.err).Int("bytes", len(p.data)).Msg("packet dropped after write error")
				p.sent = len(p.data)
				return true
			}
		case <-s.stopCh:
			s.t.fail(ErrConnectionClosed)
			return false
		}
	}
	s.t.packetsOut.Add(1)
	s.t.bytesOut.Add(uint64(len(p.data)))
	observability.RecordPacketSent(len(p.data))
	return true
}
