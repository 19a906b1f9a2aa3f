package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/danmuck/edgelink/internal/observability"
	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// receiver reads one socket into an accumulation buffer. A separate compose
// goroutine cuts complete frames out of that buffer so the read path never
// parses.
type receiver struct {
	t       *Transport
	channel Channel
	conn    net.Conn
	log     zerolog.Logger
	bufSize int

	bufMu sync.Mutex
	buf   []byte

	composeCh chan struct{}
	resume    chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	dead      atomic.Bool
}

func newReceiver(t *Transport, ch Channel, conn net.Conn) *receiver {
	return &receiver{
		t:         t,
		channel:   ch,
		conn:      conn,
		log:       t.log.With().Str("channel", ch.String()).Logger(),
		bufSize:   t.cfg.ReceiveBufferSize,
		composeCh: make(chan struct{}, 1),
		resume:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

func (r *receiver) start() {
	go r.composeLoop()
	go r.readLoop()
}

// stop is idempotent.
func (r *receiver) stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

func (r *receiver) isDead() bool {
	return r.dead.Load()
}

func (r *receiver) resumeReading() {
	select {
	case r.resume <- struct{}{}:
	default:
	}
}

func (r *receiver) readLoop() {
	chunk := make([]byte, r.bufSize)
	for {
		if r.t.isClosed() {
			return
		}
		n, err := r.conn.Read(chunk)
		if n > 0 {
			r.onData(chunk[:n])
		}
		if err != nil {
			r.dead.Store(true)
			if errors.Is(err, io.EOF) {
				r.onDisconnect()
			} else {
				r.onReadError(err)
			}
			return
		}
		if n == 0 {
			continue
		}
		if !r.t.canAddMorePackets(r) {
			select {
			case <-r.resume:
			case <-r.stopCh:
				return
			}
		}
	}
}

func (r *receiver) onData(p []byte) {
	r.bufMu.Lock()
	r.buf = append(r.buf, p...)
	r.bufMu.Unlock()

	r.t.bytesIn.Add(uint64(len(p)))
	observability.RecordBytesReceived(r.channel.String(), len(p))
	select {
	case r.composeCh <- struct{}{}:
	default:
	}
}

func (r *receiver) composeLoop() {
	for {
		select {
		case <-r.composeCh:
			r.compose()
		case <-r.stopCh:
			return
		}
	}
}

// compose moves every complete frame from the buffer into the inbound queue
// and compacts the buffer once. It abandons the pass as soon as the
// transport closes.
func (r *receiver) compose() int {
	r.bufMu.Lock()
	defer r.bufMu.Unlock()

	pos, produced := 0, 0
	for {
		if r.t.isClosed() {
			return produced
		}
		n, ok := frame.Len(r.buf[pos:])
		if !ok || len(r.buf)-pos < n {
			break
		}
		f := make([]byte, n)
		copy(f, r.buf[pos:pos+n])
		r.t.inbox.push(f)
		pos += n
		produced++
	}
	if produced == 0 {
		return 0
	}

	rest := make([]byte, len(r.buf)-pos)
	copy(rest, r.buf[pos:])
	r.buf = rest

	r.t.framesIn.Add(uint64(produced))
	observability.RecordFramesReceived(r.channel.String(), produced)
	r.log.Trace().Int("frames", produced).Int("buffered", len(rest)).Msg("frames composed")
	r.t.signal()
	return produced
}

func (r *receiver) buffered() int {
	r.bufMu.Lock()
	defer r.bufMu.Unlock()
	return len(r.buf)
}

// onDisconnect runs when the remote closes the socket. Remaining complete
// frames are flushed before the sentinel so the caller sees them first.
func (r *receiver) onDisconnect() {
	if r.t.isClosed() {
		return
	}
	r.compose()
	if left := r.buffered(); left > 0 {
		r.t.fail(fmt.Errorf("%w: %d unparsed bytes on %s socket at disconnect", ErrBrokenPacket, left, r.channel))
	}
	r.t.setDisconnectMessage(fmt.Sprintf("%s socket closed by remote %s", r.channel, r.t.remote))
	r.t.inbox.push([]byte{})
	r.log.Info().Msg("remote closed connection")
	r.t.fail(fmt.Errorf("%w (%s socket)", ErrRemoteClosed, r.channel))
	r.t.signal()
}

func (r *receiver) onReadError(err error) {
	if r.t.isClosed() {
		return
	}
	r.t.fail(wrapError("receive "+r.channel.String(), err))
}
