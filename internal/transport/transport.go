package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgelink/internal/logging"
	"github.com/danmuck/edgelink/internal/observability"
	"github.com/danmuck/edgelink/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const senderExitWait = 2 * time.Second

type State int32

const (
	StateUnconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel identifies one of the two sockets.
type Channel int

const (
	CommandChannel Channel = iota
	EventChannel
)

func (c Channel) String() string {
	if c == EventChannel {
		return "event"
	}
	return "command"
}

// Stats is a point-in-time snapshot of transport counters.
type Stats struct {
	FramesReceived  uint64 `json:"frames_received"`
	BytesReceived   uint64 `json:"bytes_received"`
	PacketsSent     uint64 `json:"packets_sent"`
	BytesSent       uint64 `json:"bytes_sent"`
	PendingInbound  int    `json:"pending_inbound"`
	PendingOutbound int    `json:"pending_outbound"`
	Backpressured   bool   `json:"backpressured"`
}

// Transport is the framed dual-socket link. Create with New, release with
// Close.
type Transport struct {
	id     string
	remote *net.TCPAddr
	cfg    session.Config
	dialer Dialer
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	closed         atomic.Bool
	state          atomic.Int32
	connectTimeout atomic.Int64

	// stateMu guards worker start/stop and the socket fields.
	stateMu   sync.Mutex
	command   net.Conn
	event     net.Conn
	sender    *sender
	receivers []*receiver

	errMu         sync.Mutex
	err           error
	disconnectMsg string

	notify chan struct{}

	inbox    *inbox
	outbox   swapQueue[*pendingPacket]
	sendWake chan struct{}

	framesIn   atomic.Uint64
	bytesIn    atomic.Uint64
	packetsOut atomic.Uint64
	bytesOut   atomic.Uint64
}

// New resolves the remote endpoint once. Nothing is dialed until
// BeginConnect.
func New(cfg Config) (*Transport, error) {
	scfg := cfg.Session.WithDefaults()
	if err := scfg.Validate(); err != nil {
		return nil, err
	}
	addr := strings.TrimSpace(cfg.Address)
	if addr == "" {
		return nil, fmt.Errorf("%w: empty address", ErrResolve)
	}
	remote, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrResolve, addr, err)
	}
	if remote.IP == nil || remote.Port == 0 {
		return nil, fmt.Errorf("%w: %s: host and port required", ErrResolve, addr)
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	id := uuid.NewString()
	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	} else {
		logger = logging.Component("transport")
	}
	logger = logger.With().Str("transport_id", id).Str("remote", remote.String()).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		id:       id,
		remote:   remote,
		cfg:      scfg,
		dialer:   dialer,
		log:      logger,
		ctx:      ctx,
		cancel:   cancel,
		notify:   make(chan struct{}, 1),
		inbox:    newInbox(scfg.InboundCeiling),
		sendWake: make(chan struct{}, 1),
	}
	t.connectTimeout.Store(int64(scfg.ConnectTimeout))
	return t, nil
}

func (t *Transport) ID() string {
	return t.id
}

func (t *Transport) RemoteAddr() *net.TCPAddr {
	return t.remote
}

func (t *Transport) State() State {
	return State(t.state.Load())
}

// Connected is true while both sockets are up and neither has seen the
// remote hang up.
func (t *Transport) Connected() bool {
	if t.isClosed() || t.State() != StateConnected {
		return false
	}
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if t.command == nil || t.event == nil {
		return false
	}
	for _, r := range t.receivers {
		if r.isDead() {
			return false
		}
	}
	return true
}

func (t *Transport) ConnectTimeout() time.Duration {
	return time.Duration(t.connectTimeout.Load())
}

// SetConnectTimeout takes effect for the next retry decision.
func (t *Transport) SetConnectTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.connectTimeout.Store(int64(d))
}

// TransportEvent is signaled on every change the caller should re-evaluate:
// new frames, a recorded fault, disconnect, connect outcome, close. Signals
// coalesce; one receive may cover several changes.
func (t *Transport) TransportEvent() <-chan struct{} {
	return t.notify
}

// BeginSend queues one complete frame for the command socket and returns
// immediately. Packets queued before the connect completes are sent once it
// does.
func (t *Transport) BeginSend(data []byte) {
	if t.isClosed() {
		t.log.Debug().Int("bytes", len(data)).Msg("send after close dropped")
		return
	}
	depth := t.outbox.push(&pendingPacket{data: data})
	t.log.Trace().Int("bytes", len(data)).Int("queued", depth).Msg("packet queued")
	select {
	case t.sendWake <- struct{}{}:
	default:
	}
}

// GetIncomingPackets returns every frame reassembled since the previous
// call, in arrival order per socket. If backpressure had paused reading,
// each paused receiver issues exactly one new read.
func (t *Transport) GetIncomingPackets() [][]byte {
	frames, resume := t.inbox.drain()
	if len(resume) > 0 {
		t.log.Debug().Int("receivers", len(resume)).Msg("backpressure released")
	}
	for _, r := range resume {
		r.resumeReading()
	}
	return frames
}

// IsDisconnectSentinel reports whether p is the empty marker queued when the
// remote closes a socket.
func IsDisconnectSentinel(p []byte) bool {
	return len(p) == 0
}

// Exception returns the first fault recorded this session, or nil.
func (t *Transport) Exception() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// SetException records err unless a fault is already recorded or the
// transport is closed. Socket-level errors are wrapped in *Error.
func (t *Transport) SetException(err error) {
	t.fail(wrapError("", err))
}

func (t *Transport) DisconnectMessage() string {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.disconnectMsg
}

func (t *Transport) setDisconnectMessage(msg string) {
	if t.isClosed() {
		return
	}
	t.errMu.Lock()
	if t.disconnectMsg == "" {
		t.disconnectMsg = msg
	}
	t.errMu.Unlock()
}

func (t *Transport) Stats() Stats {
	return Stats{
		FramesReceived:  t.framesIn.Load(),
		BytesReceived:   t.bytesIn.Load(),
		PacketsSent:     t.packetsOut.Load(),
		BytesSent:       t.bytesOut.Load(),
		PendingInbound:  t.inbox.len(),
		PendingOutbound: t.outbox.len(),
		Backpressured:   t.inbox.isBackpressured(),
	}
}

// Close is idempotent and safe to call while I/O is in flight. Socket
// shutdown errors are ignored.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.state.Store(int32(StateClosed))
	t.cancel()

	t.stateMu.Lock()
	snd := t.sender
	for _, c := range []net.Conn{t.command, t.event} {
		if c == nil {
			continue
		}
		if hc, ok := c.(interface{ CloseWrite() error }); ok {
			_ = hc.CloseWrite()
		}
		_ = c.Close()
	}
	if t.sender != nil {
		t.sender.stop()
	}
	for _, r := range t.receivers {
		r.stop()
	}
	t.stateMu.Unlock()

	// The sockets are already closed, so the sender exits promptly; the
	// bound only guards against a Write that ignores Close.
	if snd != nil {
		select {
		case <-snd.done:
		case <-time.After(senderExitWait):
			t.log.Warn().Dur("waited", senderExitWait).Msg("sender still running after close")
		}
	}

	t.log.Info().Msg("transport closed")
	t.signal()
	return nil
}

func (t *Transport) isClosed() bool {
	return t.closed.Load()
}

func (t *Transport) signal() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// fail stores err if it is the first fault of an open transport.
func (t *Transport) fail(err error) bool {
	if err == nil || t.isClosed() {
		return false
	}
	t.errMu.Lock()
	recorded := t.recordLocked(err)
	t.errMu.Unlock()
	return t.reportFault(err, recorded)
}

// failConnect returns a Connecting transport to Unconnected and records err
// in one step under errMu, so a racing BeginConnect cannot clear the slot
// before err lands in it.
func (t *Transport) failConnect(err error) {
	t.errMu.Lock()
	t.state.CompareAndSwap(int32(StateConnecting), int32(StateUnconnected))
	recorded := !t.isClosed() && t.recordLocked(err)
	t.errMu.Unlock()
	if !t.reportFault(err, recorded) {
		t.signal()
	}
}

func (t *Transport) recordLocked(err error) bool {
	if t.err != nil {
		return false
	}
	t.err = err
	return true
}

func (t *Transport) reportFault(err error, recorded bool) bool {
	if !recorded {
		if !t.isClosed() {
			t.log.Debug().Err(err).Msg("fault dropped, earlier fault retained")
		}
		return false
	}
	observability.RecordTransportError(errorKind(err))
	t.log.Warn().Err(err).Msg("transport fault")
	t.signal()
	return true
}

// canAddMorePackets reports whether r may issue another read. At the
// ceiling it engages backpressure and parks r until the next poll; queued
// frames are never dropped.
func (t *Transport) canAddMorePackets(r *receiver) bool {
	parked, engaged := t.inbox.park(r)
	if engaged {
		observability.RecordBackpressure()
		t.log.Warn().
			Int("ceiling", t.cfg.InboundCeiling).
			Str("channel", r.channel.String()).
			Msg("inbound queue full, pausing reads until next poll")
	}
	return !parked
}
