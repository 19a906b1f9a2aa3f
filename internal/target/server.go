package target

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/danmuck/edgelink/internal/logging"
	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrServerClosed = errors.New("target: server closed")

type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:0".
	Addr string
	// Echo writes every command frame back on the command socket.
	Echo bool
	// ReceivedBuffer sizes the Received channel; frames beyond it are
	// dropped from the channel, never from the echo path.
	ReceivedBuffer int
	Logger         *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:7400",
		Echo:           true,
		ReceivedBuffer: 1024,
	}
}

// Server stands in for the remote target process: it pairs accepted
// connections in order (command, then event) into sessions.
type Server struct {
	cfg Config
	ln  net.Listener
	log zerolog.Logger

	mu       sync.Mutex
	pending  net.Conn
	sessions map[string]*Session

	received chan []byte
	closed   atomic.Bool
	wg       sync.WaitGroup
}

// Session is one connected transport: a command and an event socket.
type Session struct {
	ID      string
	command net.Conn
	event   net.Conn
	cmdMu   sync.Mutex
	evtMu   sync.Mutex
}

type SessionInfo struct {
	ID     string `json:"id"`
	Remote string `json:"remote"`
}

func Listen(cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("target: listen %s: %w", cfg.Addr, err)
	}
	if cfg.ReceivedBuffer <= 0 {
		cfg.ReceivedBuffer = 1024
	}
	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	} else {
		logger = logging.Component("target")
	}
	return &Server{
		cfg:      cfg,
		ln:       ln,
		log:      logger.With().Str("addr", ln.Addr().String()).Logger(),
		sessions: make(map[string]*Session),
		received: make(chan []byte, cfg.ReceivedBuffer),
	}, nil
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Received yields a copy of every command frame read from any session.
func (s *Server) Received() <-chan []byte {
	return s.received
}

// Serve accepts until ctx is done or the server is closed.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.log.Info().Msg("target listening")
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			return fmt.Errorf("target: accept: %w", err)
		}
		s.attach(conn)
	}
}

func (s *Server) attach(conn net.Conn) {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	if s.pending == nil {
		s.pending = conn
		s.mu.Unlock()
		s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("command socket accepted")
		return
	}
	sess := &Session{ID: uuid.NewString(), command: s.pending, event: conn}
	s.pending = nil
	s.sessions[sess.ID] = sess
	s.wg.Add(2)
	s.mu.Unlock()

	s.log.Info().Str("session", sess.ID).Str("remote", sess.command.RemoteAddr().String()).Msg("session established")
	go s.commandLoop(sess)
	go s.eventLoop(sess)
}

func (s *Server) commandLoop(sess *Session) {
	defer s.wg.Done()
	defer s.drop(sess)
	for {
		f, err := frame.ReadFrame(sess.command)
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closed.Load() {
				s.log.Debug().Err(err).Str("session", sess.ID).Msg("command read ended")
			}
			return
		}
		select {
		case s.received <- append([]byte(nil), f...):
		default:
		}
		if s.cfg.Echo {
			if err := sess.writeCommand(f); err != nil {
				s.log.Debug().Err(err).Str("session", sess.ID).Msg("echo failed")
				return
			}
		}
	}
}

// eventLoop only watches for the peer closing the event socket.
func (s *Server) eventLoop(sess *Session) {
	defer s.wg.Done()
	defer s.drop(sess)
	_, _ = io.Copy(io.Discard, sess.event)
}

func (s *Server) drop(sess *Session) {
	s.mu.Lock()
	_, ok := s.sessions[sess.ID]
	delete(s.sessions, sess.ID)
	s.mu.Unlock()
	sess.close()
	if ok {
		s.log.Info().Str("session", sess.ID).Msg("session closed")
	}
}

// Publish writes f on the event socket of every live session and returns
// how many sessions accepted it.
func (s *Server) Publish(f []byte) int {
	if _, ok := frame.Len(f); !ok {
		return 0
	}
	delivered := 0
	for _, sess := range s.snapshot() {
		if err := sess.writeEvent(f); err != nil {
			s.log.Debug().Err(err).Str("session", sess.ID).Msg("publish failed")
			continue
		}
		delivered++
	}
	return delivered
}

// Reply writes f on the command socket of one session.
func (s *Server) Reply(sessionID string, f []byte) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("target: unknown session %q", sessionID)
	}
	return sess.writeCommand(f)
}

// Sessions lists live sessions sorted by id.
func (s *Server) Sessions() []SessionInfo {
	list := s.snapshot()
	out := make([]SessionInfo, 0, len(list))
	for _, sess := range list {
		out = append(out, SessionInfo{ID: sess.ID, Remote: sess.command.RemoteAddr().String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DropSessions hangs up on every session, as a crashing target would.
func (s *Server) DropSessions() {
	for _, sess := range s.snapshot() {
		sess.close()
	}
}

func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.ln.Close()
	s.mu.Lock()
	if s.pending != nil {
		_ = s.pending.Close()
		s.pending = nil
	}
	s.mu.Unlock()
	s.DropSessions()
	s.wg.Wait()
	close(s.received)
	return err
}

func (s *Server) snapshot() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (sess *Session) writeCommand(f []byte) error {
	sess.cmdMu.Lock()
	defer sess.cmdMu.Unlock()
	return frame.WriteFrame(sess.command, f)
}

func (sess *Session) writeEvent(f []byte) error {
	sess.evtMu.Lock()
	defer sess.evtMu.Unlock()
	return frame.WriteFrame(sess.event, f)
}

func (sess *Session) close() {
	_ = sess.command.Close()
	_ = sess.event.Close()
}
