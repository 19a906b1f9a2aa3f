package server

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	feedClientBuffer = 64
	feedWriteTimeout = 5 * time.Second
)

// FrameEvent is the JSON shape pushed to /frames subscribers.
type FrameEvent struct {
	Ticket     uint8     `json:"ticket"`
	MessageID  uint8     `json:"message_id"`
	PayloadLen int       `json:"payload_len"`
	PayloadHex string    `json:"payload_hex"`
	At         time.Time `json:"at"`
}

// Feed fans received frames out to websocket subscribers. A subscriber that
// falls behind loses frames instead of stalling the publisher.
type Feed struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	closed  bool
}

func NewFeed(logger zerolog.Logger) *Feed {
	return &Feed{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:     logger,
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// Publish describes fr to every subscriber. Incomplete frames are ignored.
func (f *Feed) Publish(fr []byte) {
	if !frame.Complete(fr) {
		return
	}
	payload := frame.Payload(fr)
	data, err := json.Marshal(FrameEvent{
		Ticket:     frame.Ticket(fr),
		MessageID:  frame.MessageID(fr),
		PayloadLen: len(payload),
		PayloadHex: hex.EncodeToString(payload),
		At:         time.Now().UTC(),
	})
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for conn, ch := range f.clients {
		select {
		case ch <- data:
		default:
			f.log.Debug().Str("client", conn.RemoteAddr().String()).Msg("feed subscriber behind, frame dropped")
		}
	}
}

func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	clients := f.clients
	f.clients = make(map[*websocket.Conn]chan []byte)
	f.mu.Unlock()
	for conn, ch := range clients {
		close(ch)
		_ = conn.Close()
	}
}

func (f *Feed) handle(c *gin.Context) {
	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		f.log.Debug().Err(err).Msg("feed upgrade failed")
		return
	}
	ch := make(chan []byte, feedClientBuffer)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = conn.Close()
		return
	}
	f.clients[conn] = ch
	f.mu.Unlock()
	f.log.Debug().Str("client", conn.RemoteAddr().String()).Msg("feed subscriber joined")

	go f.writeLoop(conn, ch)
	go f.readLoop(conn)
}

func (f *Feed) writeLoop(conn *websocket.Conn, ch chan []byte) {
	for data := range ch {
		_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			f.remove(conn)
			return
		}
	}
}

// readLoop only detects the subscriber going away.
func (f *Feed) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			f.remove(conn)
			return
		}
	}
}

func (f *Feed) remove(conn *websocket.Conn) {
	f.mu.Lock()
	ch, ok := f.clients[conn]
	delete(f.clients, conn)
	f.mu.Unlock()
	if ok {
		close(ch)
		_ = conn.Close()
		f.log.Debug().Str("client", conn.RemoteAddr().String()).Msg("feed subscriber left")
	}
}
