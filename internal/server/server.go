package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/edgelink/internal/observability"
	"github.com/danmuck/edgelink/internal/transport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const version = "0.1.0"

// Link is the slice of *transport.Transport the status API reads and drives.
type Link interface {
	ID() string
	RemoteAddr() *net.TCPAddr
	State() transport.State
	Connected() bool
	Exception() error
	DisconnectMessage() string
	ConnectTimeout() time.Duration
	Stats() transport.Stats
	BeginSend(data []byte)
}

var _ Link = (*transport.Transport)(nil)

// Status serves health, readiness, link status and metrics for one link.
type Status struct {
	name     string
	link     Link
	feed     *Feed
	router   *gin.Engine
	log      zerolog.Logger
	appeared time.Time
}

func New(name string, link Link, corsOrigins []string, logger zerolog.Logger) *Status {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger, link.ID()))
	r.Use(observability.RequestMetricsMiddleware(name))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(corsOrigins),
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Type", observability.RequestIDHeader},
		ExposeHeaders: []string{observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Status{
		name:     name,
		link:     link,
		feed:     NewFeed(logger),
		router:   r,
		log:      logger,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Status) HTTPRouter() *gin.Engine {
	return s.router
}

// Feed is the /frames websocket broadcaster.
func (s *Status) Feed() *Feed {
	return s.feed
}

// Serve runs the HTTP server on addr until ctx is done.
func (s *Status) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.feed.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if v := strings.TrimSpace(o); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
