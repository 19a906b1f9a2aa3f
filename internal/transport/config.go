package transport

import (
	"context"
	"net"

	"github.com/danmuck/edgelink/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Dialer opens one TCP connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Config struct {
	// Address is host:port; the host may be a DNS name or a literal IP.
	Address string
	Session session.Config
	// Dialer defaults to a plain net.Dialer.
	Dialer Dialer
	// Logger defaults to the global logger tagged component=transport.
	Logger *zerolog.Logger
}

func DefaultConfig(address string) Config {
	return Config{
		Address: address,
		Session: session.DefaultConfig(),
	}
}
