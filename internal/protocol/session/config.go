package session

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// InfiniteConnectTimeout retries a failing connect forever.
const InfiniteConnectTimeout = time.Duration(math.MaxInt64)

const (
	DefaultReceiveBufferSize = 8192
	DefaultInboundCeiling    = 10000
)

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport connect and flow-control settings.
//
// ConnectTimeout of zero means one attempt; InfiniteConnectTimeout retries
// until success or close; anything else retries while the elapsed time since
// the first attempt is below it.
type Config struct {
	ConnectTimeout    time.Duration
	ReceiveBufferSize int
	InboundCeiling    int
	Backoff           BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    0,
		ReceiveBufferSize: DefaultReceiveBufferSize,
		InboundCeiling:    DefaultInboundCeiling,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills unset buffer sizes. Backoff is left alone so a zero
// backoff stays zero.
func (c Config) WithDefaults() Config {
	if c.ReceiveBufferSize <= 0 {
		c.ReceiveBufferSize = DefaultReceiveBufferSize
	}
	if c.InboundCeiling <= 0 {
		c.InboundCeiling = DefaultInboundCeiling
	}
	return c
}

func (c Config) Validate() error {
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("%w: negative connect_timeout %v", ErrInvalidConfig, c.ConnectTimeout)
	}
	if c.ReceiveBufferSize <= 0 {
		return fmt.Errorf("%w: receive_buffer_size must be positive", ErrInvalidConfig)
	}
	if c.InboundCeiling <= 0 {
		return fmt.Errorf("%w: inbound_ceiling must be positive", ErrInvalidConfig)
	}
	if c.Backoff.InitialDelay < 0 || c.Backoff.MaxDelay < 0 {
		return fmt.Errorf("%w: negative backoff delay", ErrInvalidConfig)
	}
	return nil
}

// ParseConnectTimeout accepts "", "0", "infinite"/"max"/"forever", or a Go
// duration string.
func ParseConnectTimeout(raw string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "0", "none", "once":
		return 0, nil
	case "infinite", "max", "forever":
		return InfiniteConnectTimeout, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: connect_timeout %q: %v", ErrInvalidConfig, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: negative connect_timeout %q", ErrInvalidConfig, raw)
	}
	return d, nil
}

func FormatConnectTimeout(d time.Duration) string {
	switch d {
	case 0:
		return "0"
	case InfiniteConnectTimeout:
		return "infinite"
	default:
		return d.String()
	}
}
