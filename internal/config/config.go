package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/danmuck/edgelink/internal/protocol/session"
	"github.com/pelletier/go-toml/v2"
)

// LinkConfig drives linkctl: one transport to one target plus the local
// status API.
type LinkConfig struct {
	Name              string        `toml:"name"`
	Address           string        `toml:"address"`
	ConnectTimeout    string        `toml:"connect_timeout"`
	ReceiveBufferSize int           `toml:"receive_buffer_size"`
	InboundCeiling    int           `toml:"inbound_ceiling"`
	Backoff           BackoffConfig `toml:"backoff"`
	StatusAddr        string        `toml:"status_addr"`
	CorsOrigins       []string      `toml:"cors_origins"`
	Hello             *HelloFrame   `toml:"hello"`
}

type BackoffConfig struct {
	InitialDelay string  `toml:"initial_delay"`
	MaxDelay     string  `toml:"max_delay"`
	Multiplier   float64 `toml:"multiplier"`
	Jitter       *bool   `toml:"jitter"`
}

// HelloFrame is sent once right after connect when present.
type HelloFrame struct {
	Ticket    uint8  `toml:"ticket"`
	MessageID uint8  `toml:"message_id"`
	Payload   string `toml:"payload"`
	// PayloadHex wins over Payload when set.
	PayloadHex string `toml:"payload_hex"`
}

func LoadLinkConfig(path string) (LinkConfig, error) {
	var cfg LinkConfig
	if err := loadToml(path, &cfg); err != nil {
		return LinkConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "linkctl"
	}
	if cfg.StatusAddr == "" {
		cfg.StatusAddr = ":9300"
	}
	if err := ValidateLinkConfig(cfg); err != nil {
		return LinkConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateLinkConfig(cfg LinkConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("link config missing name")
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("link config missing address")
	}
	if _, err := cfg.SessionConfig(); err != nil {
		return err
	}
	if cfg.Hello != nil {
		if _, err := cfg.Hello.Encode(); err != nil {
			return fmt.Errorf("hello frame invalid: %w", err)
		}
	}
	return nil
}

// SessionConfig converts the file form into a validated session.Config.
// Unset fields keep session.DefaultConfig values.
func (c LinkConfig) SessionConfig() (session.Config, error) {
	out := session.DefaultConfig()
	timeout, err := session.ParseConnectTimeout(c.ConnectTimeout)
	if err != nil {
		return session.Config{}, err
	}
	out.ConnectTimeout = timeout
	if c.ReceiveBufferSize != 0 {
		out.ReceiveBufferSize = c.ReceiveBufferSize
	}
	if c.InboundCeiling != 0 {
		out.InboundCeiling = c.InboundCeiling
	}
	if out.Backoff, err = c.Backoff.merge(out.Backoff); err != nil {
		return session.Config{}, err
	}
	if err := out.Validate(); err != nil {
		return session.Config{}, err
	}
	return out, nil
}

func (b BackoffConfig) merge(base session.BackoffConfig) (session.BackoffConfig, error) {
	if b.InitialDelay != "" {
		d, err := time.ParseDuration(b.InitialDelay)
		if err != nil {
			return base, fmt.Errorf("backoff initial_delay: %w", err)
		}
		base.InitialDelay = d
	}
	if b.MaxDelay != "" {
		d, err := time.ParseDuration(b.MaxDelay)
		if err != nil {
			return base, fmt.Errorf("backoff max_delay: %w", err)
		}
		base.MaxDelay = d
	}
	if b.Multiplier != 0 {
		base.Multiplier = b.Multiplier
	}
	if b.Jitter != nil {
		base.Jitter = *b.Jitter
	}
	return base, nil
}

func (h HelloFrame) Encode() ([]byte, error) {
	payload := []byte(h.Payload)
	if h.PayloadHex != "" {
		decoded, err := hex.DecodeString(strings.TrimSpace(h.PayloadHex))
		if err != nil {
			return nil, fmt.Errorf("payload_hex: %w", err)
		}
		payload = decoded
	}
	return frame.Encode(h.Ticket, h.MessageID, payload)
}
