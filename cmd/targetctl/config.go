package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/danmuck/edgelink/internal/target"
)

// targetctl config.toml key mapping to runtime settings.
type fileConfig struct {
	Addr             string `toml:"addr"`
	Echo             bool   `toml:"echo"`
	ReceivedBuffer   int    `toml:"received_buffer"`
	PublishInterval  string `toml:"publish_interval"`
	PublishMessageID uint8  `toml:"publish_message_id"`
	PublishPayload   string `toml:"publish_payload"`
}

type settings struct {
	Target           target.Config
	PublishInterval  time.Duration
	PublishMessageID uint8
	PublishPayload   []byte
}

func defaultSettings() settings {
	return settings{
		Target:           target.DefaultConfig(),
		PublishMessageID: 0x40,
		PublishPayload:   []byte("tick"),
	}
}

// loadSettings overlays the keys present in path onto defaultSettings.
func loadSettings(path string) (settings, error) {
	cfg := defaultSettings()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return settings{}, fmt.Errorf("load target config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.Target.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("echo") {
		cfg.Target.Echo = raw.Echo
	}
	if meta.IsDefined("received_buffer") {
		cfg.Target.ReceivedBuffer = raw.ReceivedBuffer
	}
	if meta.IsDefined("publish_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PublishInterval))
		if err != nil {
			return settings{}, fmt.Errorf("parse publish_interval: %w", err)
		}
		cfg.PublishInterval = d
	}
	if meta.IsDefined("publish_message_id") {
		cfg.PublishMessageID = raw.PublishMessageID
	}
	if meta.IsDefined("publish_payload") {
		cfg.PublishPayload = []byte(raw.PublishPayload)
	}

	if cfg.Target.Addr == "" {
		return settings{}, fmt.Errorf("target config addr is empty")
	}
	if len(cfg.PublishPayload) > frame.MaxPayloadLen {
		return settings{}, fmt.Errorf("publish_payload exceeds %d bytes", frame.MaxPayloadLen)
	}
	return cfg, nil
}
