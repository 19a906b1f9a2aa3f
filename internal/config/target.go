package config

import (
	"fmt"
	"strings"
	"time"
)

// TargetConfig is the file form consumed by targetctl.
type TargetConfig struct {
	Addr             string `toml:"addr"`
	Echo             bool   `toml:"echo"`
	ReceivedBuffer   int    `toml:"received_buffer"`
	PublishInterval  string `toml:"publish_interval"`
	PublishMessageID uint8  `toml:"publish_message_id"`
	PublishPayload   string `toml:"publish_payload"`
}

func LoadTargetConfig(path string) (TargetConfig, error) {
	var cfg TargetConfig
	if err := loadToml(path, &cfg); err != nil {
		return TargetConfig{}, err
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7400"
	}
	if err := ValidateTargetConfig(cfg); err != nil {
		return TargetConfig{}, err
	}
	return cfg, nil
}

func ValidateTargetConfig(cfg TargetConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("target config missing addr")
	}
	if cfg.ReceivedBuffer < 0 {
		return fmt.Errorf("target config received_buffer must be >= 0")
	}
	if cfg.PublishInterval != "" {
		d, err := time.ParseDuration(strings.TrimSpace(cfg.PublishInterval))
		if err != nil {
			return fmt.Errorf("target config publish_interval: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("target config publish_interval must be >= 0")
		}
	}
	if len(cfg.PublishPayload) > 0xFFFF {
		return fmt.Errorf("target config publish_payload exceeds frame limit")
	}
	return nil
}
