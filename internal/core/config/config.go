package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level application config.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Kafka      KafkaConfig      `koanf:"kafka"`
	Identity   IdentityConfig   `koanf:"identity"`
	Debounce   DebounceConfig   `koanf:"debounce"`
	Publishing PublishingConfig `koanf:"publishing"`
}

type ServerConfig struct {
	Port int    `koanf:"port"`
	Host string `koanf:"host"`
	Mode string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type KafkaConfig struct {
	Brokers           []string `koanf:"brokers"`
	ChangeTopic       string   `koanf:"change_topic"`
	PulseTopic        string   `koanf:"pulse_topic"` // optional; empty disables the topic trigger
	NotificationTopic string   `koanf:"notification_topic"`
	GroupID           string   `koanf:"group_id"`
}

type IdentityConfig struct {
	BaseURL        string `koanf:"base_url"`
	Timeout        string `koanf:"timeout"`
	MaxAttempts    int    `koanf:"max_attempts"`
	InitialBackoff string `koanf:"initial_backoff"`
	MaxBackoff     string `koanf:"max_backoff"`
}

type DebounceConfig struct {
	Window        string `koanf:"window"`
	PulseInterval string `koanf:"pulse_interval"`
	ClaimLimit    int    `koanf:"claim_limit"`
	SweepInterval string `koanf:"sweep_interval"`
	SweepGrace    string `koanf:"sweep_grace"`
}

type PublishingConfig struct {
	// Disabled swaps the real producer for a no-op one. The pipeline still
	// ingests, debounces and settles; notifications just never leave.
	Disabled bool `koanf:"disabled"`
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if strings.TrimSpace(c.Kafka.ChangeTopic) == "" {
		return fmt.Errorf("kafka.change_topic is required")
	}
	if strings.TrimSpace(c.Kafka.NotificationTopic) == "" {
		return fmt.Errorf("kafka.notification_topic is required")
	}
	if strings.TrimSpace(c.Kafka.GroupID) == "" {
		return fmt.Errorf("kafka.group_id is required")
	}

	if strings.TrimSpace(c.Identity.BaseURL) == "" {
		return fmt.Errorf("identity.base_url is required")
	}
	if c.Identity.MaxAttempts <= 0 {
		return fmt.Errorf("identity.max_attempts must be > 0")
	}
	for _, field := range []struct {
		name, value string
	}{
		{"identity.timeout", c.Identity.Timeout},
		{"identity.initial_backoff", c.Identity.InitialBackoff},
		{"identity.max_backoff", c.Identity.MaxBackoff},
		{"debounce.window", c.Debounce.Window},
		{"debounce.pulse_interval", c.Debounce.PulseInterval},
		{"debounce.sweep_interval", c.Debounce.SweepInterval},
		{"debounce.sweep_grace", c.Debounce.SweepGrace},
	} {
		d, err := time.ParseDuration(field.value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", field.name, field.value, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", field.name)
		}
	}
	if c.Debounce.ClaimLimit <= 0 {
		return fmt.Errorf("debounce.claim_limit must be > 0")
	}

	return nil
}

// Durations returns the parsed duration fields. Call after Validate.
func (c *IdentityConfig) Durations() (timeout, initialBackoff, maxBackoff time.Duration) {
	timeout, _ = time.ParseDuration(c.Timeout)
	initialBackoff, _ = time.ParseDuration(c.InitialBackoff)
	maxBackoff, _ = time.ParseDuration(c.MaxBackoff)
	return timeout, initialBackoff, maxBackoff
}

// Durations returns the parsed duration fields. Call after Validate.
func (c *DebounceConfig) Durations() (window, pulseInterval, sweepInterval, sweepGrace time.Duration) {
	window, _ = time.ParseDuration(c.Window)
	pulseInterval, _ = time.ParseDuration(c.PulseInterval)
	sweepInterval, _ = time.ParseDuration(c.SweepInterval)
	sweepGrace, _ = time.ParseDuration(c.SweepGrace)
	return window, pulseInterval, sweepInterval, sweepGrace
}

// Load parses config from file + env and validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":              8080,
		"server.host":              "0.0.0.0",
		"server.mode":              "release",
		"database.dsn":             "",
		"database.max_open_conns":  25,
		"database.max_idle_conns":  25,
		"database.auto_migrate":    true,
		"kafka.brokers":            []string{"localhost:9092"},
		"kafka.change_topic":       "",
		"kafka.pulse_topic":        "",
		"kafka.notification_topic": "",
		"kafka.group_id":           "changepulse-v1",
		"identity.base_url":        "",
		"identity.timeout":         "5s",
		"identity.max_attempts":    5,
		"identity.initial_backoff": "100ms",
		"identity.max_backoff":     "2s",
		"debounce.window":          "5m",
		"debounce.pulse_interval":  "1m",
		"debounce.claim_limit":     30000,
		"debounce.sweep_interval":  "5m",
		"debounce.sweep_grace":     "5m",
		"publishing.disabled":      false,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("CHANGEPULSE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CHANGEPULSE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
