// Package config owns the overlayctl configuration surface.
//
// Every knob has a built-in default; a TOML file overrides fields
// independently, zero values fall back to the default.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/overlayctl/internal/protocol"
)

// Built-in defaults.
const (
	DefaultAddr              = "127.0.0.1"
	DefaultPort              = 5010
	DefaultMaxClients        = 5
	DefaultMaxLineBytes      = 10 * 1024
	DefaultRatePerSecond     = 100
	DefaultIdleTimeoutSecs   = 30
	DefaultSweepIntervalSecs = 30
	DefaultShutdownGraceSecs = 5
	DefaultTTLSecs           = 5
	DefaultMaxTextLength     = protocol.DefaultMaxTextLen
	DefaultNumericBound      = protocol.DefaultNumericBound
)

// ServerConfig shapes the listener and session lifecycle.
type ServerConfig struct {
	Addr              string `toml:"addr"`
	Port              int    `toml:"port"`
	MaxClients        int    `toml:"max_clients"`
	IdleTimeoutSecs   int    `toml:"idle_timeout_secs"`
	SweepIntervalSecs int    `toml:"sweep_interval_secs"`
	ShutdownGraceSecs int    `toml:"shutdown_grace_secs"`
}

// SecurityConfig shapes per-line admission and validation.
type SecurityConfig struct {
	MaxLineBytes    int      `toml:"max_line_bytes"`
	RatePerSecond   int      `toml:"rate_per_second"`
	MaxTextLength   int      `toml:"max_text_length"`
	NumericBound    float64  `toml:"numeric_bound"`
	AllowedCommands []string `toml:"allowed_commands"`
}

// OverlayConfig shapes graphic defaults.
type OverlayConfig struct {
	DefaultTTLSecs int `toml:"default_ttl_secs"`
}

// AdminConfig shapes the optional admin HTTP endpoint. An empty Addr
// disables it.
type AdminConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

// Config is the full configuration consumed by the core.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Security SecurityConfig `toml:"security"`
	Overlay  OverlayConfig  `toml:"overlay"`
	Admin    AdminConfig    `toml:"admin"`
}

// Default returns the built-in configuration.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Load reads a TOML file and fills unset fields with defaults. An empty path
// yields pure defaults.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.MaxClients == 0 {
		cfg.Server.MaxClients = DefaultMaxClients
	}
	if cfg.Server.IdleTimeoutSecs == 0 {
		cfg.Server.IdleTimeoutSecs = DefaultIdleTimeoutSecs
	}
	if cfg.Server.SweepIntervalSecs == 0 {
		cfg.Server.SweepIntervalSecs = DefaultSweepIntervalSecs
	}
	if cfg.Server.ShutdownGraceSecs == 0 {
		cfg.Server.ShutdownGraceSecs = DefaultShutdownGraceSecs
	}
	if cfg.Security.MaxLineBytes == 0 {
		cfg.Security.MaxLineBytes = DefaultMaxLineBytes
	}
	if cfg.Security.RatePerSecond == 0 {
		cfg.Security.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.Security.MaxTextLength == 0 {
		cfg.Security.MaxTextLength = DefaultMaxTextLength
	}
	if cfg.Security.NumericBound == 0 {
		cfg.Security.NumericBound = DefaultNumericBound
	}
	if cfg.Security.AllowedCommands == nil {
		cfg.Security.AllowedCommands = []string{
			protocol.CommandExit,
			protocol.CommandClear,
			protocol.CommandStatus,
		}
	}
	if cfg.Overlay.DefaultTTLSecs == 0 {
		cfg.Overlay.DefaultTTLSecs = DefaultTTLSecs
	}
}

// Validate rejects configurations the server cannot run with.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return fmt.Errorf("config: server addr required")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", cfg.Server.Port)
	}
	if cfg.Server.MaxClients < 1 {
		return fmt.Errorf("config: max_clients must be positive")
	}
	if cfg.Server.IdleTimeoutSecs < 1 {
		return fmt.Errorf("config: idle_timeout_secs must be positive")
	}
	if cfg.Server.SweepIntervalSecs < 1 {
		return fmt.Errorf("config: sweep_interval_secs must be positive")
	}
	if cfg.Security.MaxLineBytes < 1 {
		return fmt.Errorf("config: max_line_bytes must be positive")
	}
	if cfg.Security.RatePerSecond < 1 {
		return fmt.Errorf("config: rate_per_second must be positive")
	}
	if cfg.Security.NumericBound <= 0 {
		return fmt.Errorf("config: numeric_bound must be positive")
	}
	for i, name := range cfg.Security.AllowedCommands {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config: allowed_commands[%d] is empty", i)
		}
	}
	return nil
}

// ListenAddr returns the host:port the server binds to.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Addr, strconv.Itoa(c.Server.Port))
}

// IdleTimeout returns the per-session read inactivity bound.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.Server.IdleTimeoutSecs) * time.Second
}

// SweepInterval returns the expiry sweep cadence.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Server.SweepIntervalSecs) * time.Second
}

// ShutdownGrace returns how long Stop waits for sessions to drain before
// force-closing sockets.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Server.ShutdownGraceSecs) * time.Second
}

// DefaultTTL returns the TTL applied to graphics sent with ttl 0.
func (c Config) DefaultTTL() time.Duration {
	return time.Duration(c.Overlay.DefaultTTLSecs) * time.Second
}

// ValidatorLimits returns the protocol limits derived from the security
// section.
func (c Config) ValidatorLimits() protocol.Limits {
	return protocol.Limits{
		MaxTextLen:      c.Security.MaxTextLength,
		NumericBound:    c.Security.NumericBound,
		AllowedCommands: c.Security.AllowedCommands,
	}
}
