package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "WINSHELL"

// Config holds all shell configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Logging  LogConfig      `toml:"logging"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Shell    ShellConfig    `toml:"shell"`
	Bridge   BridgeConfig   `toml:"bridge"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string   `envconfig:"HOST" toml:"host"`
	Port           string   `envconfig:"PORT" toml:"port"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" toml:"allowed_origins"`
	RateLimitRPS   float64  `envconfig:"RATE_LIMIT_RPS" toml:"rate_limit_rps"`
	RateLimitBurst int      `envconfig:"RATE_LIMIT_BURST" toml:"rate_limit_burst"`
	// MaxConnections caps concurrent HTTP connections. Zero means no cap.
	MaxConnections int `envconfig:"MAX_CONNECTIONS" toml:"max_connections"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" toml:"level"`
	Development bool   `envconfig:"DEV" toml:"development"`
}

// DispatchConfig holds method dispatch settings.
type DispatchConfig struct {
	// Timeout bounds calls whose context carries no deadline. Zero disables it.
	Timeout Duration `envconfig:"TIMEOUT" toml:"timeout"`
}

// ShellConfig holds settings of the headless shell.
type ShellConfig struct {
	MaxWindows     int     `envconfig:"MAX_WINDOWS" toml:"max_windows"`
	DefaultWidth   float64 `envconfig:"DEFAULT_WIDTH" toml:"default_width"`
	DefaultHeight  float64 `envconfig:"DEFAULT_HEIGHT" toml:"default_height"`
	TitleBarHeight float64 `envconfig:"TITLE_BAR_HEIGHT" toml:"title_bar_height"`
}

// BridgeConfig holds websocket bridge settings.
type BridgeConfig struct {
	WriteTimeout    Duration `envconfig:"WRITE_TIMEOUT" toml:"write_timeout"`
	PingInterval    Duration `envconfig:"PING_INTERVAL" toml:"ping_interval"`
	MaxMessageSize  int64    `envconfig:"MAX_MESSAGE_SIZE" toml:"max_message_size"`
	BreakerFailures uint32   `envconfig:"BREAKER_FAILURES" toml:"breaker_failures"`
	BreakerTimeout  Duration `envconfig:"BREAKER_TIMEOUT" toml:"breaker_timeout"`
}

// Duration is a time.Duration read from text such as "250ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load reads configuration from the environment on top of Default.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFile reads a TOML file on top of Default, then applies the environment.
// A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadOrDefault loads configuration from the environment or returns Default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects settings the shell cannot run with.
func (c *Config) Validate() error {
	if c.Shell.MaxWindows < 0 {
		return fmt.Errorf("shell.max_windows must not be negative, got %d", c.Shell.MaxWindows)
	}
	if c.Shell.DefaultWidth <= 0 || c.Shell.DefaultHeight <= 0 {
		return errors.New("shell default size must be positive")
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must not be negative, got %d", c.Server.MaxConnections)
	}
	if c.Dispatch.Timeout < 0 {
		return errors.New("dispatch.timeout must not be negative")
	}
	return nil
}

// Encode renders cfg as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// Addr returns host:port for the HTTP server.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           "8710",
			AllowedOrigins: []string{"http://localhost:3000"},
			RateLimitRPS:   100,
			RateLimitBurst: 200,
			MaxConnections: 512,
		},
		Logging: LogConfig{
			Level: "info",
		},
		Dispatch: DispatchConfig{
			Timeout: Duration(30 * time.Second),
		},
		Shell: ShellConfig{
			MaxWindows:     64,
			DefaultWidth:   800,
			DefaultHeight:  600,
			TitleBarHeight: 28,
		},
		Bridge: BridgeConfig{
			WriteTimeout:    Duration(10 * time.Second),
			PingInterval:    Duration(30 * time.Second),
			MaxMessageSize:  1 << 20,
			BreakerFailures: 5,
			BreakerTimeout:  Duration(30 * time.Second),
		},
	}
}
