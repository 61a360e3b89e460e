package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Decode policies applied when an inbound frame is not a valid event.
const (
	// DecodePolicyClose closes the offending connection.
	DecodePolicyClose = "close"
	// DecodePolicySkip logs the frame and keeps the connection open.
	DecodePolicySkip = "skip"
)

// Defaults applied when a setting is not provided.
const (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 23234
	DefaultQueueCapacity  = 16
	DefaultMaxMessageSize = 32768
	DefaultWriteTimeout   = 10 * time.Second
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

// ErrInvalidConfig is wrapped by every validation failure returned from Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the relay.
type Config struct {
	Host           string        `validate:"required"`
	Port           int           `validate:"min=1,max=65535"`
	QueueCapacity  int           `validate:"min=1"`
	DecodePolicy   string        `validate:"oneof=close skip"`
	MaxMessageSize int64         `validate:"min=1"`
	WriteTimeout   time.Duration `validate:"gt=0"`
	AllowedOrigins []string      `validate:"dive,required"`
	LogLevel       string        `validate:"oneof=debug info warn error"`
	LogFormat      string        `validate:"oneof=text json"`

	// notices are held until the logger is configured.
	notices []notice
}

type notice struct {
	level slog.Level
	msg   string
	attrs []any
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		QueueCapacity:  DefaultQueueCapacity,
		DecodePolicy:   DecodePolicyClose,
		MaxMessageSize: DefaultMaxMessageSize,
		WriteTimeout:   DefaultWriteTimeout,
		AllowedOrigins: []string{"*"},
		LogLevel:       DefaultLogLevel,
		LogFormat:      DefaultLogFormat,
	}
}

// New loads configuration from a .env file, if present, and the environment.
// Invalid values fall back to their defaults and are reported by LogNotices;
// the result is not validated so callers can apply overrides first.
func New() *Config {
	envErr := godotenv.Load()
	cfg := FromEnv()
	if envErr != nil {
		cfg.note(slog.LevelDebug, "No .env file found, relying on environment variables")
	}
	return cfg
}

// LogNotices writes what was noticed while loading to logger. Call it once
// the logger built from this Config is installed.
func (c *Config) LogNotices(logger *slog.Logger) {
	for _, n := range c.notices {
		logger.Log(context.Background(), n.level, n.msg, n.attrs...)
	}
	c.notices = nil
}

func (c *Config) note(level slog.Level, msg string, attrs ...any) {
	c.notices = append(c.notices, notice{level: level, msg: msg, attrs: attrs})
}

// FromEnv builds a Config from environment variables on top of the defaults.
func FromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("RELAY_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("RELAY_PORT"); v != "" {
		cfg.Port = cfg.parseInt("RELAY_PORT", v, cfg.Port)
	}
	if v := os.Getenv("RELAY_QUEUE_CAPACITY"); v != "" {
		cfg.QueueCapacity = cfg.parseInt("RELAY_QUEUE_CAPACITY", v, cfg.QueueCapacity)
	}
	if v := os.Getenv("RELAY_DECODE_POLICY"); v != "" {
		cfg.DecodePolicy = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("RELAY_MAX_MESSAGE_SIZE"); v != "" {
		cfg.MaxMessageSize = int64(cfg.parseInt("RELAY_MAX_MESSAGE_SIZE", v, int(cfg.MaxMessageSize)))
	}
	if v := os.Getenv("RELAY_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WriteTimeout = d
		} else {
			cfg.note(slog.LevelWarn, "Ignoring invalid duration", "key", "RELAY_WRITE_TIMEOUT", "value", v, "error", err)
		}
	}
	if v := os.Getenv("RELAY_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}

	return cfg
}

// Validate checks every field and returns an error wrapping ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AllowAllOrigins reports whether origin checks are disabled.
func (c *Config) AllowAllOrigins() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (c *Config) parseInt(key, value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		c.note(slog.LevelWarn, "Ignoring invalid integer", "key", key, "value", value, "error", err)
		return fallback
	}
	return n
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
