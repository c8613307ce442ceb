package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	dbconfig "buddyhub/pkg/database"
)

// EnvPrefix prefixes every environment variable the hub reads.
const EnvPrefix = "BUDDYHUB_"

var ErrInvalidConfig = errors.New("invalid configuration")

// ARCHITECTURAL DISCOVERY: settings are layered defaults, file, environment,
// then command-line flags; each layer only overrides what it sets
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Calls     *CallsConfig     `json:"calls"`
	RateLimit *RateLimitConfig `json:"rate_limit"`
	Log       *LogConfig       `json:"log"`
}

type DatabaseConfig struct {
	Driver     string        `json:"driver"`
	Path       string        `json:"path"`
	DSN        string        `json:"dsn"`
	Timeout    time.Duration `json:"timeout"`
	RetryDelay time.Duration `json:"retry_delay"`
}

type HTTPConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	MaxMessageSize int64         `json:"max_message_size"`
}

// AuthConfig leaves JWTSecret empty to accept any well-formed user id.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

type CallsConfig struct {
	RingTimeout time.Duration `json:"ring_timeout"`
}

// RateLimitConfig disables limiting when MessagesPerMinute is zero.
type RateLimitConfig struct {
	MessagesPerMinute int `json:"messages_per_minute"`
}

type LogConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
}

// DefaultConfig returns a config that runs a single hub on a local sqlite file.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:     dbconfig.DriverSQLite,
			Path:       "./data/buddyhub.db",
			Timeout:    30 * time.Second,
			RetryDelay: time.Second,
		},
		HTTP: &HTTPConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   5 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 128 * 1024,
		},
		Auth:      &AuthConfig{},
		Calls:     &CallsConfig{RingTimeout: 30 * time.Second},
		RateLimit: &RateLimitConfig{MessagesPerMinute: 60},
		Log:       &LogConfig{Level: "info"},
	}
}

func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil ||
		c.Auth == nil || c.Calls == nil || c.RateLimit == nil || c.Log == nil {
		return fmt.Errorf("%w: every section is required", ErrInvalidConfig)
	}

	if err := c.DatabaseConfig().Validate(); err != nil {
		return fmt.Errorf("%w: database: %v", ErrInvalidConfig, err)
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("%w: HTTP port must be between 1 and 65535", ErrInvalidConfig)
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("%w: HTTP host cannot be empty", ErrInvalidConfig)
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("%w: HTTP timeouts must be positive", ErrInvalidConfig)
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("%w: WebSocket ping interval must be positive", ErrInvalidConfig)
	}
	// FUNCTIONAL DISCOVERY: the peer must see a ping before its read deadline expires
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("%w: WebSocket read timeout must exceed the ping interval", ErrInvalidConfig)
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("%w: WebSocket write timeout must be positive", ErrInvalidConfig)
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("%w: WebSocket buffer size must be positive", ErrInvalidConfig)
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: WebSocket max message size must be positive", ErrInvalidConfig)
	}

	if c.Calls.RingTimeout <= 0 {
		return fmt.Errorf("%w: ring timeout must be positive", ErrInvalidConfig)
	}
	if c.RateLimit.MessagesPerMinute < 0 {
		return fmt.Errorf("%w: messages per minute cannot be negative", ErrInvalidConfig)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.Log.Level)
	}

	return nil
}

// DatabaseConfig maps the database section onto the store's connection settings.
func (c *Config) DatabaseConfig() *dbconfig.Config {
	db := dbconfig.DefaultConfig()
	db.Driver = c.Database.Driver
	db.DatabasePath = c.Database.Path
	db.DSN = c.Database.DSN
	db.WriteTimeout = c.Database.Timeout
	db.RetryDelay = c.Database.RetryDelay
	return db
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LogLevel returns the parsed log level, falling back to info.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Load builds the config from defaults, the optional JSON file at path and
// the environment, and validates the result. Flags are applied by the caller
// on top of the returned value.
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		if err := config.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile reads a JSON config file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := config.applyFile(path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return config, nil
}

// LoadFromEnv reads BUDDYHUB_* variables over the defaults.
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return config, nil
}

// configFile mirrors Config with duration strings, so "30s" reads naturally.
// Pointers distinguish an absent key from a zero value.
type configFile struct {
	Database *struct {
		Driver     *string `json:"driver"`
		Path       *string `json:"path"`
		DSN        *string `json:"dsn"`
		Timeout    *string `json:"timeout"`
		RetryDelay *string `json:"retry_delay"`
	} `json:"database"`
	HTTP *struct {
		Host           *string  `json:"host"`
		Port           *int     `json:"port"`
		ReadTimeout    *string  `json:"read_timeout"`
		WriteTimeout   *string  `json:"write_timeout"`
		AllowedOrigins []string `json:"allowed_origins"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval   *string `json:"ping_interval"`
		ReadTimeout    *string `json:"read_timeout"`
		WriteTimeout   *string `json:"write_timeout"`
		BufferSize     *int    `json:"buffer_size"`
		MaxMessageSize *int64  `json:"max_message_size"`
	} `json:"websocket"`
	Auth *struct {
		JWTSecret *string `json:"jwt_secret"`
	} `json:"auth"`
	Calls *struct {
		RingTimeout *string `json:"ring_timeout"`
	} `json:"calls"`
	RateLimit *struct {
		MessagesPerMinute *int `json:"messages_per_minute"`
	} `json:"rate_limit"`
	Log *struct {
		Level   *string `json:"level"`
		Console *bool   `json:"console"`
	} `json:"log"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var f configFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var errs []error
	duration := func(dst *time.Duration, key string, v *string) {
		if v == nil {
			return
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}

	if d := f.Database; d != nil {
		setString(&c.Database.Driver, d.Driver)
		setString(&c.Database.Path, d.Path)
		setString(&c.Database.DSN, d.DSN)
		duration(&c.Database.Timeout, "database.timeout", d.Timeout)
		duration(&c.Database.RetryDelay, "database.retry_delay", d.RetryDelay)
	}
	if h := f.HTTP; h != nil {
		setString(&c.HTTP.Host, h.Host)
		setInt(&c.HTTP.Port, h.Port)
		duration(&c.HTTP.ReadTimeout, "http.read_timeout", h.ReadTimeout)
		duration(&c.HTTP.WriteTimeout, "http.write_timeout", h.WriteTimeout)
		if h.AllowedOrigins != nil {
			c.HTTP.AllowedOrigins = h.AllowedOrigins
		}
	}
	if w := f.WebSocket; w != nil {
		duration(&c.WebSocket.PingInterval, "websocket.ping_interval", w.PingInterval)
		duration(&c.WebSocket.ReadTimeout, "websocket.read_timeout", w.ReadTimeout)
		duration(&c.WebSocket.WriteTimeout, "websocket.write_timeout", w.WriteTimeout)
		setInt(&c.WebSocket.BufferSize, w.BufferSize)
		if w.MaxMessageSize != nil {
			c.WebSocket.MaxMessageSize = *w.MaxMessageSize
		}
	}
	if a := f.Auth; a != nil {
		setString(&c.Auth.JWTSecret, a.JWTSecret)
	}
	if cl := f.Calls; cl != nil {
		duration(&c.Calls.RingTimeout, "calls.ring_timeout", cl.RingTimeout)
	}
	if r := f.RateLimit; r != nil {
		setInt(&c.RateLimit.MessagesPerMinute, r.MessagesPerMinute)
	}
	if l := f.Log; l != nil {
		setString(&c.Log.Level, l.Level)
		if l.Console != nil {
			c.Log.Console = *l.Console
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from BUDDYHUB_* variables. lookup is os.LookupEnv
// outside of tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}
	str := func(dst *string, key string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	num := func(dst *int, key string) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(dst *time.Duration, key string) {
		if v, ok := get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str(&c.Database.Driver, "DATABASE_DRIVER")
	str(&c.Database.Path, "DATABASE_PATH")
	str(&c.Database.DSN, "DATABASE_DSN")
	dur(&c.Database.Timeout, "DATABASE_TIMEOUT")
	dur(&c.Database.RetryDelay, "DATABASE_RETRY_DELAY")

	str(&c.HTTP.Host, "HTTP_HOST")
	num(&c.HTTP.Port, "HTTP_PORT")
	dur(&c.HTTP.ReadTimeout, "HTTP_READ_TIMEOUT")
	dur(&c.HTTP.WriteTimeout, "HTTP_WRITE_TIMEOUT")
	if v, ok := get("HTTP_ALLOWED_ORIGINS"); ok {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.HTTP.AllowedOrigins = origins
	}

	dur(&c.WebSocket.PingInterval, "WEBSOCKET_PING_INTERVAL")
	dur(&c.WebSocket.ReadTimeout, "WEBSOCKET_READ_TIMEOUT")
	dur(&c.WebSocket.WriteTimeout, "WEBSOCKET_WRITE_TIMEOUT")
	num(&c.WebSocket.BufferSize, "WEBSOCKET_BUFFER_SIZE")
	if v, ok := get("WEBSOCKET_MAX_MESSAGE_SIZE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sWEBSOCKET_MAX_MESSAGE_SIZE: %w", EnvPrefix, err))
		} else {
			c.WebSocket.MaxMessageSize = n
		}
	}

	str(&c.Auth.JWTSecret, "JWT_SECRET")
	dur(&c.Calls.RingTimeout, "RING_TIMEOUT")
	num(&c.RateLimit.MessagesPerMinute, "RATE_LIMIT")
	str(&c.Log.Level, "LOG_LEVEL")
	if v, ok := get("LOG_CONSOLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sLOG_CONSOLE: %w", EnvPrefix, err))
		} else {
			c.Log.Console = b
		}
	}

	return errors.Join(errs...)
}
