// Package config loads client settings from a yaml file, an optional .env
// file and CHATSYNC_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/whisper/chatsync/internal/api"
	"github.com/whisper/chatsync/internal/messaging"
	"github.com/whisper/chatsync/internal/session"
	"github.com/whisper/chatsync/internal/typing"
	"github.com/whisper/chatsync/internal/ws"
)

// Transport kinds.
const (
	TransportWS   = "ws"
	TransportNATS = "nats"
)

// State backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Log formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Config struct {
	Transport struct {
		Kind              string        `yaml:"kind"` // ws|nats
		WSURL             string        `yaml:"ws_url"`
		NATSURL           string        `yaml:"nats_url"`
		DialTimeout       time.Duration `yaml:"dial_timeout"`
		ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	} `yaml:"transport"`
	API struct {
		BaseURL      string        `yaml:"base_url"`
		Timeout      time.Duration `yaml:"timeout"`
		HistoryLimit int           `yaml:"history_limit"`
	} `yaml:"api"`
	Typing struct {
		Idle  time.Duration `yaml:"idle"`
		Stale time.Duration `yaml:"stale"`
	} `yaml:"typing"`
	Matcher struct {
		Tolerance time.Duration `yaml:"tolerance"`
	} `yaml:"matcher"`
	State struct {
		Backend   string `yaml:"backend"` // file|redis
		Path      string `yaml:"path"`
		RedisAddr string `yaml:"redis_addr"`
		Profile   string `yaml:"profile"`
	} `yaml:"state"`
	Limits struct {
		Throttle bool `yaml:"throttle"`
	} `yaml:"limits"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // console|json
	} `yaml:"log"`
	Metrics struct {
		Addr string `yaml:"addr"` // empty disables the endpoint
	} `yaml:"metrics"`
}

// Dir returns the per-user directory holding the config and state files.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "chatsync")
}

// DefaultPath returns the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns a Config with every field set.
func Default() *Config {
	var c Config
	wsc := ws.DefaultConfig()
	c.Transport.Kind = TransportWS
	c.Transport.WSURL = wsc.URL
	c.Transport.NATSURL = messaging.DefaultConfig().URL
	c.Transport.DialTimeout = wsc.DialTimeout
	c.Transport.ReconnectDelay = wsc.ReconnectDelay
	c.Transport.HeartbeatInterval = wsc.Heartbeat.Interval
	c.Transport.HeartbeatTimeout = wsc.Heartbeat.Timeout

	apic := api.DefaultConfig()
	sc := session.DefaultConfig()
	c.API.BaseURL = apic.BaseURL
	c.API.Timeout = apic.Timeout
	c.API.HistoryLimit = sc.HistoryLimit

	c.Typing.Idle = sc.Typing.IdleTimeout
	c.Typing.Stale = sc.Typing.StaleTimeout
	c.Matcher.Tolerance = sc.MatchTolerance

	c.State.Backend = BackendFile
	c.State.Path = filepath.Join(Dir(), "state.yaml")
	c.State.RedisAddr = "localhost:6379"
	c.State.Profile = "default"

	c.Limits.Throttle = true
	c.Log.Level = "info"
	c.Log.Format = FormatConsole
	return &c
}

// Load builds the effective config. Defaults are overlaid with the yaml file
// at path (a missing file is not an error), then with the environment after
// the given .env files have been loaded into it. With no envFiles, ".env" in
// the working directory is tried.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// Optional; variables already set in the environment win.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"CHATSYNC_TRANSPORT":     &c.Transport.Kind,
		"CHATSYNC_WS_URL":        &c.Transport.WSURL,
		"CHATSYNC_NATS_URL":      &c.Transport.NATSURL,
		"CHATSYNC_API_URL":       &c.API.BaseURL,
		"CHATSYNC_STATE_BACKEND": &c.State.Backend,
		"CHATSYNC_STATE_PATH":    &c.State.Path,
		"CHATSYNC_REDIS_ADDR":    &c.State.RedisAddr,
		"CHATSYNC_PROFILE":       &c.State.Profile,
		"CHATSYNC_LOG_LEVEL":     &c.Log.Level,
		"CHATSYNC_LOG_FORMAT":    &c.Log.Format,
		"CHATSYNC_METRICS_ADDR":  &c.Metrics.Addr,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("CHATSYNC_API_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CHATSYNC_API_TIMEOUT: %w", err)
		}
		c.API.Timeout = d
	}
	if v := os.Getenv("CHATSYNC_HISTORY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: CHATSYNC_HISTORY_LIMIT: %w", err)
		}
		c.API.HistoryLimit = n
	}
	if v := os.Getenv("CHATSYNC_THROTTLE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: CHATSYNC_THROTTLE: %w", err)
		}
		c.Limits.Throttle = b
	}
	return nil
}

// Validate checks enumerated and required fields.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportWS:
		if c.Transport.WSURL == "" {
			return fmt.Errorf("config: transport.ws_url is required")
		}
	case TransportNATS:
		if c.Transport.NATSURL == "" {
			return fmt.Errorf("config: transport.nats_url is required")
		}
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport.Kind)
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("config: api.base_url is required")
	}
	if c.API.HistoryLimit <= 0 {
		return fmt.Errorf("config: api.history_limit must be positive")
	}
	switch c.State.Backend {
	case BackendFile:
		if c.State.Path == "" {
			return fmt.Errorf("config: state.path is required")
		}
	case BackendRedis:
		if c.State.RedisAddr == "" {
			return fmt.Errorf("config: state.redis_addr is required")
		}
	default:
		return fmt.Errorf("config: unknown state backend %q", c.State.Backend)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	if c.Log.Format != FormatConsole && c.Log.Format != FormatJSON {
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// WS returns the WebSocket client settings.
func (c *Config) WS() ws.Config {
	return ws.Config{
		URL:            c.Transport.WSURL,
		DialTimeout:    c.Transport.DialTimeout,
		ReconnectDelay: c.Transport.ReconnectDelay,
		Heartbeat: ws.HeartbeatConfig{
			Interval: c.Transport.HeartbeatInterval,
			Timeout:  c.Transport.HeartbeatTimeout,
		},
	}
}

// NATS returns the NATS stream settings.
func (c *Config) NATS() messaging.Config {
	nc := messaging.DefaultConfig()
	nc.URL = c.Transport.NATSURL
	if c.Transport.ReconnectDelay > 0 {
		nc.ReconnectWait = c.Transport.ReconnectDelay
	}
	return nc
}

// APIClient returns the HTTP API client settings.
func (c *Config) APIClient() api.Config {
	return api.Config{BaseURL: c.API.BaseURL, Timeout: c.API.Timeout}
}

// Session returns the controller settings.
func (c *Config) Session() session.Config {
	return session.Config{
		HistoryLimit:   c.API.HistoryLimit,
		MatchTolerance: c.Matcher.Tolerance,
		Typing: typing.Config{
			IdleTimeout:  c.Typing.Idle,
			StaleTimeout: c.Typing.Stale,
		},
		RequestTimeout: c.API.Timeout,
	}
}
