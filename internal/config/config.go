package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                        int         `yaml:"port" toml:"port"`
	LogLevel                    string      `yaml:"log_level" toml:"log_level"`
	BackendURL                  string      `yaml:"backend_url" toml:"backend_url"`
	APIPath                     string      `yaml:"api_path" toml:"api_path"`
	FrontendURL                 string      `yaml:"frontend_url" toml:"frontend_url"`
	PollIntervalSeconds         int         `yaml:"poll_interval_seconds" toml:"poll_interval_seconds"`
	RequestTimeoutSeconds       int         `yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
	DefaultSymbol               string      `yaml:"default_symbol" toml:"default_symbol"`
	DepthLevels                 int         `yaml:"depth_levels" toml:"depth_levels"`
	CrossedAlertCooldownSeconds int         `yaml:"crossed_alert_cooldown_seconds" toml:"crossed_alert_cooldown_seconds"`
	SessionStorePath            string      `yaml:"session_store_path" toml:"session_store_path"`
	ViewerID                    string      `yaml:"viewer_id" toml:"viewer_id"`
	Push                        PushConfig  `yaml:"push" toml:"push"`
	Redis                       RedisConfig `yaml:"redis" toml:"redis"`
}

type PushConfig struct {
	Transport      string `yaml:"transport" toml:"transport"` // socketio | redis | none
	URL            string `yaml:"url" toml:"url"`             // defaults to backend_url
	Event          string `yaml:"event" toml:"event"`
	SubscribeEvent string `yaml:"subscribe_event" toml:"subscribe_event"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Channel  string `yaml:"channel" toml:"channel"`
}

const (
	TransportSocketIO = "socketio"
	TransportRedis    = "redis"
	TransportNone     = "none"
)

func Defaults() Config {
	return Config{
		Port:                        8086,
		LogLevel:                    "info",
		BackendURL:                  "http://localhost:5000",
		APIPath:                     "/api",
		FrontendURL:                 "http://localhost:5173",
		PollIntervalSeconds:         5,
		RequestTimeoutSeconds:       10,
		DefaultSymbol:               "BTCUSD",
		DepthLevels:                 0,
		CrossedAlertCooldownSeconds: 30,
		SessionStorePath:            "./data/session.json",
		Push: PushConfig{
			Transport:      TransportSocketIO,
			Event:          "orderbook_update",
			SubscribeEvent: "subscribe_orderbook",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "orderbook_update",
		},
	}
}

// Load reads path (YAML, or TOML when the extension is .toml) over the
// defaults and applies BOOKVIEW_* environment overrides. A missing file is
// fine when path is empty.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(string(b), &cfg); err != nil {
				return cfg, fmt.Errorf("parse toml: %w", err)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	applyEnvOverrides(&cfg)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.BackendURL = strings.TrimRight(strings.TrimSpace(c.BackendURL), "/")
	c.FrontendURL = strings.TrimRight(strings.TrimSpace(c.FrontendURL), "/")
	c.Push.Transport = strings.ToLower(strings.TrimSpace(c.Push.Transport))
	if c.Push.Transport == "" {
		c.Push.Transport = TransportNone
	}
	if c.Push.URL == "" {
		c.Push.URL = c.BackendURL
	}
	c.DefaultSymbol = strings.ToUpper(strings.TrimSpace(c.DefaultSymbol))
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("invalid port")
	}
	if u, err := url.Parse(c.BackendURL); err != nil || u.Host == "" {
		return fmt.Errorf("backend_url %q is not an absolute url", c.BackendURL)
	}
	if c.PollIntervalSeconds < 1 {
		return errors.New("poll_interval_seconds must be >=1")
	}
	if c.RequestTimeoutSeconds < 1 {
		return errors.New("request_timeout_seconds must be >=1")
	}
	if c.DepthLevels < 0 {
		return errors.New("depth_levels must be >=0 (0 = all)")
	}
	if c.CrossedAlertCooldownSeconds < 0 {
		return errors.New("crossed_alert_cooldown_seconds must be >=0")
	}
	switch c.Push.Transport {
	case TransportSocketIO, TransportNone:
	case TransportRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr required for push.transport redis")
		}
	default:
		return fmt.Errorf(`push.transport must be "socketio", "redis" or "none", got %q`, c.Push.Transport)
	}
	return nil
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) AlertCooldown() time.Duration {
	return time.Duration(c.CrossedAlertCooldownSeconds) * time.Second
}

func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}
