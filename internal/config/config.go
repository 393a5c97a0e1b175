// Package config loads client configuration from a YAML file with
// CHATSYNC_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the client.
type Config struct {
	API    APIConfig    `mapstructure:"api"`
	Socket SocketConfig `mapstructure:"socket"`
	App    AppConfig    `mapstructure:"app"`
}

// APIConfig describes the REST backend.
type APIConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	UploadsBase string        `mapstructure:"uploads_base"`
	AccessToken string        `mapstructure:"access_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// SocketConfig describes the push channel connection.
type SocketConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	SendQueueSize    int           `mapstructure:"send_queue_size"`
	MaxReconnectWait time.Duration `mapstructure:"max_reconnect_wait"`
}

// AppConfig holds process-level settings.
type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
	// RefreshPerMinute caps event-triggered conversation list refreshes.
	RefreshPerMinute int `mapstructure:"refresh_per_minute"`
}

// Load reads configuration from the given path. An empty path falls back to
// environment variables and defaults only.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// String keys need a registered default for env-only overrides to be
	// visible to Unmarshal.
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.uploads_base", "")
	v.SetDefault("api.access_token", "")
	v.SetDefault("socket.base_url", "")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("socket.handshake_timeout", 10*time.Second)
	v.SetDefault("socket.send_queue_size", 64)
	v.SetDefault("socket.max_reconnect_wait", 30*time.Second)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.refresh_per_minute", 30)

	v.SetEnvPrefix("chatsync")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.API.BaseURL == "" {
		return nil, fmt.Errorf("api.base_url must be set")
	}
	// The socket endpoint defaults to the API host, matching how the web
	// client dialed its realtime connection.
	if cfg.Socket.BaseURL == "" {
		cfg.Socket.BaseURL = cfg.API.BaseURL
	}
	if cfg.API.UploadsBase == "" {
		cfg.API.UploadsBase = cfg.API.BaseURL
	}

	return &cfg, nil
}
