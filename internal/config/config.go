package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// HistoryLimit is the number of public messages replayed on login.
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit"`
	// GroupHistoryLimit is the number of messages returned for a group
	// history request.
	GroupHistoryLimit int `mapstructure:"group_history_limit" yaml:"group_history_limit"`
	// SessionQueueSize bounds each session's outbound queue.
	SessionQueueSize int `mapstructure:"session_queue_size" yaml:"session_queue_size"`
	// ConnRateLimit caps new websocket connections per minute; 0 disables.
	ConnRateLimit int `mapstructure:"conn_rate_limit" yaml:"conn_rate_limit"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":9002",
		DatabasePath:      "chatrelay.db",
		LogLevel:          "info",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		HistoryLimit:      20,
		GroupHistoryLimit: 50,
		SessionQueueSize:  64,
		ConnRateLimit:     0,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.HistoryLimit != 0 {
		c.HistoryLimit = other.HistoryLimit
	}
	if other.GroupHistoryLimit != 0 {
		c.GroupHistoryLimit = other.GroupHistoryLimit
	}
	if other.SessionQueueSize != 0 {
		c.SessionQueueSize = other.SessionQueueSize
	}
	if other.ConnRateLimit != 0 {
		c.ConnRateLimit = other.ConnRateLimit
	}
}
