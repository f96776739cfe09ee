// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds socket-dispatch configuration.
type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"socket-dispatch"`

	// HTTP listener for the WebSocket endpoint and health/metrics
	// (HTTP_ADDR preferred, e.g. "0.0.0.0:8080").
	HTTPAddr string `envconfig:"HTTP_ADDR"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8080"`
	WSPath   string `envconfig:"WS_PATH" default:"/ws"`

	// WebSocket peers
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	PingInterval    time.Duration `envconfig:"PING_INTERVAL" default:"30s"`
	MaxMessageBytes int64         `envconfig:"MAX_MESSAGE_BYTES" default:"1048576"`
	DispatchTimeout time.Duration `envconfig:"DISPATCH_TIMEOUT" default:"30s"`

	// COMMS: the NATS bridge is enabled when COMMS_URL is set.
	COMMSURL        string        `envconfig:"COMMS_URL"`
	COMMSSubject    string        `envconfig:"COMMS_SUBJECT" default:"socket.dispatch.v1"`
	COMMSQueue      string        `envconfig:"COMMS_QUEUE"`
	EventSubject    string        `envconfig:"CONNECTION_EVENT_SUBJECT" default:"socket.connections"`
	PeerIdleTimeout time.Duration `envconfig:"COMMS_PEER_IDLE_TIMEOUT" default:"5m"`

	// Protocol: MinClientVersion is a semver constraint lower bound applied
	// by handlers that require a versioned client.
	ProtocolVersion  string `envconfig:"PROTOCOL_VERSION" default:"1.0.0"`
	MinClientVersion string `envconfig:"MIN_CLIENT_VERSION" default:"1.0.0"`

	// Per-connection rate limit (messages per second, burst)
	RateLimit float64 `envconfig:"RATE_LIMIT" default:"50"`
	RateBurst int     `envconfig:"RATE_BURST" default:"100"`

	// Database: the failure journal is persisted when DATABASE_URL is set.
	DatabaseURL    string `envconfig:"DATABASE_URL"`
	EnsureDatabase bool   `envconfig:"ENSURE_DATABASE" default:"false"`
	RunMigrations  bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath  string `envconfig:"MIGRATION_PATH" default:"migrations"`
	JournalSize    int    `envconfig:"JOURNAL_MEMORY_SIZE" default:"256"`

	// JournalTimeout bounds each failure journal write.
	JournalTimeout time.Duration `envconfig:"JOURNAL_TIMEOUT" default:"2s"`

	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListenAddr returns HTTPAddr, or ":<HTTPPort>" when it is empty.
func (c *Config) ListenAddr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return ":" + strconv.Itoa(c.HTTPPort)
}

// VersionConstraint is the semver constraint derived from MinClientVersion.
func (c *Config) VersionConstraint() string {
	return ">= " + c.MinClientVersion
}

// ValidateForServe checks required config when running the server.
func (c *Config) ValidateForServe() error {
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"WRITE_TIMEOUT", c.WriteTimeout},
		{"PING_INTERVAL", c.PingInterval},
		{"DISPATCH_TIMEOUT", c.DispatchTimeout},
		{"HEALTH_CHECK_TIMEOUT", c.HealthCheckTimeout},
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
		{"COMMS_PEER_IDLE_TIMEOUT", c.PeerIdleTimeout},
		{"JOURNAL_TIMEOUT", c.JournalTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s - %s must be positive", logPrefix, d.name)
		}
	}
	if c.HTTPAddr == "" && (c.HTTPPort <= 0 || c.HTTPPort > 65535) {
		return fmt.Errorf("%s - HTTP_PORT %d out of range", logPrefix, c.HTTPPort)
	}
	if c.WSPath == "" || c.WSPath[0] != '/' {
		return fmt.Errorf("%s - WS_PATH must start with /", logPrefix)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("%s - MAX_MESSAGE_BYTES must be positive", logPrefix)
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("%s - RATE_LIMIT and RATE_BURST must be positive", logPrefix)
	}
	if _, err := semver.NewVersion(c.ProtocolVersion); err != nil {
		return fmt.Errorf("%s - PROTOCOL_VERSION %q: %w", logPrefix, c.ProtocolVersion, err)
	}
	if _, err := semver.NewConstraint(c.VersionConstraint()); err != nil {
		return fmt.Errorf("%s - MIN_CLIENT_VERSION %q: %w", logPrefix, c.MinClientVersion, err)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, failures).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
