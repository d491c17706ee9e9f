// Package config loads and validates the agent's YAML configuration.
package config

import "time"

// AgentConfig is the root configuration for a livefeed agent instance.
type AgentConfig struct {
	Instance      InstanceConfig      `yaml:"instance"`
	Site          SiteConfig          `yaml:"site"`
	Auth          AuthConfig          `yaml:"auth"`
	Channel       ChannelConfig       `yaml:"channel"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Database      DBConfig            `yaml:"database"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Cache         CacheConfig         `yaml:"cache"`
	Status        StatusConfig        `yaml:"status"`
}

// InstanceConfig identifies this agent.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// SiteConfig points at the Nexus Learn deployment the agent follows.
type SiteConfig struct {
	// BaseURL is the site's HTTP origin (e.g. https://lms.example.com).
	// The live channel URL is derived from it: https → wss, http → ws.
	BaseURL string `yaml:"base_url"`
}

// AuthConfig holds service-token settings for the channel handshake.
type AuthConfig struct {
	Secret   string        `yaml:"secret"`  // Shared HS256 secret (empty = anonymous dial)
	Subject  string        `yaml:"subject"` // Token subject, defaults to instance.id
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// ChannelConfig holds live-channel connection settings.
type ChannelConfig struct {
	Path              string        `yaml:"path"` // Channel path on the site host
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	BufferSize        int           `yaml:"buffer_size"`
}

// NotificationsConfig holds notification surface settings.
type NotificationsConfig struct {
	DismissAfter time.Duration `yaml:"dismiss_after"`
}

// DBConfig holds the optional Postgres archive connection.
// The archive is disabled when Host is empty.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether an archive database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// ArchiveConfig holds batch writer settings for the event archive.
type ArchiveConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// CacheConfig holds the optional Redis stats snapshot settings.
// The cache is disabled when URL is empty.
type CacheConfig struct {
	URL string        `yaml:"url"` // e.g. redis://localhost:6379/0
	TTL time.Duration `yaml:"ttl"`
}

// Enabled reports whether a stats cache is configured.
func (c CacheConfig) Enabled() bool {
	return c.URL != ""
}

// StatusConfig holds the agent's own health/stats HTTP surface settings.
type StatusConfig struct {
	Port int `yaml:"port"`
}
