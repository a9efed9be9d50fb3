package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
	License  LicenseConfig  `yaml:"license"`
	Sync     SyncConfig     `yaml:"sync"`
	Upload   UploadConfig   `yaml:"upload"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration. An empty URL disables
// event publishing.
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LicenseConfig represents license defaults
type LicenseConfig struct {
	DefaultMaxDevices      int `yaml:"default_max_devices"`
	DefaultGracePeriodDays int `yaml:"default_grace_period_days"`
}

// SyncConfig represents field-sync limits
type SyncConfig struct {
	MaxSessionsPerBatch int           `yaml:"max_sessions_per_batch"`
	ForwardTimeout      time.Duration `yaml:"forward_timeout"`
}

// UploadConfig represents CSV upload limits
type UploadConfig struct {
	MaxFileSizeMB int `yaml:"max_file_size_mb"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// setDefaults fills unset fields
func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "timber-inventory-server"
	}

	if c.API.Port == 0 {
		c.API.Port = 8090
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	// Mobile clients hold a token for a full field rotation.
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 7 * 24 * time.Hour
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 30 * 24 * time.Hour
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.License.DefaultMaxDevices == 0 {
		c.License.DefaultMaxDevices = 3
	}
	if c.License.DefaultGracePeriodDays == 0 {
		c.License.DefaultGracePeriodDays = 7
	}

	if c.Sync.MaxSessionsPerBatch == 0 {
		c.Sync.MaxSessionsPerBatch = 100
	}
	if c.Sync.ForwardTimeout == 0 {
		c.Sync.ForwardTimeout = 30 * time.Second
	}

	if c.Upload.MaxFileSizeMB == 0 {
		c.Upload.MaxFileSizeMB = 16
	}
}
