package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for XR Monitor.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Mixer     MixerConfig     `yaml:"mixer"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`

	// NamesSeed is an optional YAML file of custom channel and bus names
	// synced into the database at startup.
	NamesSeed string `yaml:"names_seed"`
}

// MixerConfig contains the mixer connection and polling settings.
type MixerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	LocalPort int    `yaml:"local_port"`

	KeepAliveInterval   time.Duration `yaml:"keepalive_interval"`
	GeneralPollInterval time.Duration `yaml:"general_poll_interval"`
	ActivePollInterval  time.Duration `yaml:"active_poll_interval"`
	GraceWindow         time.Duration `yaml:"grace_window"`

	// SnapshotWait is how long a bus snapshot waits for replies (100ms-1s).
	SnapshotWait time.Duration `yaml:"snapshot_wait"`

	MinWriteInterval time.Duration `yaml:"min_write_interval"`
	RequestSpacing   time.Duration `yaml:"request_spacing"`
	ResetStagger     time.Duration `yaml:"reset_stagger"`

	// ResetOnConnect sets every send to zero ResetDelay after startup.
	ResetOnConnect bool          `yaml:"reset_on_connect"`
	ResetDelay     time.Duration `yaml:"reset_delay"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// AuditRetentionDays prunes older audit entries. 0 keeps everything.
	AuditRetentionDays int `yaml:"audit_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// PanelDir serves the web client from disk instead of the embedded build.
	PanelDir string `yaml:"panel_dir"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`

	// LevelWritesPerSecond limits set_level messages per client.
	LevelWritesPerSecond int `yaml:"level_writes_per_second"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// AdminPassword is used for the first admin account. When empty a
	// random password is generated and logged.
	AdminPassword string `yaml:"admin_password"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern XRMONITOR_SECTION_KEY, plus
// XR18_IP and XR18_PORT for the mixer address.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Mixer: MixerConfig{
			Host:                "192.168.1.100",
			Port:                10024,
			LocalPort:           10025,
			KeepAliveInterval:   9 * time.Second,
			GeneralPollInterval: 10 * time.Second,
			ActivePollInterval:  time.Second,
			GraceWindow:         30 * time.Second,
			SnapshotWait:        300 * time.Millisecond,
			MinWriteInterval:    5 * time.Millisecond,
			RequestSpacing:      2 * time.Millisecond,
			ResetStagger:        10 * time.Millisecond,
			ResetOnConnect:      true,
			ResetDelay:          3 * time.Second,
		},
		Database: DatabaseConfig{
			Path:               "./data/xrmonitor.db",
			WALMode:            true,
			BusyTimeout:        5,
			AuditRetentionDays: 90,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "xrmonitor",
			},
			QoS:         1,
			TopicPrefix: "xrmonitor",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3001,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:                 "/ws",
			MaxMessageSize:       8192,
			PingInterval:         30,
			PongTimeout:          10,
			LevelWritesPerSecond: 50,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "xrmonitor",
			BatchSize:     500,
			FlushInterval: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 1440,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Mixer
	if v := os.Getenv("XR18_IP"); v != "" {
		cfg.Mixer.Host = v
	}
	if v := os.Getenv("XR18_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Mixer.Port = port
		}
	}

	// Database
	if v := os.Getenv("XRMONITOR_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("XRMONITOR_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("XRMONITOR_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("XRMONITOR_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("XRMONITOR_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("XRMONITOR_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("XRMONITOR_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("XRMONITOR_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("XRMONITOR_ADMIN_PASSWORD"); v != "" {
		cfg.Security.AdminPassword = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Mixer validation
	if c.Mixer.Host == "" {
		errs = append(errs, "mixer.host is required (set XR18_IP environment variable)")
	}
	if c.Mixer.Port < 1 || c.Mixer.Port > 65535 {
		errs = append(errs, "mixer.port must be between 1 and 65535")
	}
	if c.Mixer.LocalPort < 1 || c.Mixer.LocalPort > 65535 {
		errs = append(errs, "mixer.local_port must be between 1 and 65535")
	}
	if c.Mixer.KeepAliveInterval <= 0 || c.Mixer.KeepAliveInterval >= 10*time.Second {
		errs = append(errs, "mixer.keepalive_interval must be positive and below 10s")
	}
	if c.Mixer.GeneralPollInterval <= 0 || c.Mixer.ActivePollInterval <= 0 {
		errs = append(errs, "mixer poll intervals must be positive")
	}
	if c.Mixer.SnapshotWait < 100*time.Millisecond || c.Mixer.SnapshotWait > time.Second {
		errs = append(errs, "mixer.snapshot_wait must be between 100ms and 1s")
	}
	if c.Mixer.MinWriteInterval <= 0 || c.Mixer.MinWriteInterval >= 100*time.Millisecond {
		errs = append(errs, "mixer.min_write_interval must be positive and below 100ms")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.AuditRetentionDays < 0 {
		errs = append(errs, "database.audit_retention_days cannot be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	// Security validation - anyone holding a forged token can move faders
	// on a live show.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set XRMONITOR_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
