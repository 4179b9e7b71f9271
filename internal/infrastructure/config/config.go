package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when neither the --config flag nor
// MQTTCONSOLE_CONFIG names one.
const DefaultPath = "configs/config.yaml"

// envPrefix prefixes every environment override.
const envPrefix = "MQTTCONSOLE_"

// Config is the root configuration structure for the MQTT console.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Publish   PublishConfig   `yaml:"publish"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Policy    PolicyConfig    `yaml:"policy"`
	Journal   JournalConfig   `yaml:"journal"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BrokerConfig contains the default broker endpoint and connection settings.
// Host and port can be overridden per login from the console.
type BrokerConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	TLS                bool   `yaml:"tls"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CAFile             string `yaml:"ca_file"`
	ClientIDPrefix     string `yaml:"client_id_prefix"`
	ConnectTimeout     int    `yaml:"connect_timeout"` // seconds
	KeepAlive          int    `yaml:"keep_alive"`      // seconds
}

// PublishConfig contains outbound publish settings.
type PublishConfig struct {
	QoS        int `yaml:"qos"`
	MaxPayload int `yaml:"max_payload"` // bytes
}

// TrackerConfig contains pending-queue settings.
type TrackerConfig struct {
	// PendingTimeout fails entries left unacknowledged this long (seconds).
	// Zero keeps entries pending until the session ends.
	PendingTimeout int `yaml:"pending_timeout"`

	// SweepInterval is how often expiry is checked (milliseconds).
	SweepInterval int `yaml:"sweep_interval"`

	// Correlation is "id" or "fifo".
	Correlation string `yaml:"correlation"`
}

// PolicyConfig mirrors the broker ACL.
type PolicyConfig struct {
	SuperUser       string `yaml:"super_user"`
	MonitorUser     string `yaml:"monitor_user"`
	CommandPrefix   string `yaml:"command_prefix"`
	TelemetryPrefix string `yaml:"telemetry_prefix"`
	PresenceLevel   string `yaml:"presence_level"`
}

// JournalConfig contains delivery journal (SQLite) settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// APIConfig contains the observer HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// ResolvePath picks the config file: the explicit flag value, then
// MQTTCONSOLE_CONFIG, then DefaultPath. explicit reports whether the path
// came from the operator.
func ResolvePath(flagValue string) (path string, explicit bool) {
	if flagValue != "" {
		return flagValue, true
	}
	if v := os.Getenv(envPrefix + "CONFIG"); v != "" {
		return v, true
	}
	return DefaultPath, false
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MQTTCONSOLE_SECTION_KEY
// For example: MQTTCONSOLE_BROKER_HOST, MQTTCONSOLE_PUBLISH_QOS
//
// When optional is true a missing file is not an error and defaults are used.
func Load(path string, optional bool) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:           "localhost",
			Port:           8883,
			TLS:            true,
			ClientIDPrefix: "console-",
			ConnectTimeout: 10,
			KeepAlive:      60,
		},
		Publish: PublishConfig{
			QoS:        1,
			MaxPayload: 1 << 20,
		},
		Tracker: TrackerConfig{
			PendingTimeout: 0,
			SweepInterval:  1000,
			Correlation:    "id",
		},
		Policy: PolicyConfig{
			SuperUser:       "admin",
			MonitorUser:     "dashboard",
			CommandPrefix:   "commands/",
			TelemetryPrefix: "telemetry/",
			PresenceLevel:   "status",
		},
		Journal: JournalConfig{
			Enabled:     true,
			Path:        "./data/mqttconsole.db",
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			Org:           "mqttconsole",
			Bucket:        "deliveries",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "file",
			File: FileLoggingConfig{
				Path: "./data/mqttconsole.log",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MQTTCONSOLE_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(envPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(envPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	// Broker
	setString("BROKER_HOST", &cfg.Broker.Host)
	setInt("BROKER_PORT", &cfg.Broker.Port)
	setBool("BROKER_TLS", &cfg.Broker.TLS)
	setString("BROKER_CA_FILE", &cfg.Broker.CAFile)

	// Publish / tracker
	setInt("PUBLISH_QOS", &cfg.Publish.QoS)
	setInt("TRACKER_PENDING_TIMEOUT", &cfg.Tracker.PendingTimeout)
	setString("TRACKER_CORRELATION", &cfg.Tracker.Correlation)

	// Journal
	setBool("JOURNAL_ENABLED", &cfg.Journal.Enabled)
	setString("JOURNAL_PATH", &cfg.Journal.Path)

	// InfluxDB
	setBool("INFLUXDB_ENABLED", &cfg.InfluxDB.Enabled)
	setString("INFLUXDB_URL", &cfg.InfluxDB.URL)
	setString("INFLUXDB_TOKEN", &cfg.InfluxDB.Token)

	// API
	setBool("API_ENABLED", &cfg.API.Enabled)
	setString("API_HOST", &cfg.API.Host)
	setInt("API_PORT", &cfg.API.Port)

	// Logging
	setString("LOG_LEVEL", &cfg.Logging.Level)

	return errors.Join(errs...)
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Broker validation
	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}
	if c.Broker.ConnectTimeout < 1 {
		errs = append(errs, "broker.connect_timeout must be at least 1 second")
	}
	if c.Broker.KeepAlive < 0 {
		errs = append(errs, "broker.keep_alive must not be negative")
	}
	if c.Broker.CAFile != "" && !c.Broker.TLS {
		errs = append(errs, "broker.ca_file requires broker.tls")
	}

	// Publish validation
	if c.Publish.QoS < 0 || c.Publish.QoS > 2 {
		errs = append(errs, "publish.qos must be 0, 1, or 2")
	}
	if c.Publish.MaxPayload < 1 {
		errs = append(errs, "publish.max_payload must be positive")
	}

	// Tracker validation
	if c.Tracker.PendingTimeout < 0 {
		errs = append(errs, "tracker.pending_timeout must not be negative")
	}
	if c.Tracker.PendingTimeout > 0 && c.Tracker.SweepInterval < 1 {
		errs = append(errs, "tracker.sweep_interval must be positive when pending_timeout is set")
	}
	switch c.Tracker.Correlation {
	case "id", "fifo":
	default:
		errs = append(errs, fmt.Sprintf("tracker.correlation %q must be id or fifo", c.Tracker.Correlation))
	}

	// Policy validation
	if c.Policy.SuperUser == "" {
		errs = append(errs, "policy.super_user is required")
	}
	if c.Policy.MonitorUser == "" {
		errs = append(errs, "policy.monitor_user is required")
	}
	if !strings.HasSuffix(c.Policy.CommandPrefix, "/") {
		errs = append(errs, "policy.command_prefix must end with /")
	}
	if !strings.HasSuffix(c.Policy.TelemetryPrefix, "/") {
		errs = append(errs, "policy.telemetry_prefix must end with /")
	}

	// Journal validation
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Enabled && !strings.HasPrefix(c.WebSocket.Path, "/") {
		errs = append(errs, "websocket.path must start with /")
	}

	// Logging validation
	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.File.Path == "" {
			errs = append(errs, "logging.file.path is required when logging.output is file")
		}
	default:
		errs = append(errs, fmt.Sprintf("logging.output %q must be stdout, stderr or file", c.Logging.Output))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetConnectTimeout returns the broker connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Broker.ConnectTimeout) * time.Second
}

// GetKeepAlive returns the broker keepalive interval as a Duration.
func (c *Config) GetKeepAlive() time.Duration {
	return time.Duration(c.Broker.KeepAlive) * time.Second
}

// GetPendingTimeout returns the pending timeout, zero when disabled.
func (c *Config) GetPendingTimeout() time.Duration {
	return time.Duration(c.Tracker.PendingTimeout) * time.Second
}

// GetSweepInterval returns the expiry sweep interval.
func (c *Config) GetSweepInterval() time.Duration {
	return time.Duration(c.Tracker.SweepInterval) * time.Millisecond
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
