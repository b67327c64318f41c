package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/registry"
	"github.com/nerrad567/mqtt-sql-forwarder/internal/translate"
)

// DefaultPath is used when FORWARDER_CONFIG is not set.
const DefaultPath = "configs/forwarder.yaml"

// clientIDPrefix prefixes generated client identifiers.
const clientIDPrefix = "mqtt-sql-forwarder-"

// Supported MQTT protocol versions.
const (
	ProtocolV311 = 4
	ProtocolV5   = 5
)

// Config is the root configuration structure for the forwarder.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Broker        BrokerConfig         `yaml:"broker"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Destinations  map[string]string    `yaml:"destinations"`
	Translator    TranslatorConfig     `yaml:"translator"`
	Database      DatabaseConfig       `yaml:"database"`
	DeadLetter    DeadLetterConfig     `yaml:"dead_letter"`
	Echo          EchoConfig           `yaml:"echo"`
	InfluxDB      InfluxDBConfig       `yaml:"influxdb"`
	Admin         AdminConfig          `yaml:"admin"`
	Logging       LoggingConfig        `yaml:"logging"`
}

// BrokerConfig contains MQTT broker session settings.
type BrokerConfig struct {
	// URI is the broker endpoint, e.g. "tcp://localhost:1883".
	URI string `yaml:"uri"`

	// ClientID identifies the session. Generated when empty.
	ClientID string `yaml:"client_id"`

	// ProtocolVersion selects MQTT 3.1.1 (4) or MQTT 5 (5).
	ProtocolVersion int `yaml:"protocol_version"`

	KeepAlive      time.Duration `yaml:"keep_alive"`
	CleanStart     bool          `yaml:"clean_start"`
	SessionExpiry  time.Duration `yaml:"session_expiry"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// BufferSize is the inbound message buffer between the client and the loop.
	BufferSize int `yaml:"buffer_size"`

	Auth      MQTTAuthConfig  `yaml:"auth"`
	Will      *WillConfig     `yaml:"will"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WillConfig is the last-will message published by the broker on unclean disconnect.
type WillConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     int    `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
}

// ReconnectConfig contains reconnection timing.
type ReconnectConfig struct {
	// RetryInterval is the fixed pause between failed attempts.
	RetryInterval time.Duration `yaml:"retry_interval"`

	// NoticeWindow is how long a lost-connection notice stays outstanding.
	NoticeWindow time.Duration `yaml:"notice_window"`
}

// SubscriptionConfig is one entry of the topic registry.
type SubscriptionConfig struct {
	Topic   string                    `yaml:"topic"`
	QoS     int                       `yaml:"qos"`
	Options SubscriptionOptionsConfig `yaml:"options"`
}

// SubscriptionOptionsConfig holds MQTT 5 subscribe options.
type SubscriptionOptionsConfig struct {
	NoLocal           bool `yaml:"no_local"`
	RetainAsPublished bool `yaml:"retain_as_published"`
	RetainHandling    int  `yaml:"retain_handling"`
}

// TranslatorConfig controls payload translation.
type TranslatorConfig struct {
	// Numbers is "widen" (fractional numbers stored as float) or "reject".
	Numbers string `yaml:"numbers"`
}

// DatabaseConfig contains sink settings.
type DatabaseConfig struct {
	Driver      string        `yaml:"driver"`
	Path        string        `yaml:"path"`
	DSN         string        `yaml:"dsn"`
	WALMode     bool          `yaml:"wal_mode"`
	BusyTimeout int           `yaml:"busy_timeout"`
	ExecTimeout time.Duration `yaml:"exec_timeout"`
}

// DeadLetterConfig controls the bounded rejected-message table.
type DeadLetterConfig struct {
	Enabled bool `yaml:"enabled"`
	MaxRows int  `yaml:"max_rows"`
}

// EchoConfig controls republishing of forwarded rows.
type EchoConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
	QoS     int    `yaml:"qos"`
}

// InfluxDBConfig contains InfluxDB connection settings for forwarding telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// AdminConfig contains the admin HTTP server settings.
type AdminConfig struct {
	Enabled  bool               `yaml:"enabled"`
	Host     string             `yaml:"host"`
	Port     int                `yaml:"port"`
	Timeouts AdminTimeoutConfig `yaml:"timeouts"`
}

// AdminTimeoutConfig contains HTTP timeout settings (seconds).
type AdminTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Path returns the configuration file path: FORWARDER_CONFIG if set,
// otherwise DefaultPath.
func Path() string {
	if p := os.Getenv("FORWARDER_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads configuration from a YAML file and applies environment overrides.
//
// The loading process:
//  1. Start with default values
//  2. Override with values from YAML file
//  3. Override with environment variables (FORWARDER_*)
//  4. Generate a client id if none was given
//  5. Validate the final configuration
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

	if cfg.Broker.ClientID == "" {
		cfg.Broker.ClientID = GenerateClientID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// GenerateClientID returns "mqtt-sql-forwarder-" followed by the first
// block of a random UUID.
func GenerateClientID() string {
	id := uuid.NewString()
	return clientIDPrefix + id[:8]
}

// defaultConfig returns a Config with sensible default values.
func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			URI:             "tcp://localhost:1883",
			ProtocolVersion: ProtocolV5,
			KeepAlive:       5 * time.Second,
			CleanStart:      false,
			SessionExpiry:   60 * time.Second,
			ConnectTimeout:  10 * time.Second,
			BufferSize:      100,
			Reconnect: ReconnectConfig{
				RetryInterval: 1 * time.Second,
				NoticeWindow:  2 * time.Second,
			},
		},
		Destinations: map[string]string{},
		Translator: TranslatorConfig{
			Numbers: "widen",
		},
		Database: DatabaseConfig{
			Driver:      "sqlite3",
			Path:        "./data/forwarder.db",
			WALMode:     true,
			BusyTimeout: 5,
			ExecTimeout: 5 * time.Second,
		},
		DeadLetter: DeadLetterConfig{
			MaxRows: 10000,
		},
		Echo: EchoConfig{
			Topic: "mqtt-sql-forwarder/echo",
			QoS:   1,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Admin: AdminConfig{
			Host: "127.0.0.1",
			Port: 9464,
			Timeouts: AdminTimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - FORWARDER_BROKER_URI: Override broker endpoint
//   - FORWARDER_MQTT_USERNAME: Override MQTT username
//   - FORWARDER_MQTT_PASSWORD: Override MQTT password
//   - FORWARDER_DATABASE_PATH: Override SQLite path
//   - FORWARDER_DATABASE_DSN: Override MySQL DSN
//   - FORWARDER_INFLUXDB_TOKEN: Override InfluxDB token
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORWARDER_BROKER_URI"); v != "" {
		cfg.Broker.URI = v
	}
	if v := os.Getenv("FORWARDER_MQTT_USERNAME"); v != "" {
		cfg.Broker.Auth.Username = v
	}
	if v := os.Getenv("FORWARDER_MQTT_PASSWORD"); v != "" {
		cfg.Broker.Auth.Password = v
	}
	if v := os.Getenv("FORWARDER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("FORWARDER_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("FORWARDER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks that the configuration is valid and complete.
// It collects every problem rather than stopping at the first.
//
// Returns:
//   - error: Describes all validation failures, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateBroker()...)

	var reg *registry.Registry
	if len(c.Subscriptions) == 0 {
		errs = append(errs, "subscriptions must list at least one topic")
	} else if r, err := c.Registry(); err != nil {
		errs = append(errs, fmt.Sprintf("subscriptions: %v", err))
	} else {
		reg = r
	}

	for topic, table := range c.Destinations {
		if strings.TrimSpace(topic) == "" || strings.TrimSpace(table) == "" {
			errs = append(errs, "destinations entries need a topic and a table")
			break
		}
		if translate.IsReservedTable(table) {
			errs = append(errs, fmt.Sprintf("destinations: table %q for topic %q is reserved", table, topic))
		}
	}

	if _, err := translate.ParseNumberPolicy(c.Translator.Numbers); err != nil {
		errs = append(errs, "translator.numbers must be widen or reject")
	}

	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite3")
		}
	case "mysql":
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for mysql (set FORWARDER_DATABASE_DSN environment variable)")
		}
	default:
		errs = append(errs, "database.driver must be sqlite3 or mysql")
	}
	if c.Database.ExecTimeout <= 0 {
		errs = append(errs, "database.exec_timeout must be positive")
	}

	if c.DeadLetter.Enabled && c.DeadLetter.MaxRows < 1 {
		errs = append(errs, "dead_letter.max_rows must be at least 1")
	}

	if c.Echo.Enabled {
		if c.Echo.Topic == "" {
			errs = append(errs, "echo.topic is required when echo is enabled")
		} else if strings.ContainsAny(c.Echo.Topic, "+#") {
			errs = append(errs, "echo.topic must not contain wildcards")
		} else if reg != nil {
			if e, ok := reg.Match(c.Echo.Topic); ok {
				errs = append(errs, fmt.Sprintf("echo.topic %q matches subscription %q", c.Echo.Topic, e.Topic))
			}
		}
		if c.Echo.QoS < 0 || c.Echo.QoS > 2 {
			errs = append(errs, "echo.qos must be 0, 1, or 2")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if c.Admin.Enabled && (c.Admin.Port < 1 || c.Admin.Port > 65535) {
		errs = append(errs, "admin.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateBroker() []string {
	var errs []string
	b := c.Broker

	if b.URI == "" {
		errs = append(errs, "broker.uri is required")
	}
	if b.ProtocolVersion != ProtocolV311 && b.ProtocolVersion != ProtocolV5 {
		errs = append(errs, "broker.protocol_version must be 4 (3.1.1) or 5")
	}
	if b.KeepAlive < 0 || b.KeepAlive > math.MaxUint16*time.Second {
		errs = append(errs, "broker.keep_alive must be between 0s and 65535s")
	}
	if b.SessionExpiry < 0 || b.SessionExpiry > time.Duration(math.MaxUint32)*time.Second {
		errs = append(errs, "broker.session_expiry is out of range")
	}
	if b.ConnectTimeout <= 0 {
		errs = append(errs, "broker.connect_timeout must be positive")
	}
	if b.BufferSize < 1 {
		errs = append(errs, "broker.buffer_size must be at least 1")
	}
	if b.Reconnect.RetryInterval <= 0 {
		errs = append(errs, "broker.reconnect.retry_interval must be positive")
	}
	if b.Reconnect.NoticeWindow <= 0 {
		errs = append(errs, "broker.reconnect.notice_window must be positive")
	}
	if b.Will != nil {
		if b.Will.Topic == "" {
			errs = append(errs, "broker.will.topic is required when a will is configured")
		}
		if b.Will.QoS < 0 || b.Will.QoS > 2 {
			errs = append(errs, "broker.will.qos must be 0, 1, or 2")
		}
	}
	return errs
}

// Registry builds the ordered topic registry from the subscriptions list.
//
// Returns:
//   - *registry.Registry: Entries in file order
//   - error: If any subscription is invalid
func (c *Config) Registry() (*registry.Registry, error) {
	topics := make([]string, 0, len(c.Subscriptions))
	qos := make([]byte, 0, len(c.Subscriptions))
	opts := make([]registry.Options, 0, len(c.Subscriptions))

	for i, s := range c.Subscriptions {
		if s.QoS < 0 || s.QoS > 2 {
			return nil, fmt.Errorf("subscription %d (%q): %w: got %d", i, s.Topic, registry.ErrInvalidQoS, s.QoS)
		}
		rh, err := registry.ParseRetainHandling(s.Options.RetainHandling)
		if err != nil {
			return nil, fmt.Errorf("subscription %d (%q): %w", i, s.Topic, err)
		}

		topics = append(topics, s.Topic)
		qos = append(qos, byte(s.QoS))
		opts = append(opts, registry.Options{
			NoLocal:           s.Options.NoLocal,
			RetainAsPublished: s.Options.RetainAsPublished,
			RetainHandling:    rh,
		})
	}
	return registry.FromVectors(topics, qos, opts)
}

// GetReadTimeout returns the admin read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Admin.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the admin write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.Admin.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the admin idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Admin.Timeouts.Idle) * time.Second
}
