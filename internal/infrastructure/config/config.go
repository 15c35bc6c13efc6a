package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the tracker daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
// It is read once at startup and never mutated afterwards.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Network  NetworkConfig  `yaml:"network"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Payload  PayloadConfig  `yaml:"payload"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig identifies this tracker.
type DeviceConfig struct {
	// ID overrides the MAC-derived device identity when set.
	ID string `yaml:"id"`

	// Interface is the network interface whose hardware address
	// becomes the device identity. Default: "wlan0"
	Interface string `yaml:"interface"`

	// Timezone is used when stamping telemetry payloads. Default: "UTC"
	Timezone string `yaml:"timezone"`
}

// NetworkConfig contains Wi-Fi station association settings.
type NetworkConfig struct {
	Interface  string `yaml:"interface"`
	SSID       string `yaml:"ssid"`
	Password   string `yaml:"password"`
	MaxRetries int    `yaml:"max_retries"`

	// AssociateTimeout bounds the startup wait for association (seconds).
	// 0 waits until the attempt cycle resolves.
	AssociateTimeout int `yaml:"associate_timeout"`

	// AttemptTimeout bounds a single connect request before it is
	// reported as a disconnect (seconds).
	AttemptTimeout int `yaml:"attempt_timeout"`

	// PollInterval is how often the station status is sampled (milliseconds).
	PollInterval int `yaml:"poll_interval"`

	Restart    NetworkRestartConfig `yaml:"restart"`
	Supplicant SupplicantConfig     `yaml:"supplicant"`
}

// NetworkRestartConfig controls restarting association after retries are exhausted.
// Disabled by default: an exhausted cycle stays exhausted.
type NetworkRestartConfig struct {
	Enabled      bool `yaml:"enabled"`
	InitialDelay int  `yaml:"initial_delay"`
	MaxDelay     int  `yaml:"max_delay"`
}

// SupplicantConfig contains wpa_supplicant daemon settings.
type SupplicantConfig struct {
	// Managed indicates whether the tracker should run wpa_supplicant itself.
	// If false, wpa_supplicant is expected to be running already (e.g. systemd).
	Managed bool `yaml:"managed"`

	// Binary is the path to the wpa_supplicant executable.
	Binary string `yaml:"binary"`

	// CtlBinary is the path to the wpa_cli executable.
	CtlBinary string `yaml:"ctl_binary"`

	// ConfigPath is passed to wpa_supplicant with -c.
	ConfigPath string `yaml:"config_path"`

	// Driver is passed to wpa_supplicant with -D. Default: "nl80211"
	Driver string `yaml:"driver"`

	RestartOnFailure    bool `yaml:"restart_on_failure"`
	RestartDelaySeconds int  `yaml:"restart_delay_seconds"`
	MaxRestartAttempts  int  `yaml:"max_restart_attempts"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Retain    bool                `yaml:"retain"`
	KeepAlive int                 `yaml:"keep_alive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Store     MQTTStoreConfig     `yaml:"store"`

	// AckTimeout bounds how long a publish waits for the broker
	// acknowledgment (milliseconds). 0 returns once the packet is handed
	// to the transport.
	AckTimeout int `yaml:"ack_timeout"`
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
}

// MQTTStoreConfig contains the in-flight message store settings.
type MQTTStoreConfig struct {
	// Path is the badger directory for unacknowledged QoS 1 packets.
	// Empty keeps them in memory only.
	Path string `yaml:"path"`
}

// DeliveryConfig contains delivery queue settings.
type DeliveryConfig struct {
	QueueCapacity  int `yaml:"queue_capacity"`
	MaxMessageSize int `yaml:"max_message_size"`

	// MemoryBudget is the total number of payload bytes the queue may
	// hold at once, including messages being published.
	MemoryBudget int `yaml:"memory_budget"`

	// EnqueueTimeout bounds how long a producer blocks on a full queue
	// (milliseconds). 0 blocks until space frees or the caller cancels.
	EnqueueTimeout int `yaml:"enqueue_timeout"`
}

// PayloadConfig contains telemetry producer settings.
type PayloadConfig struct {
	Enabled  bool `yaml:"enabled"`
	Interval int  `yaml:"interval"`
}

// DatabaseConfig contains SQLite delivery journal settings.
type DatabaseConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
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

// APIConfig contains local status server settings.
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (factory settings)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TRACKER_SECTION_KEY
// For example: TRACKER_NETWORK_SSID, TRACKER_MQTT_HOST
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

// Default returns the factory configuration, with environment overrides
// applied. It is used when no configuration file exists.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config carrying the factory settings.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Interface: "wlan0",
			Timezone:  "UTC",
		},
		Network: NetworkConfig{
			Interface:      "wlan0",
			SSID:           "gps-tracker",
			Password:       "abcdefgh",
			MaxRetries:     10,
			AttemptTimeout: 15,
			PollInterval:   500,
			Restart: NetworkRestartConfig{
				InitialDelay: 5,
				MaxDelay:     300,
			},
			Supplicant: SupplicantConfig{
				Binary:              "/usr/sbin/wpa_supplicant",
				CtlBinary:           "/usr/sbin/wpa_cli",
				ConfigPath:          "/etc/wpa_supplicant/wpa_supplicant.conf",
				Driver:              "nl80211",
				RestartOnFailure:    true,
				RestartDelaySeconds: 5,
				MaxRestartAttempts:  10,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "test.mosquitto.org",
				Port: 1883,
			},
			QoS:       1,
			Retain:    true,
			KeepAlive: 60,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Delivery: DeliveryConfig{
			QueueCapacity:  10,
			MaxMessageSize: 1024,
			MemoryBudget:   16 * 1024,
		},
		Payload: PayloadConfig{
			Enabled:  true,
			Interval: 5,
		},
		Database: DatabaseConfig{
			Path:          "./data/journal.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 7,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
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

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TRACKER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("TRACKER_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}

	// Network
	if v := os.Getenv("TRACKER_NETWORK_SSID"); v != "" {
		cfg.Network.SSID = v
	}
	if v := os.Getenv("TRACKER_NETWORK_PASSWORD"); v != "" {
		cfg.Network.Password = v
	}
	if v := os.Getenv("TRACKER_NETWORK_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Network.MaxRetries = n
		}
	}

	// MQTT
	if v := os.Getenv("TRACKER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TRACKER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TRACKER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("TRACKER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("TRACKER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// maxClientIDLength is the longest client identifier every MQTT 3.1.1
// broker must accept.
const maxClientIDLength = 23

// Validate checks the configuration for errors.
//
// All problems are collected so a single run reports every bad field.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device
	if c.Device.ID == "" && c.Device.Interface == "" {
		errs = append(errs, "device.id or device.interface is required")
	}
	if _, err := time.LoadLocation(c.Device.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("device.timezone %q is not a known location", c.Device.Timezone))
	}

	// Network
	if c.Network.SSID == "" {
		errs = append(errs, "network.ssid is required")
	}
	if c.Network.Interface == "" {
		errs = append(errs, "network.interface is required")
	}
	if c.Network.MaxRetries < 0 {
		errs = append(errs, "network.max_retries must not be negative")
	}
	if c.Network.AssociateTimeout < 0 {
		errs = append(errs, "network.associate_timeout must not be negative")
	}
	if c.Network.AttemptTimeout < 1 {
		errs = append(errs, "network.attempt_timeout must be at least 1 second")
	}
	if c.Network.PollInterval < 1 {
		errs = append(errs, "network.poll_interval must be at least 1 millisecond")
	}

	// MQTT
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.AckTimeout < 0 {
		errs = append(errs, "mqtt.ack_timeout must not be negative")
	}
	if len(c.MQTT.Broker.ClientID) > maxClientIDLength {
		errs = append(errs, fmt.Sprintf("mqtt.broker.client_id must be at most %d characters", maxClientIDLength))
	}

	// Delivery
	if c.Delivery.QueueCapacity < 1 {
		errs = append(errs, "delivery.queue_capacity must be at least 1")
	}
	if c.Delivery.MaxMessageSize < 1 {
		errs = append(errs, "delivery.max_message_size must be at least 1")
	}
	if c.Delivery.MemoryBudget < c.Delivery.MaxMessageSize {
		errs = append(errs, "delivery.memory_budget must be at least delivery.max_message_size")
	}
	if c.Delivery.EnqueueTimeout < 0 {
		errs = append(errs, "delivery.enqueue_timeout must not be negative")
	}

	// Payload
	if c.Payload.Enabled && c.Payload.Interval < 1 {
		errs = append(errs, "payload.interval must be at least 1 second")
	}

	// Database
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetAssociateTimeout returns the startup association bound as a Duration.
func (c *Config) GetAssociateTimeout() time.Duration {
	return time.Duration(c.Network.AssociateTimeout) * time.Second
}

// GetAttemptTimeout returns the single connect attempt bound as a Duration.
func (c *Config) GetAttemptTimeout() time.Duration {
	return time.Duration(c.Network.AttemptTimeout) * time.Second
}

// GetPollInterval returns the station status poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Network.PollInterval) * time.Millisecond
}

// GetEnqueueTimeout returns the producer backpressure bound as a Duration.
func (c *Config) GetEnqueueTimeout() time.Duration {
	return time.Duration(c.Delivery.EnqueueTimeout) * time.Millisecond
}

// GetPayloadInterval returns the telemetry interval as a Duration.
func (c *Config) GetPayloadInterval() time.Duration {
	return time.Duration(c.Payload.Interval) * time.Second
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
