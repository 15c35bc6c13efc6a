package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
device:
  id: "tracker-test"
network:
  ssid: "field-ap"
  password: "secret"
  max_retries: 3
mqtt:
  broker:
    host: "broker.local"
    port: 1884
  qos: 1
delivery:
  queue_capacity: 4
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.ID != "tracker-test" {
		t.Errorf("Device.ID = %q, want %q", cfg.Device.ID, "tracker-test")
	}
	if cfg.Network.SSID != "field-ap" {
		t.Errorf("Network.SSID = %q, want %q", cfg.Network.SSID, "field-ap")
	}
	if cfg.Network.MaxRetries != 3 {
		t.Errorf("Network.MaxRetries = %d, want 3", cfg.Network.MaxRetries)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Delivery.QueueCapacity != 4 {
		t.Errorf("Delivery.QueueCapacity = %d, want 4", cfg.Delivery.QueueCapacity)
	}
	// Untouched sections keep factory values.
	if !cfg.MQTT.Retain {
		t.Error("MQTT.Retain = false, want factory default true")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
network:
  ssid: ""
mqtt:
  qos: 3
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"network.ssid", "mqtt.qos"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestDefaultConfig_FactorySettings(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Network.SSID != "gps-tracker" {
		t.Errorf("Network.SSID = %q, want gps-tracker", cfg.Network.SSID)
	}
	if cfg.Network.MaxRetries != 10 {
		t.Errorf("Network.MaxRetries = %d, want 10", cfg.Network.MaxRetries)
	}
	if cfg.Delivery.QueueCapacity != 10 {
		t.Errorf("Delivery.QueueCapacity = %d, want 10", cfg.Delivery.QueueCapacity)
	}
	if cfg.MQTT.QoS != 1 || !cfg.MQTT.Retain {
		t.Errorf("MQTT QoS/Retain = %d/%v, want 1/true", cfg.MQTT.QoS, cfg.MQTT.Retain)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("factory config should validate, got %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("TRACKER_DEVICE_ID", "env-device")
	t.Setenv("TRACKER_NETWORK_SSID", "env-ssid")
	t.Setenv("TRACKER_NETWORK_MAX_RETRIES", "2")
	t.Setenv("TRACKER_MQTT_HOST", "env-broker")
	t.Setenv("TRACKER_INFLUXDB_TOKEN", "env-token")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Device.ID != "env-device" {
		t.Errorf("Device.ID = %q, want env-device", cfg.Device.ID)
	}
	if cfg.Network.SSID != "env-ssid" {
		t.Errorf("Network.SSID = %q, want env-ssid", cfg.Network.SSID)
	}
	if cfg.Network.MaxRetries != 2 {
		t.Errorf("Network.MaxRetries = %d, want 2", cfg.Network.MaxRetries)
	}
	if cfg.MQTT.Broker.Host != "env-broker" {
		t.Errorf("MQTT.Broker.Host = %q, want env-broker", cfg.MQTT.Broker.Host)
	}
	if cfg.InfluxDB.Token != "env-token" {
		t.Errorf("InfluxDB.Token = %q, want env-token", cfg.InfluxDB.Token)
	}
}

func TestApplyEnvOverrides_IgnoresBadInteger(t *testing.T) {
	t.Setenv("TRACKER_NETWORK_MAX_RETRIES", "many")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Network.MaxRetries != 10 {
		t.Errorf("Network.MaxRetries = %d, want unchanged 10", cfg.Network.MaxRetries)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"factory", func(*Config) {}, ""},
		{"negative retries", func(c *Config) { c.Network.MaxRetries = -1 }, "network.max_retries"},
		{"zero retries allowed", func(c *Config) { c.Network.MaxRetries = 0 }, ""},
		{"no broker host", func(c *Config) { c.MQTT.Broker.Host = "" }, "mqtt.broker.host"},
		{"bad broker port", func(c *Config) { c.MQTT.Broker.Port = 70000 }, "mqtt.broker.port"},
		{"long client id", func(c *Config) { c.MQTT.Broker.ClientID = "tracker-unit-in-warehouse-7" }, "mqtt.broker.client_id"},
		{"client id fits", func(c *Config) { c.MQTT.Broker.ClientID = "tracker-ABCDEFGHIJKLMNO" }, ""},
		{"zero capacity", func(c *Config) { c.Delivery.QueueCapacity = 0 }, "delivery.queue_capacity"},
		{"budget below message cap", func(c *Config) { c.Delivery.MemoryBudget = 10 }, "delivery.memory_budget"},
		{"bad timezone", func(c *Config) { c.Device.Timezone = "Mars/Olympus" }, "device.timezone"},
		{"journal without path", func(c *Config) {
			c.Database.Enabled = true
			c.Database.Path = ""
		}, "database.path"},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb.url"},
		{"api bad port", func(c *Config) {
			c.API.Enabled = true
			c.API.Port = 0
		}, "api.port"},
		{"api disabled ignores port", func(c *Config) { c.API.Port = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := defaultConfig()
	cfg.Network.AssociateTimeout = 30
	cfg.Delivery.EnqueueTimeout = 250

	if got := cfg.GetAssociateTimeout(); got != 30*time.Second {
		t.Errorf("GetAssociateTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetAttemptTimeout(); got != 15*time.Second {
		t.Errorf("GetAttemptTimeout() = %v, want 15s", got)
	}
	if got := cfg.GetPollInterval(); got != 500*time.Millisecond {
		t.Errorf("GetPollInterval() = %v, want 500ms", got)
	}
	if got := cfg.GetEnqueueTimeout(); got != 250*time.Millisecond {
		t.Errorf("GetEnqueueTimeout() = %v, want 250ms", got)
	}
	if got := cfg.GetPayloadInterval(); got != 5*time.Second {
		t.Errorf("GetPayloadInterval() = %v, want 5s", got)
	}
}
