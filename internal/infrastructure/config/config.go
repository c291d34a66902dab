package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors configs/config.yaml. Load fills it from defaults, the file
// and DEVICEHUB_* variables, in that order.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Notify    NotifyConfig    `yaml:"notify"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// ServiceConfig names this hub. ID is attached to every log record as "hub".
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig locates the SQLite file holding device IDs and archives.
type DatabaseConfig struct {
	Path    string `yaml:"path"`
	WALMode bool   `yaml:"wal_mode"`
	// BusyTimeout is in seconds.
	BusyTimeout int `yaml:"busy_timeout"`
}

// MQTTConfig describes the device bus. With Enabled false the hub runs
// without discovery, relay or the mqtt metadata source.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds the reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig configures the REST and WebSocket listener.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig is in seconds. Streaming endpoints clear the write
// timeout for their own connection.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// Durations converts the timeouts for http.Server.
func (t APITimeoutConfig) Durations() (read, write, idle time.Duration) {
	return seconds(t.Read), seconds(t.Write), seconds(t.Idle)
}

// CORSConfig lists what browsers may send. Empty AllowedOrigins disables
// CORS headers entirely.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig durations are in seconds.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig configures the optional telemetry sink. FlushInterval is
// in seconds.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig selects level (debug..error), format (json, text) and
// output (stdout, stderr, discard).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig guards the API with HMAC bearer tokens. An empty secret
// disables authentication.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// NotifyConfig sizes the fan-out queues.
type NotifyConfig struct {
	// QueueSize is the buffer of each subscriber queue. A full queue drops
	// new envelopes.
	QueueSize int `yaml:"queue_size"`
}

// MetadataConfig selects where archive change events come from.
type MetadataConfig struct {
	// Source is "dir", "mqtt" or "none".
	Source     string `yaml:"source"`
	ArchiveDir string `yaml:"archive_dir"`
	Topic      string `yaml:"topic"`
	// RestartDelay is the pause in seconds before a failed watch is restarted.
	RestartDelay int `yaml:"restart_delay"`
}

// RestartBackoff returns RestartDelay as a Duration.
func (m MetadataConfig) RestartBackoff() time.Duration {
	return seconds(m.RestartDelay)
}

// DiscoveryConfig lays out the bus topics the bridge uses.
type DiscoveryConfig struct {
	TopicPrefix string `yaml:"topic_prefix"`
	// Relay republishes every notification on <prefix>/event/<channel>.
	Relay bool `yaml:"relay"`
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Load reads the YAML file at path over the defaults, applies DEVICEHUB_*
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Service:  ServiceConfig{ID: "devicehub-001", Name: "devicehub"},
		Database: DatabaseConfig{Path: "./data/devicehub.db", WALMode: true, BusyTimeout: 5},
		MQTT: MQTTConfig{
			Broker:    MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "devicehub-core"},
			QoS:       1,
			Reconnect: MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60},
		},
		API: APIConfig{
			Host:     "127.0.0.1",
			Port:     8080,
			Timeouts: APITimeoutConfig{Read: 30, Write: 30, Idle: 60},
		},
		WebSocket: WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Security:  SecurityConfig{JWT: JWTConfig{Issuer: "devicehub"}},
		Notify:    NotifyConfig{QueueSize: 64},
		Metadata: MetadataConfig{
			Source:       "dir",
			ArchiveDir:   "./data/metadata",
			Topic:        "devicehub/metadata/changed",
			RestartDelay: 5,
		},
		Discovery: DiscoveryConfig{TopicPrefix: "devicehub", Relay: true},
	}
}

// envOverrides maps DEVICEHUB_* variables onto fields. Secrets belong here
// rather than in the file.
var envOverrides = []struct {
	name  string
	apply func(*Config, string)
}{
	{"DEVICEHUB_DATABASE_PATH", func(c *Config, v string) { c.Database.Path = v }},
	{"DEVICEHUB_MQTT_HOST", func(c *Config, v string) { c.MQTT.Broker.Host = v }},
	{"DEVICEHUB_MQTT_USERNAME", func(c *Config, v string) { c.MQTT.Auth.Username = v }},
	{"DEVICEHUB_MQTT_PASSWORD", func(c *Config, v string) { c.MQTT.Auth.Password = v }},
	{"DEVICEHUB_API_HOST", func(c *Config, v string) { c.API.Host = v }},
	{"DEVICEHUB_API_PORT", func(c *Config, v string) {
		// A malformed port keeps the file value.
		if port, err := strconv.Atoi(v); err == nil {
			c.API.Port = port
		}
	}},
	{"DEVICEHUB_INFLUXDB_TOKEN", func(c *Config, v string) { c.InfluxDB.Token = v }},
	{"DEVICEHUB_METADATA_ARCHIVE_DIR", func(c *Config, v string) { c.Metadata.ArchiveDir = v }},
	{"DEVICEHUB_JWT_SECRET", func(c *Config, v string) { c.Security.JWT.Secret = v }},
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
}

// Validate reports every problem at once, joined into one error.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// An empty secret disables auth; a short one is rejected.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if c.Notify.QueueSize < 1 {
		errs = append(errs, "notify.queue_size must be at least 1")
	}

	switch c.Metadata.Source {
	case "", "none":
	case "dir":
		if c.Metadata.ArchiveDir == "" {
			errs = append(errs, "metadata.archive_dir is required for the dir source")
		}
	case "mqtt":
		if !c.MQTT.Enabled {
			errs = append(errs, "metadata.source mqtt requires mqtt.enabled")
		}
		if c.Metadata.Topic == "" {
			errs = append(errs, "metadata.topic is required for the mqtt source")
		}
	default:
		errs = append(errs, fmt.Sprintf("metadata.source %q must be dir, mqtt or none", c.Metadata.Source))
	}
	if c.Metadata.RestartDelay < 0 {
		errs = append(errs, "metadata.restart_delay must not be negative")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
