// Package config provides configuration management for the log aggregator.
// It supports loading configuration from environment variables, config
// files, and defaults, following the same viper-based layering as the
// rest of the ambient stack.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	Tailer      TailerConfig      `mapstructure:"tailer"`
	Bus         BusConfig         `mapstructure:"bus"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Hub         HubConfig         `mapstructure:"hub"`
	Forwarder   ForwarderConfig   `mapstructure:"forwarder"`
	Supervisor  SupervisorConfig  `mapstructure:"supervisor"`
	Docker      DockerConfig      `mapstructure:"docker"`
	DataDir     string            `mapstructure:"dataDir"`
}

// ServerConfig holds the subscriber-hub WebSocket listener configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`
	WriteTimeout int    `mapstructure:"writeTimeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// NATSConfig holds event-bus NATS configuration. An empty URL selects the
// in-memory bus instead.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DatabaseConfig holds the config-DB connection used by the Custom Agent
// Store Adapter (C3). Driver "sqlite" is the zero-friction default; set
// driver to "postgres" to use DSN-based pgx.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// DiscoveryConfig holds the Agent Discoverer's (C2) options.
type DiscoveryConfig struct {
	EnableMock bool `mapstructure:"enableMock"`
	EnableReal bool `mapstructure:"enableReal"`
	MixedMode  bool `mapstructure:"mixedMode"`
	ForceReal  bool `mapstructure:"forceReal"`
}

// TailerConfig holds the File Tailer's (C4) polling behavior.
type TailerConfig struct {
	PollInterval    time.Duration `mapstructure:"pollInterval"`
	ValidateEvery   time.Duration `mapstructure:"validateEvery"`
	ReadBufferBytes int           `mapstructure:"readBufferBytes"`
}

// BusConfig holds the Ingestion Bus's (C7) queue sizing.
type BusConfig struct {
	SubscriberQueueDepth int           `mapstructure:"subscriberQueueDepth"`
	StorageBlockTimeout  time.Duration `mapstructure:"storageBlockTimeout"`
}

// StorageConfig holds the Storage Sink's (C8) batching and retry behavior.
type StorageConfig struct {
	BatchSize       int           `mapstructure:"batchSize"`
	FlushInterval   time.Duration `mapstructure:"flushInterval"`
	RetryBaseDelay  time.Duration `mapstructure:"retryBaseDelay"`
	RetryMaxDelay   time.Duration `mapstructure:"retryMaxDelay"`
	RetryMaxAttempts int          `mapstructure:"retryMaxAttempts"`
}

// HubConfig holds the Subscriber Hub's (C9) heartbeat behavior.
type HubConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	PongTimeout       time.Duration `mapstructure:"pongTimeout"`
}

// ForwarderConfig holds syslog forwarding persistence configuration.
type ForwarderConfig struct {
	PersistencePath    string        `mapstructure:"persistencePath"`
	ReconnectBaseDelay time.Duration `mapstructure:"reconnectBaseDelay"`
	ReconnectMaxDelay  time.Duration `mapstructure:"reconnectMaxDelay"`
}

// SupervisorConfig holds the Service Supervisor's (C11) default cadence.
type SupervisorConfig struct {
	DefaultHealthInterval time.Duration `mapstructure:"defaultHealthInterval"`
	DefaultMaxFailures    int           `mapstructure:"defaultMaxFailures"`
	DefaultRestartDelay   time.Duration `mapstructure:"defaultRestartDelay"`
}

// DockerConfig holds Docker client configuration used by the "docker"
// service-kind health check.
type DockerConfig struct {
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"apiVersion"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "logagg-client")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./logagg.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "logagg")
	v.SetDefault("database.dbName", "logagg")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	v.SetDefault("discovery.enableMock", false)
	v.SetDefault("discovery.enableReal", true)
	v.SetDefault("discovery.mixedMode", false)
	v.SetDefault("discovery.forceReal", false)

	v.SetDefault("tailer.pollInterval", 2*time.Second)
	v.SetDefault("tailer.validateEvery", 5*time.Minute)
	v.SetDefault("tailer.readBufferBytes", 64*1024)

	v.SetDefault("bus.subscriberQueueDepth", 1024)
	v.SetDefault("bus.storageBlockTimeout", 50*time.Millisecond)

	v.SetDefault("storage.batchSize", 512)
	v.SetDefault("storage.flushInterval", 250*time.Millisecond)
	v.SetDefault("storage.retryBaseDelay", 200*time.Millisecond)
	v.SetDefault("storage.retryMaxDelay", 30*time.Second)
	v.SetDefault("storage.retryMaxAttempts", 8)

	v.SetDefault("hub.heartbeatInterval", 30*time.Second)
	v.SetDefault("hub.pongTimeout", 60*time.Second)

	v.SetDefault("forwarder.persistencePath", "")
	v.SetDefault("forwarder.reconnectBaseDelay", 100*time.Millisecond)
	v.SetDefault("forwarder.reconnectMaxDelay", 5*time.Second)

	v.SetDefault("supervisor.defaultHealthInterval", 30*time.Second)
	v.SetDefault("supervisor.defaultMaxFailures", 3)
	v.SetDefault("supervisor.defaultRestartDelay", 5*time.Second)

	v.SetDefault("docker.host", defaultDockerHost())
	v.SetDefault("docker.apiVersion", "1.41")

	v.SetDefault("dataDir", defaultDataDir())
}

// detectDefaultLogFormat mirrors the ambient-stack convention: json in
// production/Kubernetes, human-readable text on a terminal.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("NODE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func defaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	return "unix:///var/run/docker.sock"
}

func defaultDataDir() string {
	if dir := os.Getenv("LOGAGG_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.logagg"
	}
	return home + "/.logagg"
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the LOGAGG_ prefix.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the given path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LOGAGG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("nats.url", "LOGAGG_NATS_URL")
	_ = v.BindEnv("dataDir", "LOGAGG_DATA_DIR")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/logagg/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Forwarder.PersistencePath == "" {
		cfg.Forwarder.PersistencePath = cfg.DataDir + "/syslog-forwarders.json"
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.Driver == "postgres" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for postgres driver")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if cfg.Storage.BatchSize <= 0 {
		errs = append(errs, "storage.batchSize must be positive")
	}
	if cfg.Bus.SubscriberQueueDepth <= 0 {
		errs = append(errs, "bus.subscriberQueueDepth must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
