package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Irrigation IrrigationConfig `yaml:"irrigation"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"`
	CacheTTLSeconds int      `yaml:"cache_ttl_seconds"`
	CORSOrigins     []string `yaml:"cors_origins"`

	// MaxAggregateCount caps the bucket count of one aggregate query.
	MaxAggregateCount int `yaml:"max_aggregate_count"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	// Driver is one of "postgres", "sqlite" or "memory".
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	EnableTimescale        bool   `yaml:"enable_timescale"`
}

// LogConfig selects the zap level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IrrigationConfig tunes the ingestion merge window and the irrigation gate.
type IrrigationConfig struct {
	MergeWindowMinutes int           `yaml:"merge_window_minutes"`
	MergeWindow        time.Duration `yaml:"-"`
	GateHours          int           `yaml:"gate_hours"`
	Gate               time.Duration `yaml:"-"`
	// ResetGateOnFireOnly restarts the gate only when a pump was armed.
	ResetGateOnFireOnly bool `yaml:"reset_gate_on_fire_only"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// MQTTConfig holds the device bus connection settings.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadDotEnv loads a .env file into the process environment if one exists.
// Variables already set are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnv overrides secrets from the environment.
func (cfg *Config) ApplyEnv() {
	if v := os.Getenv("PLANTER_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("PLANTER_VAPID_PUBLIC_KEY"); v != "" {
		cfg.Push.PublicKey = v
	}
	if v := os.Getenv("PLANTER_VAPID_PRIVATE_KEY"); v != "" {
		cfg.Push.PrivateKey = v
	}
	if v := os.Getenv("PLANTER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
}

// ApplyDefaults fills every omitted field with its default value.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}
	if cfg.Server.MaxAggregateCount <= 0 {
		cfg.Server.MaxAggregateCount = 1000
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes <= 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Irrigation.MergeWindowMinutes <= 0 {
		cfg.Irrigation.MergeWindowMinutes = 60
	}
	cfg.Irrigation.MergeWindow = time.Duration(cfg.Irrigation.MergeWindowMinutes) * time.Minute
	if cfg.Irrigation.GateHours <= 0 {
		cfg.Irrigation.GateHours = 12
	}
	cfg.Irrigation.Gate = time.Duration(cfg.Irrigation.GateHours) * time.Hour

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "planterd"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "planter"
	}
}
