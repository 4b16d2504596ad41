package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type StoreConfig struct {
	Driver           string `mapstructure:"driver"`
	DynamoDBEndpoint string `mapstructure:"dynamodb_endpoint"`
	Table            string `mapstructure:"table"`
	SQLitePath       string `mapstructure:"sqlite_path"`
}

type RedisConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type SQSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	RoomClosedQueue string `mapstructure:"room_closed_queue"`
}

type RelayConfig struct {
	QueueSize      int     `mapstructure:"queue_size"`
	MaxStrokeWidth float64 `mapstructure:"max_stroke_width"`
}

type WSConfig struct {
	ReadLimit         int64   `mapstructure:"read_limit"`
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type ArchiveConfig struct {
	BatchIntervalMs int `mapstructure:"batch_interval_ms"`
}

type StatsConfig struct {
	FlushIntervalMs int `mapstructure:"flush_interval_ms"`
}

type RetentionConfig struct {
	Policy string `mapstructure:"policy"`
}

type MDNSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Instance string `mapstructure:"instance"`
}

type Config struct {
	Mode          string          `mapstructure:"mode"`
	Port          int             `mapstructure:"port"`
	LogLevel      string          `mapstructure:"log_level"`
	DevMode       bool            `mapstructure:"dev_mode"`
	JWTSecret     string          `mapstructure:"jwt_secret"`
	AllowedOrigin string          `mapstructure:"allowed_origin"`
	Store         StoreConfig     `mapstructure:"store"`
	Redis         RedisConfig     `mapstructure:"redis"`
	SQS           SQSConfig       `mapstructure:"sqs"`
	Relay         RelayConfig     `mapstructure:"relay"`
	WS            WSConfig        `mapstructure:"ws"`
	Archive       ArchiveConfig   `mapstructure:"archive"`
	Stats         StatsConfig     `mapstructure:"stats"`
	Retention     RetentionConfig `mapstructure:"retention"`
	MDNS          MDNSConfig      `mapstructure:"mdns"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, then COLLAB_* environment
// overrides, e.g. COLLAB_STORE_DRIVER for store.driver.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("store", cfg.Store.Driver).Bool("devMode", cfg.DevMode).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("dev_mode", false)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("allowed_origin", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dynamodb_endpoint", "")
	v.SetDefault("store.table", "CollabStudy")
	v.SetDefault("store.sqlite_path", "collabstudy.db")
	v.SetDefault("redis.endpoint", "")
	v.SetDefault("sqs.endpoint", "")
	v.SetDefault("sqs.room_closed_queue", "")
	v.SetDefault("relay.queue_size", 256)
	v.SetDefault("relay.max_stroke_width", 20)
	v.SetDefault("ws.read_limit", 16384)
	v.SetDefault("ws.messages_per_second", 60)
	v.SetDefault("ws.burst", 120)
	v.SetDefault("archive.batch_interval_ms", 500)
	v.SetDefault("stats.flush_interval_ms", 60000)
	v.SetDefault("retention.policy", "keep")
	v.SetDefault("mdns.enabled", false)
	v.SetDefault("mdns.instance", "collabstudy")
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "dynamo", "sqlite":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Relay.QueueSize <= 0 {
		return fmt.Errorf("relay.queue_size must be positive, got %d", c.Relay.QueueSize)
	}
	if c.Relay.MaxStrokeWidth <= 0 {
		return fmt.Errorf("relay.max_stroke_width must be positive, got %v", c.Relay.MaxStrokeWidth)
	}
	if c.WS.MessagesPerSecond <= 0 || c.WS.Burst <= 0 {
		return fmt.Errorf("ws rate limit must be positive")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	return nil
}

// Secret decodes the base64 JWT signing key.
func (c *Config) Secret() ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 jwt_secret: %w", err)
	}
	return secret, nil
}
