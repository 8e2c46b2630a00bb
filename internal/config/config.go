package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/timeline-party/internal/domain"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "TIMELINE_"

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	Postgres  PostgresConfig  `yaml:"postgres" envPrefix:"POSTGRES_"`
	Kafka     KafkaConfig     `yaml:"kafka" envPrefix:"KAFKA_"`
	Sync      SyncConfig      `yaml:"sync" envPrefix:"SYNC_"`
	Retry     RetryConfig     `yaml:"retry" envPrefix:"RETRY_"`
	Game      GameConfig      `yaml:"game"`
	Tracks    TracksConfig    `yaml:"tracks" envPrefix:"TRACKS_"`
	Discord   DiscordConfig   `yaml:"discord" envPrefix:"DISCORD_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"OTEL_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int           `yaml:"port" env:"PORT"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Database        string        `yaml:"database" env:"DATABASE"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds the notification fan-out configuration
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" env:"ENABLED"`
	Brokers []string `yaml:"brokers" env:"BROKERS"`
	Topic   string   `yaml:"topic" env:"TOPIC"`
	// GroupPrefix is completed with an instance id so that every server
	// instance receives every notification
	GroupPrefix   string        `yaml:"group_prefix" env:"GROUP_PREFIX"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// SyncConfig holds the archive worker configuration
type SyncConfig struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	Interval  time.Duration `yaml:"interval" env:"INTERVAL"`
	BatchSize int           `yaml:"batch_size"`
	// Retention is how long finished games stay in Redis after their last change
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
}

// RetryConfig holds the optimistic concurrency retry policy
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	MinInterval time.Duration `yaml:"min_interval" env:"MIN_INTERVAL"`
	Jitter      time.Duration `yaml:"jitter" env:"JITTER"`
}

// GameConfig holds the defaults for settings omitted on game creation
type GameConfig struct {
	Market                     string                 `yaml:"market"`
	InitialTokens              int                    `yaml:"initial_tokens"`
	MaxTokens                  int                    `yaml:"max_tokens"`
	TimelineTarget             int                    `yaml:"timeline_target"`
	GuessTimeout               time.Duration          `yaml:"guess_timeout"`
	ArtistMatchMode            domain.ArtistMatchMode `yaml:"artist_match_mode"`
	TitleMatchMode             domain.TitleMatchMode  `yaml:"title_match_mode"`
	CreditsSimilarityThreshold float64                `yaml:"credits_similarity_threshold"`
}

// Apply fills the zero fields of the settings with the configured defaults
func (c GameConfig) Apply(s domain.GameSettings) domain.GameSettings {
	if s.Market == "" {
		s.Market = c.Market
	}
	if s.InitialTokens == 0 {
		s.InitialTokens = c.InitialTokens
	}
	if s.MaxTokens == 0 {
		s.MaxTokens = c.MaxTokens
	}
	if s.TimelineTarget == 0 {
		s.TimelineTarget = c.TimelineTarget
	}
	if s.GuessTimeout == 0 {
		s.GuessTimeout = c.GuessTimeout
	}
	if s.ArtistMatchMode == "" {
		s.ArtistMatchMode = c.ArtistMatchMode
	}
	if s.TitleMatchMode == "" {
		s.TitleMatchMode = c.TitleMatchMode
	}
	if s.CreditsSimilarityThreshold == 0 {
		s.CreditsSimilarityThreshold = c.CreditsSimilarityThreshold
	}
	return s
}

// TracksConfig selects where tracks come from
type TracksConfig struct {
	// Source is "catalog" (YAML file) or "postgres"
	Source      string `yaml:"source" env:"SOURCE"`
	CatalogPath string `yaml:"catalog_path" env:"CATALOG_PATH"`
	Seed        int64  `yaml:"seed"`
}

// DiscordConfig holds the Discord notification channel configuration
type DiscordConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Token   string `yaml:"token" env:"TOKEN"`
}

// TelemetryConfig holds the tracing configuration
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" env:"ENABLED"`
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// An empty path loads defaults and overrides only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables
		data = []byte(os.ExpandEnv(string(data)))

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no sensible default
func (c *Config) Validate() error {
	switch c.Tracks.Source {
	case "catalog":
		if c.Tracks.CatalogPath == "" {
			return fmt.Errorf("tracks.catalog_path is required for the catalog source")
		}
	case "postgres":
		if !c.Postgres.Enabled {
			return fmt.Errorf("tracks.source postgres requires postgres.enabled")
		}
	default:
		return fmt.Errorf("unknown tracks.source %q", c.Tracks.Source)
	}
	if c.Sync.Enabled && !c.Postgres.Enabled {
		return fmt.Errorf("sync.enabled requires postgres.enabled")
	}
	if c.Discord.Enabled && c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required when discord is enabled")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 20
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 2
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "timeline-notifications"
	}
	if c.Kafka.GroupPrefix == "" {
		c.Kafka.GroupPrefix = "timeline-notifier"
	}
	if c.Kafka.FlushInterval == 0 {
		c.Kafka.FlushInterval = 10 * time.Millisecond
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 100 * time.Millisecond
	}

	// Sync defaults
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 1 * time.Minute
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 500
	}
	if c.Sync.Retention == 0 {
		c.Sync.Retention = 24 * time.Hour
	}

	// Retry defaults
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.MinInterval == 0 {
		c.Retry.MinInterval = 10 * time.Millisecond
	}
	if c.Retry.Jitter == 0 {
		c.Retry.Jitter = 20 * time.Millisecond
	}

	// Game defaults
	if c.Game.InitialTokens == 0 {
		c.Game.InitialTokens = 2
	}
	if c.Game.MaxTokens == 0 {
		c.Game.MaxTokens = 5
	}
	if c.Game.TimelineTarget == 0 {
		c.Game.TimelineTarget = 10
	}
	if c.Game.GuessTimeout == 0 {
		c.Game.GuessTimeout = 60 * time.Second
	}
	if c.Game.ArtistMatchMode == "" {
		c.Game.ArtistMatchMode = domain.ArtistMatchOne
	}
	if c.Game.TitleMatchMode == "" {
		c.Game.TitleMatchMode = domain.TitleMatchMain
	}
	if c.Game.CreditsSimilarityThreshold == 0 {
		c.Game.CreditsSimilarityThreshold = 0.8
	}

	// Tracks defaults
	if c.Tracks.Source == "" {
		c.Tracks.Source = "catalog"
	}
	if c.Tracks.Source == "catalog" && c.Tracks.CatalogPath == "" {
		c.Tracks.CatalogPath = "catalog.yaml"
	}

	// Telemetry defaults
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "timeline-party"
	}
	if c.Telemetry.SampleRatio == 0 {
		c.Telemetry.SampleRatio = 1
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
