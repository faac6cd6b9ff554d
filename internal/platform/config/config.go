package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "MEMBERPASS"

// Bounds for the verification cache TTL.
const (
	MinCacheTTL = 10 * time.Second
	MaxCacheTTL = 10 * time.Minute
)

// Config is the runtime configuration for the memberpass server.
type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	LogFormat   string          `mapstructure:"log_format"`
	Server      ServerConfig    `mapstructure:"server"`
	Engine      EngineConfig    `mapstructure:"engine"`
	Warm        WarmConfig      `mapstructure:"warm"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Kafka       KafkaConfig     `mapstructure:"kafka"`
	RateLimit   RateLimitConfig `mapstructure:"ratelimit"`
}

// ServerConfig configures the HTTP listener and admin authentication.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AdminJWTKey     string        `mapstructure:"admin_jwt_key"`
	AdminJWTIssuer  string        `mapstructure:"admin_jwt_issuer"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EngineConfig holds the issuance and verification settings.
type EngineConfig struct {
	Secret          string        `mapstructure:"secret"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	MaxEntries      int           `mapstructure:"max_entries"`
	LookupTimeout   time.Duration `mapstructure:"lookup_timeout"`
	BulkConcurrency int           `mapstructure:"bulk_concurrency"`
	DefaultTemplate string        `mapstructure:"default_template"`
	// CircuitFailures consecutive member store failures open the breaker;
	// while open a single probe is let through every CircuitCooldown.
	CircuitFailures int           `mapstructure:"circuit_failures"`
	CircuitCooldown time.Duration `mapstructure:"circuit_cooldown"`
}

// WarmConfig schedules cache warming ahead of known traffic peaks.
type WarmConfig struct {
	Schedule      string  `mapstructure:"schedule"`
	Limit         int     `mapstructure:"limit"`
	Concurrency   int     `mapstructure:"concurrency"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

// DatabaseConfig points at the member system of record. Empty URL selects
// in-memory stores.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// RedisConfig configures the shared revocation list and the pub/sub mutation
// channel. Empty URL disables Redis.
type RedisConfig struct {
	URL             string        `mapstructure:"url"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MutationChannel string        `mapstructure:"mutation_channel"`
}

// KafkaConfig configures the member change feed. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	Topic      string   `mapstructure:"topic"`
	Group      string   `mapstructure:"group"`
	Partitions int32    `mapstructure:"partitions"`
}

// RateLimitConfig throttles the public verification routes per client IP.
type RateLimitConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	VerifyPerMinute int  `mapstructure:"verify_per_minute"`
}

// IsDev reports whether the server runs in development mode.
func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

// Load reads configuration from the environment (MEMBERPASS_ prefix, with
// dots in keys replaced by underscores) and an optional memberpass.yaml in
// the given paths.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("memberpass")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.admin_jwt_key", "")
	v.SetDefault("server.admin_jwt_issuer", "memberpass")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("engine.secret", "")
	v.SetDefault("engine.cache_ttl", "60s")
	v.SetDefault("engine.max_entries", 100_000)
	v.SetDefault("engine.lookup_timeout", "2s")
	v.SetDefault("engine.bulk_concurrency", 8)
	v.SetDefault("engine.default_template", "standard")
	v.SetDefault("engine.circuit_failures", 5)
	v.SetDefault("engine.circuit_cooldown", "5s")

	v.SetDefault("warm.schedule", "")
	v.SetDefault("warm.limit", 50_000)
	v.SetDefault("warm.concurrency", 16)
	v.SetDefault("warm.rate_per_second", 500)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate", false)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.min_idle_conns", 5)
	v.SetDefault("redis.dial_timeout", "2s")
	v.SetDefault("redis.read_timeout", "500ms")
	v.SetDefault("redis.write_timeout", "500ms")
	v.SetDefault("redis.mutation_channel", "memberpass:member-changes")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "member-changes")
	v.SetDefault("kafka.group", "memberpass-invalidator")
	v.SetDefault("kafka.partitions", 6)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.verify_per_minute", 600)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.Secret == "" {
		if !c.IsDev() {
			errs = append(errs, errors.New("engine.secret is required outside dev"))
		}
	}
	if c.Server.AdminJWTKey == "" && !c.IsDev() {
		errs = append(errs, errors.New("server.admin_jwt_key is required outside dev"))
	}
	if c.Engine.CacheTTL < MinCacheTTL || c.Engine.CacheTTL > MaxCacheTTL {
		errs = append(errs, fmt.Errorf("engine.cache_ttl must be between %s and %s, got %s", MinCacheTTL, MaxCacheTTL, c.Engine.CacheTTL))
	}
	if c.Engine.MaxEntries < 1 {
		errs = append(errs, fmt.Errorf("engine.max_entries must be at least 1, got %d", c.Engine.MaxEntries))
	}
	if c.Engine.LookupTimeout <= 0 {
		errs = append(errs, fmt.Errorf("engine.lookup_timeout must be positive, got %s", c.Engine.LookupTimeout))
	}
	if c.Engine.BulkConcurrency < 1 {
		errs = append(errs, fmt.Errorf("engine.bulk_concurrency must be at least 1, got %d", c.Engine.BulkConcurrency))
	}
	if c.Engine.CircuitFailures < 1 || c.Engine.CircuitCooldown <= 0 {
		errs = append(errs, errors.New("engine.circuit_failures and engine.circuit_cooldown must be positive"))
	}
	if c.Warm.Limit < 0 || c.Warm.Concurrency < 1 || c.Warm.RatePerSecond <= 0 {
		errs = append(errs, errors.New("warm.limit must be non-negative and warm.concurrency and warm.rate_per_second positive"))
	}
	if c.RateLimit.Enabled && c.RateLimit.VerifyPerMinute < 1 {
		errs = append(errs, fmt.Errorf("ratelimit.verify_per_minute must be at least 1, got %d", c.RateLimit.VerifyPerMinute))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
