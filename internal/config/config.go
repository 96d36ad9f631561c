// Package config loads process configuration from fondgpt.yaml, a .env file and
// FONDGPT_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FONDGPT_SERVER_ADDR.
const EnvPrefix = "FONDGPT"

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Log            LogConfig            `mapstructure:"log"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Answer         AnswerConfig         `mapstructure:"answer"`
	Estimator      EstimatorConfig      `mapstructure:"estimator"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Funds          FundsConfig          `mapstructure:"funds"`
	Client         ClientConfig         `mapstructure:"client"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	MetricsAddr       string        `mapstructure:"metrics_addr"` // empty serves /metrics on Addr
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	BalanceGate       bool          `mapstructure:"balance_gate"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or console
	File       string `mapstructure:"file"`   // empty logs to stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type StorageConfig struct {
	Backend          string          `mapstructure:"backend"` // memory, redis, postgres, sqlite, firestore, supabase
	OperationTimeout time.Duration   `mapstructure:"operation_timeout"`
	Redis            RedisConfig     `mapstructure:"redis"`
	Postgres         PostgresConfig  `mapstructure:"postgres"`
	SQLite           SQLiteConfig    `mapstructure:"sqlite"`
	Firestore        FirestoreConfig `mapstructure:"firestore"`
	Supabase         SupabaseConfig  `mapstructure:"supabase"`
	Cache            CacheConfig     `mapstructure:"cache"`
}

// CacheConfig puts a Redis balance cache (storage.redis) in front of a durable backend.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	Async   bool          `mapstructure:"async"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type FirestoreConfig struct {
	ProjectID  string `mapstructure:"project_id"`
	Collection string `mapstructure:"collection"`
}

type SupabaseConfig struct {
	URL        string `mapstructure:"url"`
	ServiceKey string `mapstructure:"service_key"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	Audience  string        `mapstructure:"audience"`
	Leeway    time.Duration `mapstructure:"leeway"`
}

type AnswerConfig struct {
	Edge1URL    string `mapstructure:"edge1_url"`
	Edge2URL    string `mapstructure:"edge2_url"`
	APIKey      string `mapstructure:"api_key"`
	DefaultEdge string `mapstructure:"default_edge"`
}

type EstimatorConfig struct {
	Encoding string `mapstructure:"encoding"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

type FundsConfig struct {
	DSN       string        `mapstructure:"dsn"` // empty disables the fund routes
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	CacheSize int           `mapstructure:"cache_size"`
}

type ClientConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
	UserID  string `mapstructure:"user_id"`
}

var backends = map[string]bool{
	"memory": true, "redis": true, "postgres": true, "sqlite": true, "firestore": true, "supabase": true,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.balance_gate", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.operation_timeout", 5*time.Second)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key_prefix", "fondgpt:")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.min_conns", 0)
	v.SetDefault("storage.postgres.migrate", true)
	v.SetDefault("storage.sqlite.path", "fondgpt.db")
	v.SetDefault("storage.firestore.project_id", "")
	v.SetDefault("storage.firestore.collection", "user_tokens")
	v.SetDefault("storage.supabase.url", "")
	v.SetDefault("storage.supabase.service_key", "")
	v.SetDefault("storage.cache.enabled", false)
	v.SetDefault("storage.cache.ttl", 30*time.Second)
	v.SetDefault("storage.cache.async", false)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "authenticated")
	v.SetDefault("auth.leeway", 30*time.Second)

	v.SetDefault("answer.edge1_url", "")
	v.SetDefault("answer.edge2_url", "")
	v.SetDefault("answer.api_key", "")
	v.SetDefault("answer.default_edge", "edge2")

	v.SetDefault("estimator.encoding", "r50k_base")

	v.SetDefault("circuit_breaker.enabled", false)
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout", 30*time.Second)

	v.SetDefault("funds.dsn", "")
	v.SetDefault("funds.cache_ttl", 10*time.Minute)
	v.SetDefault("funds.cache_size", 1024)

	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.token", "")
	v.SetDefault("client.user_id", "")
}

// Load reads configuration. path names a config file; when empty, fondgpt.yaml
// is looked up in the working directory and $HOME/.fondgpt, and its absence is
// not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fondgpt")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.fondgpt")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks settings that every command depends on.
func (c *Config) Validate() error {
	if !backends[c.Storage.Backend] {
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Answer.DefaultEdge {
	case "edge1", "edge2":
	default:
		return fmt.Errorf("unknown default edge %q", c.Answer.DefaultEdge)
	}
	if c.Storage.Cache.Enabled {
		switch c.Storage.Backend {
		case "postgres", "sqlite", "firestore", "supabase":
		default:
			return fmt.Errorf("storage.cache requires a durable backend, got %q", c.Storage.Backend)
		}
	}
	if c.CircuitBreaker.Enabled && c.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
