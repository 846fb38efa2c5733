package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Market   MarketConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	// MemoryStore runs the economy without Postgres; state is lost on exit.
	MemoryStore bool
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectAttempts uint64
	MigrateOnStart  bool
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL is the form golang-migrate expects.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type JWTConfig struct {
	SecretKey string
	Issuer    string
}

type MarketConfig struct {
	// Provider is "http" or "static".
	Provider         string
	BaseURL          string
	Timeout          time.Duration
	RatePerSecond    float64
	Burst            int
	MaxRetries       uint64
	CacheTTL         time.Duration
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
	StaticPrices     map[string]string
	// RefreshSchedule is a cron spec; empty disables scheduled refreshes.
	RefreshSchedule string
}

type LogConfig struct {
	Level  string
	Format string
}

var envBindings = map[string]string{
	"server.port":             "PORT",
	"server.memory_store":     "SERVER_MEMORY_STORE",
	"database.host":           "DATABASE_HOST",
	"database.port":           "DATABASE_PORT",
	"database.user":           "DATABASE_USER",
	"database.password":       "DATABASE_PASSWORD",
	"database.name":           "DATABASE_NAME",
	"database.ssl_mode":       "DATABASE_SSL_MODE",
	"database.migrate":        "DATABASE_MIGRATE",
	"redis.enabled":           "REDIS_ENABLED",
	"redis.host":              "REDIS_HOST",
	"redis.port":              "REDIS_PORT",
	"redis.password":          "REDIS_PASSWORD",
	"redis.db":                "REDIS_DB",
	"jwt.secret_key":          "JWT_SECRET_KEY",
	"jwt.issuer":              "JWT_ISSUER",
	"market.provider":         "MARKET_PROVIDER",
	"market.base_url":         "MARKET_BASE_URL",
	"market.refresh_schedule": "MARKET_REFRESH_SCHEDULE",
	"log.level":               "LOG_LEVEL",
	"log.format":              "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"https://*", "http://*"})
	v.SetDefault("server.memory_store", false)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "classbank")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.connect_attempts", 5)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret_key", "")
	v.SetDefault("jwt.issuer", "")

	v.SetDefault("market.provider", "http")
	v.SetDefault("market.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("market.timeout", 5*time.Second)
	v.SetDefault("market.rate_per_second", 2.0)
	v.SetDefault("market.burst", 4)
	v.SetDefault("market.max_retries", 2)
	v.SetDefault("market.cache_ttl", time.Minute)
	v.SetDefault("market.breaker_threshold", 5)
	v.SetDefault("market.breaker_cooldown", 30*time.Second)
	v.SetDefault("market.static_prices", map[string]string{})
	v.SetDefault("market.refresh_schedule", "@every 15m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from file (a .env file when empty) with
// environment variables taking precedence. A missing file is not an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if file == "" {
		file = ".env"
	}
	v.SetConfigFile(file)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	// A .env file holds flat keys like DATABASE_HOST; lift them onto the
	// dotted keys. Real environment variables still win.
	for key, env := range envBindings {
		flat := strings.ToLower(env)
		if _, set := os.LookupEnv(env); !set && v.InConfig(flat) {
			v.SetDefault(key, v.Get(flat))
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			AllowedOrigins:  v.GetStringSlice("server.allowed_origins"),
			MemoryStore:     v.GetBool("server.memory_store"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			ConnectAttempts: v.GetUint64("database.connect_attempts"),
			MigrateOnStart:  v.GetBool("database.migrate"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			SecretKey: v.GetString("jwt.secret_key"),
			Issuer:    v.GetString("jwt.issuer"),
		},
		Market: MarketConfig{
			Provider:         strings.ToLower(v.GetString("market.provider")),
			BaseURL:          v.GetString("market.base_url"),
			Timeout:          v.GetDuration("market.timeout"),
			RatePerSecond:    v.GetFloat64("market.rate_per_second"),
			Burst:            v.GetInt("market.burst"),
			MaxRetries:       v.GetUint64("market.max_retries"),
			CacheTTL:         v.GetDuration("market.cache_ttl"),
			BreakerThreshold: v.GetUint32("market.breaker_threshold"),
			BreakerCooldown:  v.GetDuration("market.breaker_cooldown"),
			StaticPrices:     v.GetStringMapString("market.static_prices"),
			RefreshSchedule:  v.GetString("market.refresh_schedule"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch c.Market.Provider {
	case "http", "static":
	default:
		return fmt.Errorf("market.provider must be http or static, got %q", c.Market.Provider)
	}
	if c.JWT.SecretKey == "" {
		return errors.New("jwt.secret_key is required")
	}
	return nil
}
