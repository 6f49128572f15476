package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Dispatch      DispatchConfig
	Notifications NotificationsConfig
	Feed          FeedConfig
	Proofs        ProofsConfig
	Reports       ReportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// DispatchConfig tunes the help-request notification fan-out.
type DispatchConfig struct {
	FanoutConcurrency int
	ChannelPrefix     string
}

// NotificationsConfig configures the best-effort notification worker queue.
type NotificationsConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// FeedConfig governs crisis feed caching.
type FeedConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// ProofsConfig controls rating photo proof storage.
type ProofsConfig struct {
	StorageDir       string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// ReportsConfig gates the dispatch report export endpoints.
type ReportsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Dispatch = DispatchConfig{
		FanoutConcurrency: v.GetInt("DISPATCH_FANOUT_CONCURRENCY"),
		ChannelPrefix:     v.GetString("NOTIFY_CHANNEL_PREFIX"),
	}

	cfg.Notifications = NotificationsConfig{
		Workers:    v.GetInt("NOTIFY_QUEUE_WORKERS"),
		BufferSize: v.GetInt("NOTIFY_QUEUE_BUFFER"),
		MaxRetries: v.GetInt("NOTIFY_QUEUE_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFY_QUEUE_RETRY_DELAY"), time.Second),
	}

	cfg.Feed = FeedConfig{
		CacheEnabled: v.GetBool("ENABLE_FEED_CACHE"),
		CacheTTL:     parseDuration(v.GetString("FEED_CACHE_TTL"), time.Minute),
	}

	maxProofSize := v.GetInt64("PROOFS_MAX_FILE_SIZE")
	if maxProofSize <= 0 {
		maxProofSize = 5 * 1024 * 1024
	}
	cfg.Proofs = ProofsConfig{
		StorageDir:       v.GetString("PROOFS_STORAGE_DIR"),
		SignedURLSecret:  v.GetString("PROOFS_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("PROOFS_SIGNED_URL_TTL"), 24*time.Hour),
		MaxFileSizeBytes: maxProofSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("PROOFS_ALLOWED_MIME_TYPES")),
	}

	cfg.Reports = ReportsConfig{
		Enabled: v.GetBool("ENABLE_REPORTS"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "crisis_dispatch")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("DISPATCH_FANOUT_CONCURRENCY", 8)
	v.SetDefault("NOTIFY_CHANNEL_PREFIX", "notify:user:")

	v.SetDefault("NOTIFY_QUEUE_WORKERS", 2)
	v.SetDefault("NOTIFY_QUEUE_BUFFER", 64)
	v.SetDefault("NOTIFY_QUEUE_RETRIES", 3)
	v.SetDefault("NOTIFY_QUEUE_RETRY_DELAY", "1s")

	v.SetDefault("ENABLE_FEED_CACHE", false)
	v.SetDefault("FEED_CACHE_TTL", "1m")

	v.SetDefault("PROOFS_STORAGE_DIR", "./proofs")
	v.SetDefault("PROOFS_SIGNED_URL_SECRET", "dev_proofs_secret")
	v.SetDefault("PROOFS_SIGNED_URL_TTL", "24h")
	v.SetDefault("PROOFS_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("PROOFS_ALLOWED_MIME_TYPES", "image/jpeg,image/png,image/webp")

	v.SetDefault("ENABLE_REPORTS", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
