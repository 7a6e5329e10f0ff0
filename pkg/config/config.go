package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Endpoint shapes understood by the report client.
const (
	ShapeSplit    = "split"
	ShapeCombined = "combined"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Reports  ReportsConfig
	Media    MediaConfig
	Mail     MailConfig
	Geocoder GeocoderConfig
	Seed     SeedConfig
	Client   ClientConfig
}

type DatabaseConfig struct {
	// URL, when set, is used as the DSN as is.
	URL          string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool

	// ConnectAttempts is how many pings are tried before startup fails.
	ConnectAttempts int
}

type RedisConfig struct {
	Enabled bool

	// URL, when set, takes precedence over the discrete fields.
	URL       string
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ReportsConfig tunes report listing and admin exports.
type ReportsConfig struct {
	ListCacheTTL    time.Duration
	DefaultPageSize int
	ExportMaxRows   int
}

// MediaConfig controls attachment storage and validation.
type MediaConfig struct {
	StorageDir       string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// MailConfig selects the notification provider.
type MailConfig struct {
	ResendAPIKey string
	FromAddress  string
	RetryWorkers int
	MaxRetries   int
	RetryDelay   time.Duration
}

// GeocoderConfig selects the reverse geocoding backend used by the client.
type GeocoderConfig struct {
	Provider    string
	UserAgent   string
	MapboxToken string
	Timeout     time.Duration
}

// SeedConfig ensures an administrator exists at start-up when set.
type SeedConfig struct {
	AdminEmail    string
	AdminPassword string
}

// ClientConfig configures the command line client.
type ClientConfig struct {
	APIBaseURL        string
	SessionDir        string
	Timeout           time.Duration
	EndpointShape     string
	RevalidateSession bool
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		URL:          v.GetString("DATABASE_URL"),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),

		ConnectAttempts: v.GetInt("DB_CONNECT_ATTEMPTS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:   v.GetBool("REDIS_ENABLED"),
		URL:       v.GetString("REDIS_URL"),
		Host:      v.GetString("REDIS_HOST"),
		Port:      v.GetInt("REDIS_PORT"),
		Password:  v.GetString("REDIS_PASSWORD"),
		DB:        v.GetInt("REDIS_DB"),
		KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Reports = ReportsConfig{
		ListCacheTTL:    parseDuration(v.GetString("REPORTS_LIST_CACHE_TTL"), time.Minute),
		DefaultPageSize: v.GetInt("REPORTS_DEFAULT_PAGE_SIZE"),
		ExportMaxRows:   v.GetInt("REPORTS_EXPORT_MAX_ROWS"),
	}

	maxMediaSize := v.GetInt64("MEDIA_MAX_FILE_SIZE")
	if maxMediaSize <= 0 {
		maxMediaSize = 10 * 1024 * 1024
	}
	cfg.Media = MediaConfig{
		StorageDir:       v.GetString("MEDIA_STORAGE_DIR"),
		SignedURLSecret:  v.GetString("MEDIA_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("MEDIA_SIGNED_URL_TTL"), 24*time.Hour),
		MaxFileSizeBytes: maxMediaSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("MEDIA_ALLOWED_MIME_TYPES")),
	}

	cfg.Mail = MailConfig{
		ResendAPIKey: v.GetString("RESEND_API_KEY"),
		FromAddress:  v.GetString("MAIL_FROM"),
		RetryWorkers: v.GetInt("MAIL_RETRY_WORKERS"),
		MaxRetries:   v.GetInt("MAIL_MAX_RETRIES"),
		RetryDelay:   parseDuration(v.GetString("MAIL_RETRY_DELAY"), 30*time.Second),
	}

	cfg.Geocoder = GeocoderConfig{
		Provider:    strings.ToLower(v.GetString("GEOCODER_PROVIDER")),
		UserAgent:   v.GetString("GEOCODER_USER_AGENT"),
		MapboxToken: v.GetString("MAPBOX_TOKEN"),
		Timeout:     parseDuration(v.GetString("GEOCODER_TIMEOUT"), 5*time.Second),
	}

	cfg.Seed = SeedConfig{
		AdminEmail:    v.GetString("SEED_ADMIN_EMAIL"),
		AdminPassword: v.GetString("SEED_ADMIN_PASSWORD"),
	}

	shape := strings.ToLower(v.GetString("CLIENT_ENDPOINT_SHAPE"))
	if shape != ShapeCombined {
		shape = ShapeSplit
	}
	cfg.Client = ClientConfig{
		APIBaseURL:        strings.TrimRight(v.GetString("API_BASE_URL"), "/"),
		SessionDir:        v.GetString("CLIENT_SESSION_DIR"),
		Timeout:           parseDuration(v.GetString("CLIENT_TIMEOUT"), 15*time.Second),
		EndpointShape:     shape,
		RevalidateSession: v.GetBool("CLIENT_REVALIDATE_SESSION"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "ireporter")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)
	v.SetDefault("DB_CONNECT_ATTEMPTS", 5)
	v.SetDefault("DATABASE_URL", "")

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_KEY_PREFIX", "ireporter:")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "ireporter")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("REPORTS_LIST_CACHE_TTL", "1m")
	v.SetDefault("REPORTS_DEFAULT_PAGE_SIZE", 50)
	v.SetDefault("REPORTS_EXPORT_MAX_ROWS", 5000)

	v.SetDefault("MEDIA_STORAGE_DIR", "./media")
	v.SetDefault("MEDIA_SIGNED_URL_SECRET", "dev_media_secret")
	v.SetDefault("MEDIA_SIGNED_URL_TTL", "24h")
	v.SetDefault("MEDIA_MAX_FILE_SIZE", 10*1024*1024)
	v.SetDefault("MEDIA_ALLOWED_MIME_TYPES", "image/jpeg,image/png,image/gif,image/webp,video/mp4,video/webm,video/quicktime")

	v.SetDefault("RESEND_API_KEY", "")
	v.SetDefault("MAIL_FROM", "iReporter <onboarding@resend.dev>")
	v.SetDefault("MAIL_RETRY_WORKERS", 1)
	v.SetDefault("MAIL_MAX_RETRIES", 3)
	v.SetDefault("MAIL_RETRY_DELAY", "30s")

	v.SetDefault("GEOCODER_PROVIDER", "nominatim")
	v.SetDefault("GEOCODER_USER_AGENT", "ireporter-cli/1.0")
	v.SetDefault("MAPBOX_TOKEN", "")
	v.SetDefault("GEOCODER_TIMEOUT", "5s")

	v.SetDefault("SEED_ADMIN_EMAIL", "")
	v.SetDefault("SEED_ADMIN_PASSWORD", "")

	v.SetDefault("API_BASE_URL", "http://localhost:8080/api/v1")
	v.SetDefault("CLIENT_SESSION_DIR", defaultSessionDir())
	v.SetDefault("CLIENT_TIMEOUT", "15s")
	v.SetDefault("CLIENT_ENDPOINT_SHAPE", ShapeSplit)
	v.SetDefault("CLIENT_REVALIDATE_SESSION", true)
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

func defaultSessionDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".ireporter"
	}
	return filepath.Join(dir, "ireporter")
}
