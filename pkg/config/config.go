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

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Telegram   TelegramConfig
	Zoom       ZoomConfig
	SMTP       SMTPConfig
	Automation AutomationConfig
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
	AutoMigrate  bool
}

// RedisConfig is optional; when disabled firing markers live in Postgres.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// TelegramConfig configures the messaging bot client.
type TelegramConfig struct {
	Enabled bool
	Token   string
	Debug   bool
}

// ZoomConfig holds server-to-server OAuth credentials for the conferencing client.
type ZoomConfig struct {
	AccountID    string
	ClientID     string
	ClientSecret string
	HostEmail    string
	APIBaseURL   string
	AuthURL      string
	Timeout      time.Duration
}

// SMTPConfig backs the send-email automation action.
type SMTPConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// AutomationConfig tunes the scheduling engine.
type AutomationConfig struct {
	Enabled         bool
	Timezone        string
	DigestCron      string
	WatcherInterval time.Duration
	ImportCron      string
	ImportPath      string
	QueueBuffer     int
	PlaceholderLink string
	MarkerTTL       time.Duration
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
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
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Telegram = TelegramConfig{
		Enabled: v.GetBool("TELEGRAM_ENABLED"),
		Token:   v.GetString("TELEGRAM_BOT_TOKEN"),
		Debug:   v.GetBool("TELEGRAM_DEBUG"),
	}

	cfg.Zoom = ZoomConfig{
		AccountID:    v.GetString("ZOOM_ACCOUNT_ID"),
		ClientID:     v.GetString("ZOOM_CLIENT_ID"),
		ClientSecret: v.GetString("ZOOM_CLIENT_SECRET"),
		HostEmail:    v.GetString("ZOOM_HOST_EMAIL"),
		APIBaseURL:   v.GetString("ZOOM_API_BASE_URL"),
		AuthURL:      v.GetString("ZOOM_AUTH_URL"),
		Timeout:      parseDuration(v.GetString("ZOOM_TIMEOUT"), 15*time.Second),
	}

	cfg.SMTP = SMTPConfig{
		Enabled:  v.GetBool("SMTP_ENABLED"),
		Host:     v.GetString("SMTP_HOST"),
		Port:     v.GetInt("SMTP_PORT"),
		Username: v.GetString("SMTP_USERNAME"),
		Password: v.GetString("SMTP_PASSWORD"),
		From:     v.GetString("SMTP_FROM"),
	}

	queueBuffer := v.GetInt("AUTOMATION_QUEUE_BUFFER")
	if queueBuffer <= 0 {
		queueBuffer = 64
	}
	cfg.Automation = AutomationConfig{
		Enabled:         v.GetBool("AUTOMATION_ENABLED"),
		Timezone:        v.GetString("AUTOMATION_TIMEZONE"),
		DigestCron:      v.GetString("AUTOMATION_DIGEST_CRON"),
		WatcherInterval: parseDuration(v.GetString("AUTOMATION_WATCHER_INTERVAL"), 5*time.Minute),
		ImportCron:      v.GetString("AUTOMATION_IMPORT_CRON"),
		ImportPath:      v.GetString("AUTOMATION_IMPORT_PATH"),
		QueueBuffer:     queueBuffer,
		PlaceholderLink: v.GetString("AUTOMATION_PLACEHOLDER_LINK"),
		MarkerTTL:       parseDuration(v.GetString("AUTOMATION_MARKER_TTL"), 72*time.Hour),
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
	v.SetDefault("DB_NAME", "course_automation")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("TELEGRAM_ENABLED", false)
	v.SetDefault("TELEGRAM_BOT_TOKEN", "")
	v.SetDefault("TELEGRAM_DEBUG", false)

	v.SetDefault("ZOOM_ACCOUNT_ID", "")
	v.SetDefault("ZOOM_CLIENT_ID", "")
	v.SetDefault("ZOOM_CLIENT_SECRET", "")
	v.SetDefault("ZOOM_HOST_EMAIL", "me")
	v.SetDefault("ZOOM_API_BASE_URL", "https://api.zoom.us/v2")
	v.SetDefault("ZOOM_AUTH_URL", "https://zoom.us/oauth/token")
	v.SetDefault("ZOOM_TIMEOUT", "15s")

	v.SetDefault("SMTP_ENABLED", false)
	v.SetDefault("SMTP_HOST", "smtp.gmail.com")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "")

	v.SetDefault("AUTOMATION_ENABLED", true)
	v.SetDefault("AUTOMATION_TIMEZONE", "Europe/Paris")
	v.SetDefault("AUTOMATION_DIGEST_CRON", "0 8 * * *")
	v.SetDefault("AUTOMATION_WATCHER_INTERVAL", "5m")
	v.SetDefault("AUTOMATION_IMPORT_CRON", "")
	v.SetDefault("AUTOMATION_IMPORT_PATH", "./imports/sessions.csv")
	v.SetDefault("AUTOMATION_QUEUE_BUFFER", 64)
	v.SetDefault("AUTOMATION_PLACEHOLDER_LINK", "Lien à venir")
	v.SetDefault("AUTOMATION_MARKER_TTL", "72h")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
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
