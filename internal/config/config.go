// Package config loads the bot configuration from the environment, an
// optional .env file and an optional config.yaml.
package config

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
)

// Telegram update delivery modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Calendar backends.
const (
	BackendGoogle = "google"
	BackendMemory = "memory"
)

// Booking lock backends.
const (
	LockNone   = "none"
	LockMemory = "memory"
	LockRedis  = "redis"
)

// Config holds the whole application configuration.
type Config struct {
	Telegram TelegramConfig
	Server   ServerConfig
	Calendar CalendarConfig
	OAuth    OAuthConfig
	Database DatabaseConfig
	Session  SessionConfig
	Booking  BookingConfig
	Redis    RedisConfig
	Log      LogConfig
}

// TelegramConfig configures the bot transport.
type TelegramConfig struct {
	Token           string
	Mode            string
	WebhookURL      string
	SecretToken     string
	BotUsername     string
	UserRateLimit   int
	GlobalRateLimit int
	AdminChatID     int64
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// CalendarConfig configures the booking calendar.
type CalendarConfig struct {
	Backend  string
	ID       string
	Endpoint string
	Summary  string
	Timeout  time.Duration
}

// OAuthConfig configures the calendar credential.
type OAuthConfig struct {
	CredentialsFile string
	TokenName       string
	CallbackPort    int
	AuthTimeout     time.Duration
}

// DatabaseConfig configures token storage.
type DatabaseConfig struct {
	Path string
}

// SessionConfig configures conversations.
type SessionConfig struct {
	IdleTimeout time.Duration
}

// BookingConfig configures conflict checking and slot locking.
type BookingConfig struct {
	ConflictPolicy string
	Lock           string
	LockTTL        time.Duration
	LockWait       time.Duration
}

// RedisConfig configures the Redis lock backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("TELEGRAM_MODE", ModePolling)
	v.SetDefault("USER_RATE_LIMIT", 30)
	v.SetDefault("GLOBAL_RATE_LIMIT", 30)
	v.SetDefault("ADMIN_CHAT_ID", 0)

	v.SetDefault("PORT", "8080")
	v.SetDefault("SERVER_READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_IDLE_TIMEOUT", 120*time.Second)

	v.SetDefault("CALENDAR_BACKEND", BackendGoogle)
	v.SetDefault("EVENT_SUMMARY", "Workshop Booking")
	v.SetDefault("CALENDAR_TIMEOUT", 15*time.Second)

	v.SetDefault("GOOGLE_CREDENTIALS_FILE", "credentials.json")
	v.SetDefault("OAUTH_TOKEN_NAME", "google_calendar")
	v.SetDefault("OAUTH_CALLBACK_PORT", 0)
	v.SetDefault("OAUTH_AUTH_TIMEOUT", 5*time.Minute)

	v.SetDefault("DB_FILE", "workshopbot.db")
	v.SetDefault("SESSION_IDLE_TIMEOUT", 30*time.Minute)

	v.SetDefault("CONFLICT_CHECK_POLICY", "fail_open")
	v.SetDefault("BOOKING_LOCK", LockMemory)
	v.SetDefault("BOOKING_LOCK_TTL", 30*time.Second)
	v.SetDefault("BOOKING_LOCK_WAIT", 10*time.Second)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Load reads .env (when present), config.yaml (when present) and the
// environment, then validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, errors.ErrConfigurationInvalid.WithError(fmt.Errorf("read config file: %w", err))
		}
	}

	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, errors.ErrConfigurationInvalid.WithError(fmt.Errorf("config validation failed: %w", err))
	}
	return cfg, nil
}

// FromViper builds a Config from resolved values without validating it.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Telegram: TelegramConfig{
			Token:           v.GetString("TELEGRAM_TOKEN"),
			Mode:            strings.ToLower(v.GetString("TELEGRAM_MODE")),
			WebhookURL:      v.GetString("WEBHOOK_URL"),
			SecretToken:     v.GetString("TELEGRAM_SECRET_TOKEN"),
			BotUsername:     strings.TrimPrefix(v.GetString("BOT_USERNAME"), "@"),
			UserRateLimit:   v.GetInt("USER_RATE_LIMIT"),
			GlobalRateLimit: v.GetInt("GLOBAL_RATE_LIMIT"),
			AdminChatID:     v.GetInt64("ADMIN_CHAT_ID"),
		},
		Server: ServerConfig{
			Port:         v.GetString("PORT"),
			ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:  v.GetDuration("SERVER_IDLE_TIMEOUT"),
		},
		Calendar: CalendarConfig{
			Backend:  strings.ToLower(v.GetString("CALENDAR_BACKEND")),
			ID:       v.GetString("CALENDAR_ID"),
			Endpoint: v.GetString("CALENDAR_ENDPOINT"),
			Summary:  v.GetString("EVENT_SUMMARY"),
			Timeout:  v.GetDuration("CALENDAR_TIMEOUT"),
		},
		OAuth: OAuthConfig{
			CredentialsFile: v.GetString("GOOGLE_CREDENTIALS_FILE"),
			TokenName:       v.GetString("OAUTH_TOKEN_NAME"),
			CallbackPort:    v.GetInt("OAUTH_CALLBACK_PORT"),
			AuthTimeout:     v.GetDuration("OAUTH_AUTH_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("DB_FILE"),
		},
		Session: SessionConfig{
			IdleTimeout: v.GetDuration("SESSION_IDLE_TIMEOUT"),
		},
		Booking: BookingConfig{
			ConflictPolicy: strings.ToLower(v.GetString("CONFLICT_CHECK_POLICY")),
			Lock:           strings.ToLower(v.GetString("BOOKING_LOCK")),
			LockTTL:        v.GetDuration("BOOKING_LOCK_TTL"),
			LockWait:       v.GetDuration("BOOKING_LOCK_WAIT"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: strings.ToLower(v.GetString("LOG_FORMAT")),
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	switch c.Telegram.Mode {
	case ModePolling:
	case ModeWebhook:
		if c.Telegram.WebhookURL == "" {
			return fmt.Errorf("WEBHOOK_URL is required in webhook mode")
		}
	default:
		return fmt.Errorf("TELEGRAM_MODE must be %q or %q, got %q", ModePolling, ModeWebhook, c.Telegram.Mode)
	}
	if c.Telegram.UserRateLimit <= 0 {
		return fmt.Errorf("USER_RATE_LIMIT must be positive")
	}
	if c.Telegram.GlobalRateLimit <= 0 {
		return fmt.Errorf("GLOBAL_RATE_LIMIT must be positive")
	}

	switch c.Calendar.Backend {
	case BackendGoogle:
		if c.Calendar.ID == "" {
			return fmt.Errorf("CALENDAR_ID is required")
		}
		if c.OAuth.CredentialsFile == "" {
			return fmt.Errorf("GOOGLE_CREDENTIALS_FILE is required")
		}
		if c.OAuth.TokenName == "" {
			return fmt.Errorf("OAUTH_TOKEN_NAME is required")
		}
		// The consent flow outlives the request that starts it.
		if c.OAuth.AuthTimeout <= 0 {
			return fmt.Errorf("OAUTH_AUTH_TIMEOUT must be positive")
		}
	case BackendMemory:
		if c.Calendar.ID == "" {
			c.Calendar.ID = "primary"
		}
	default:
		return fmt.Errorf("CALENDAR_BACKEND must be %q or %q, got %q", BackendGoogle, BackendMemory, c.Calendar.Backend)
	}
	if c.Calendar.Timeout <= 0 {
		return fmt.Errorf("CALENDAR_TIMEOUT must be positive")
	}
	if c.OAuth.CallbackPort < 0 || c.OAuth.CallbackPort > 65535 {
		return fmt.Errorf("OAUTH_CALLBACK_PORT out of range")
	}

	if c.Session.IdleTimeout < 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be non-negative")
	}

	switch c.Booking.ConflictPolicy {
	case "fail_open", "fail_closed":
	default:
		return fmt.Errorf("CONFLICT_CHECK_POLICY must be fail_open or fail_closed, got %q", c.Booking.ConflictPolicy)
	}

	switch c.Booking.Lock {
	case LockNone, LockMemory:
	case LockRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required when BOOKING_LOCK=redis")
		}
	default:
		return fmt.Errorf("BOOKING_LOCK must be none, memory or redis, got %q", c.Booking.Lock)
	}
	if c.Booking.Lock != LockNone && c.Booking.LockWait <= 0 {
		return fmt.Errorf("BOOKING_LOCK_WAIT must be positive")
	}
	if c.Booking.Lock == LockRedis && c.Booking.LockTTL <= 0 {
		return fmt.Errorf("BOOKING_LOCK_TTL must be positive")
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Log.Format)
	}

	return nil
}

// UsesRedis reports whether the configuration needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Booking.Lock == LockRedis
}
