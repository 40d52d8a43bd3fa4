// Package config loads the bot configuration from a YAML file, BOT_* environment
// variables and built-in defaults, then validates it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"log"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	AI           AIConfig           `mapstructure:"ai"`
	AppClient    AppClientConfig    `mapstructure:"app_client"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Messages     MessagesConfig     `mapstructure:"messages"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
}

type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`
	// AdminIDs are granted admin rights on every startup.
	AdminIDs []int64       `mapstructure:"admin_ids" validate:"dive,gt=0"`
	Webhook  WebhookConfig `mapstructure:"webhook"`
}

// WebhookConfig switches update delivery from long polling to a webhook when Enabled.
type WebhookConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	URL         string `mapstructure:"url"          validate:"required_if=Enabled true"`
	ListenAddr  string `mapstructure:"listen_addr"  validate:"required_if=Enabled true"`
	SecretToken string `mapstructure:"secret_token"`
}

type AIConfig struct {
	Provider    string        `mapstructure:"provider"    validate:"oneof=openai gemini"`
	Token       string        `mapstructure:"token"       validate:"required"`
	BaseURL     string        `mapstructure:"base_url"    validate:"omitempty,url"`
	Model       string        `mapstructure:"model"       validate:"required"`
	Temperature float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	Timeout     time.Duration `mapstructure:"timeout"     validate:"min=1s,max=10m"`
	Persona     string        `mapstructure:"persona"     validate:"required"`
	Retry       RetryConfig   `mapstructure:"retry"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
}

// RetryConfig bounds how often a failed completion is retried. The delay
// doubles after each attempt starting from Backoff.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"min=1,max=10"`
	Backoff     time.Duration `mapstructure:"backoff"      validate:"min=0"`
}

// BreakerConfig opens the circuit after MaxFailures consecutive failed
// completions and probes the backend again after Cooldown.
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures" validate:"min=1"`
	Cooldown    time.Duration `mapstructure:"cooldown"     validate:"min=1s"`
}

// AppClientConfig configures the MTProto client used for admin operations.
type AppClientConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AppID     int    `mapstructure:"app_id"     validate:"required_if=Enabled true"`
	AppHash   string `mapstructure:"app_hash"   validate:"required_if=Enabled true"`
	SessionID string `mapstructure:"session_id" validate:"required"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type ConversationConfig struct {
	WindowSize int `mapstructure:"window_size" validate:"min=1,max=200"`
}

// MessagesConfig holds user-visible reply texts.
type MessagesConfig struct {
	NotAuthorized        string `mapstructure:"not_authorized"         validate:"required"`
	ProvideID            string `mapstructure:"provide_id"             validate:"required"`
	ProvideUsername      string `mapstructure:"provide_username"       validate:"required"`
	ProvideMessage       string `mapstructure:"provide_message"        validate:"required"`
	GenerationError      string `mapstructure:"generation_error"       validate:"required"`
	AppClientUnavailable string `mapstructure:"app_client_unavailable" validate:"required"`
	GeneralError         string `mapstructure:"general_error"          validate:"required"`
}

type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

var defaults = map[string]any{
	"log.level": "info",
	"log.json":  false,

	"telegram.token":                "",
	"telegram.admin_ids":            []int64{},
	"telegram.webhook.enabled":      false,
	"telegram.webhook.url":          "",
	"telegram.webhook.listen_addr":  ":8443",
	"telegram.webhook.secret_token": "",

	"ai.provider":    "openai",
	"ai.token":       "",
	"ai.base_url":    "https://api.openai.com/v1",
	"ai.model":       "gpt-4o-mini",
	"ai.temperature": 1.0,
	"ai.timeout":     2 * time.Minute,
	"ai.persona":     "You are a friendly storyteller who chats with the people in this Telegram chat.",

	"ai.retry.max_attempts":   3,
	"ai.retry.backoff":        500 * time.Millisecond,
	"ai.breaker.max_failures": 5,
	"ai.breaker.cooldown":     time.Minute,

	"app_client.enabled":    false,
	"app_client.app_id":     0,
	"app_client.app_hash":   "",
	"app_client.session_id": "defaultSession",

	"database.path": "storage.db",

	"conversation.window_size": 10,

	"messages.not_authorized":         "You are not authorized to use this command.",
	"messages.provide_id":             "Please provide an ID.",
	"messages.provide_username":       "Please provide a username.",
	"messages.provide_message":        "Please provide a message.",
	"messages.generation_error":       "Sorry, I could not come up with a reply right now.",
	"messages.app_client_unavailable": "The secondary client is unavailable.",
	"messages.general_error":          "An error occurred. Please try again later.",

	"scheduler.tasks": map[string]any{
		"sql_maintenance": map[string]any{"enabled": true, "schedule": "0 0 3 * * *"},
	},
}

// LoadConfig reads the configuration at path. A missing file is not an error:
// defaults and BOT_* environment variables (BOT_AI_TOKEN, BOT_TELEGRAM_TOKEN, ...)
// are used instead.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
