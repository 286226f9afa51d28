package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// Values are read by viper from a config file or environment variables.
type Config struct {
	DataDir          string `mapstructure:"DATA_DIR"`
	LegacyQuotaBytes int64  `mapstructure:"LEGACY_QUOTA_BYTES"`
	LogLevel         string `mapstructure:"LOG_LEVEL"`

	UndoWindow      time.Duration `mapstructure:"UNDO_WINDOW"`
	ClassifyTimeout time.Duration `mapstructure:"CLASSIFY_TIMEOUT"`

	// AIProvider and AIAPIKey are the user's own credentials. A key saved
	// with CredentialStore.SaveCredentials takes precedence.
	AIProvider string `mapstructure:"AI_PROVIDER"`
	AIAPIKey   string `mapstructure:"AI_API_KEY"`
	RelayURL   string `mapstructure:"RELAY_URL"`

	RelayAddr           string   `mapstructure:"RELAY_ADDR"`
	RelayAllowedOrigins []string `mapstructure:"RELAY_ALLOWED_ORIGINS"`
	RelayProvider       string   `mapstructure:"RELAY_PROVIDER"`
	RelayAPIKey         string   `mapstructure:"RELAY_API_KEY"`

	TelegramBotToken    string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramAllowedUser int64  `mapstructure:"TELEGRAM_ALLOWED_USER"`

	FetchTitles bool `mapstructure:"FETCH_TITLES"`
}

// DefaultAllowedOrigins are the origins the relay answers by default.
var DefaultAllowedOrigins = []string{
	"https://because-five.vercel.app",
	"http://localhost:8765",
	"http://localhost:3000",
	"http://127.0.0.1:8765",
	"http://127.0.0.1:3000",
}

var defaults = map[string]any{
	"DATA_DIR":              "./because_data",
	"LEGACY_QUOTA_BYTES":    int64(5 << 20),
	"LOG_LEVEL":             "info",
	"UNDO_WINDOW":           "5s",
	"CLASSIFY_TIMEOUT":      "15s",
	"AI_PROVIDER":           "",
	"AI_API_KEY":            "",
	"RELAY_URL":             "",
	"RELAY_ADDR":            ":8765",
	"RELAY_ALLOWED_ORIGINS": DefaultAllowedOrigins,
	"RELAY_PROVIDER":        "groq",
	"RELAY_API_KEY":         "",
	"TELEGRAM_BOT_TOKEN":    "",
	"TELEGRAM_ALLOWED_USER": int64(0),
	"FETCH_TITLES":          false,
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// The relay historically read its key from GROQ_API_KEY.
	if err := v.BindEnv("RELAY_API_KEY", "RELAY_API_KEY", "GROQ_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("failed to bind RELAY_API_KEY: %w", err)
	}

	err = v.ReadInConfig()
	if err != nil {
		// A missing file is fine; environment variables still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	err = v.Unmarshal(&config)
	if err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if config.DataDir == "" {
		return Config{}, fmt.Errorf("DATA_DIR is empty")
	}
	if config.UndoWindow <= 0 {
		return Config{}, fmt.Errorf("UNDO_WINDOW must be positive, got %s", config.UndoWindow)
	}
	if config.ClassifyTimeout <= 0 {
		return Config{}, fmt.Errorf("CLASSIFY_TIMEOUT must be positive, got %s", config.ClassifyTimeout)
	}
	return config, nil
}

// DBPath is where the primary backend keeps its files.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "db")
}

// CredentialsPath is the file holding credentials saved from the CLI or bot.
func (c Config) CredentialsPath() string {
	return filepath.Join(c.DataDir, "credentials.yaml")
}
