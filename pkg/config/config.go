package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every knob the process reads at startup. It is loaded once in
// main and treated as immutable afterwards.
type Config struct {
	Telegram TelegramConfig
	Backend  BackendConfig
	Chat     ChatConfig
	Memory   MemoryConfig
	Paths    PathsConfig
	Logging  LoggingConfig
}

type TelegramConfig struct {
	Token     string   `env:"FABLEBOT_TELEGRAM_TOKEN"`
	AllowFrom []string `env:"FABLEBOT_TELEGRAM_ALLOW_FROM" envSeparator:","`
}

type BackendConfig struct {
	// BaseURL points at an OpenAI-compatible chat-completions server,
	// typically LM Studio on localhost.
	BaseURL        string `env:"FABLEBOT_BACKEND_BASE_URL" envDefault:"http://localhost:1234/v1"`
	APIKey         string `env:"FABLEBOT_BACKEND_API_KEY" envDefault:"lm-studio"`
	Model          string `env:"FABLEBOT_BACKEND_MODEL" envDefault:"local-model"`
	MaxTokens      int    `env:"FABLEBOT_BACKEND_MAX_TOKENS" envDefault:"1024"`
	TimeoutSeconds int    `env:"FABLEBOT_BACKEND_TIMEOUT_SECONDS" envDefault:"300"`
	ProbeTimeoutMS int    `env:"FABLEBOT_BACKEND_PROBE_TIMEOUT_MS" envDefault:"2000"`
}

type ChatConfig struct {
	// HistoryWindow is the number of most recent messages sent to the
	// backend on each chat turn.
	HistoryWindow int `env:"FABLEBOT_CHAT_HISTORY_WINDOW" envDefault:"10"`
	// MaxMessageLength is Telegram's hard limit for a single message.
	MaxMessageLength int `env:"FABLEBOT_CHAT_MAX_MESSAGE_LENGTH" envDefault:"4096"`
}

type MemoryConfig struct {
	// DefaultEnabled is the master switch for long-term memory; users can
	// still toggle it per account.
	DefaultEnabled bool `env:"FABLEBOT_MEMORY_DEFAULT_ENABLED" envDefault:"true"`
	// ConsolidationInterval is the total-message cadence at which a
	// consolidation job is enqueued.
	ConsolidationInterval int `env:"FABLEBOT_MEMORY_CONSOLIDATION_INTERVAL" envDefault:"15"`
}

type PathsConfig struct {
	DataDir string `env:"FABLEBOT_DATA_DIR" envDefault:"data"`
}

type LoggingConfig struct {
	Level           string `env:"FABLEBOT_LOG_LEVEL" envDefault:"info"`
	FileEnabled     bool   `env:"FABLEBOT_LOG_FILE_ENABLED" envDefault:"true"`
	RotationEnabled bool   `env:"FABLEBOT_LOG_ROTATION_ENABLED" envDefault:"true"`
	MaxSizeMB       int    `env:"FABLEBOT_LOG_MAX_SIZE_MB" envDefault:"5"`
	MaxAgeDays      int    `env:"FABLEBOT_LOG_MAX_AGE_DAYS" envDefault:"14"`
}

// Load reads an optional .env file and then the process environment.
// A missing .env file is not an error.
func Load(dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenvPath, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate reports the configuration errors that must stop the process.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("FABLEBOT_TELEGRAM_TOKEN is required")
	}
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New("FABLEBOT_BACKEND_BASE_URL is required")
	}
	if c.Memory.ConsolidationInterval <= 0 {
		return errors.New("FABLEBOT_MEMORY_CONSOLIDATION_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "conversations.db")
}

func (c *Config) StatePath() string {
	return filepath.Join(c.Paths.DataDir, "chat_state.json")
}

func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.DataDir, "logs", "fablebot.log")
}

func (c *Config) UserLogDir() string {
	return filepath.Join(c.Paths.DataDir, "logs", "users")
}
