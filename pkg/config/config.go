package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Channels ChannelsConfig `json:"channels"`
	Pipeline PipelineConfig `json:"pipeline,omitempty"`
	Handlers HandlersConfig `json:"handlers,omitempty"`
	Gateway  GatewayConfig  `json:"gateway,omitempty"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// ChannelsConfig selects and configures the messaging backend.
type ChannelsConfig struct {
	// Backend is the messaging backend to run against: "telegram" or "memory".
	Backend  string         `json:"backend"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

// TelegramConfig configures the Telegram backend.
type TelegramConfig struct {
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from,omitempty"`
}

// PipelineConfig tunes message dispatch behavior.
type PipelineConfig struct {
	// StopOnHandlerError aborts a message's remaining handlers on the first
	// failure instead of the default per-handler isolation.
	StopOnHandlerError bool `json:"stop_on_handler_error,omitempty"`
	// EventBuffer sizes lifecycle event subscriber channels.
	EventBuffer int `json:"event_buffer,omitempty"`
}

// HandlersConfig enables the ready-made handlers shipped with botpipe.
type HandlersConfig struct {
	Echo   EchoHandlerConfig   `json:"echo,omitempty"`
	OpenAI OpenAIHandlerConfig `json:"openai,omitempty"`
}

// EchoHandlerConfig configures the echo reply handler.
type EchoHandlerConfig struct {
	Enabled bool `json:"enabled"`
}

// OpenAIHandlerConfig configures the AI reply handler.
type OpenAIHandlerConfig struct {
	Enabled               bool   `json:"enabled"`
	Model                 string `json:"model"`
	BaseURL               string `json:"base_url,omitempty"`
	APIKeyEnv             string `json:"api_key_env,omitempty"`
	SystemPrompt          string `json:"system_prompt,omitempty"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds,omitempty"`
}

// GatewayConfig configures the HTTP status server bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is BOTPIPE_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("BOTPIPE_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("BOTPIPE_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
