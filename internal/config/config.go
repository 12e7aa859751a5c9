package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ashishlead/agent-runner/pkg/icron"
)

// Config holds all application configuration.
// Values come from environment variables with sensible defaults.
//
// Environment Variables:
// LLM Configuration:
// - LLM_API_KEY: API key for the LLM provider (required)
// - LLM_API_URL: API endpoint URL (default: https://api.openai.com/v1)
// - LLM_MODEL: Model used when a step declares none (default: gpt-4)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 8000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.7)
// - LLM_TIMEOUT: Request timeout in seconds (default: 60)
// - LLM_SITE_URL: Site URL for HTTP referer header (optional)
// - LLM_APP_NAME: Application name for X-Title header (optional)
//
// HTTP Configuration:
// - HTTP_ADDR: Listen address for the API server (default: :8080)
//
// Database Configuration:
// - DB_PATH: SQLite database file (default: data/agent-runner.db)
//
// Queue Configuration:
// - QUEUE_WORKERS: Concurrent background run workers (default: 2)
//
// Scheduler Configuration:
// - SCHEDULE_CRON: Cron expression for scheduled runs (optional)
// - SCHEDULE_WORKSPACE_ID: Workspace to run on schedule (required when SCHEDULE_CRON is set)

type Config struct {
	LLM       LLMConfig       `json:"llm"`
	HTTP      HTTPConfig      `json:"http"`
	DB        DBConfig        `json:"db"`
	Queue     QueueConfig     `json:"queue"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

// LLMConfig holds the configuration for the completion client.
// Supports any OpenAI-compatible provider.
type LLMConfig struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type DBConfig struct {
	Path string `json:"path"`
}

type QueueConfig struct {
	Workers int `json:"workers"`
}

// SchedulerConfig enables periodic runs of one stored workspace.
// An empty CronExpr disables the scheduler.
type SchedulerConfig struct {
	CronExpr    string `json:"cron_expr"`
	WorkspaceID int64  `json:"workspace_id"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://api.openai.com/v1"),
			Model:       getEnvString("LLM_MODEL", "gpt-4"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 8000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
			Timeout:     getEnvInt("LLM_TIMEOUT", 60),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", ""),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
		DB: DBConfig{
			Path: getEnvString("DB_PATH", "data/agent-runner.db"),
		},
		Queue: QueueConfig{
			Workers: getEnvInt("QUEUE_WORKERS", 2),
		},
		Scheduler: SchedulerConfig{
			CronExpr:    getEnvString("SCHEDULE_CRON", ""),
			WorkspaceID: int64(getEnvInt("SCHEDULE_WORKSPACE_ID", 0)),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("QUEUE_WORKERS must be positive")
	}
	if c.Scheduler.CronExpr != "" {
		if c.Scheduler.WorkspaceID <= 0 {
			return fmt.Errorf("SCHEDULE_WORKSPACE_ID is required when SCHEDULE_CRON is set")
		}
		if err := icron.Validate(c.Scheduler.CronExpr); err != nil {
			return fmt.Errorf("SCHEDULE_CRON: %w", err)
		}
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
