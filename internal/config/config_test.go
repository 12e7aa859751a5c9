package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "secret")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.LLM.APIKey)
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.APIURL)
	assert.Equal(t, "gpt-4", cfg.LLM.Model)
	assert.Equal(t, 8000, cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 0.001)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "data/agent-runner.db", cfg.DB.Path)
	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Empty(t, cfg.Scheduler.CronExpr)
}

func TestNewFromEnv_Overrides(t *testing.T) {
	t.Setenv("LLM_API_KEY", "secret")
	t.Setenv("LLM_MODEL", "gpt-4o")
	t.Setenv("LLM_MAX_TOKENS", "1024")
	t.Setenv("LLM_TEMPERATURE", "0.1")
	t.Setenv("HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("DB_PATH", "/tmp/x.db")
	t.Setenv("QUEUE_WORKERS", "8")
	t.Setenv("SCHEDULE_CRON", "0 0 * * * *")
	t.Setenv("SCHEDULE_WORKSPACE_ID", "3")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 1024, cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.1, cfg.LLM.Temperature, 0.001)
	assert.Equal(t, "127.0.0.1:9999", cfg.HTTP.Addr)
	assert.Equal(t, "/tmp/x.db", cfg.DB.Path)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, "0 0 * * * *", cfg.Scheduler.CronExpr)
	assert.Equal(t, int64(3), cfg.Scheduler.WorkspaceID)
}

func TestNewFromEnv_RequiresAPIKey(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM_API_KEY")
}

func TestNewFromEnv_SchedulerNeedsWorkspace(t *testing.T) {
	t.Setenv("LLM_API_KEY", "secret")
	t.Setenv("SCHEDULE_CRON", "@hourly")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCHEDULE_WORKSPACE_ID")
}

func TestNewFromEnv_SchedulerRejectsBadCron(t *testing.T) {
	t.Setenv("LLM_API_KEY", "secret")
	t.Setenv("SCHEDULE_CRON", "not a cron line")
	t.Setenv("SCHEDULE_WORKSPACE_ID", "3")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCHEDULE_CRON")
}

func TestNewFromEnv_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("LLM_API_KEY", "secret")
	t.Setenv("QUEUE_WORKERS", "not-a-number")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Queue.Workers)
}

func TestNewFromEnv_Options(t *testing.T) {
	t.Setenv("LLM_API_KEY", "secret")

	cfg, err := NewFromEnv(func(c *Config) {
		c.HTTP.Addr = ":0"
	})
	require.NoError(t, err)
	assert.Equal(t, ":0", cfg.HTTP.Addr)
}
