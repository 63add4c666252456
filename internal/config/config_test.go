package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, 14*24*time.Hour, cfg.EpisodeWindow)
	assert.Equal(t, 7*24*time.Hour, cfg.FindingWindow)
	assert.Equal(t, 30*time.Second, cfg.DiffWindow)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LLM_PROVIDER", "deepseek")
	t.Setenv("LLM_MAX_STEPS", "12")
	t.Setenv("DIFF_WINDOW", "45s")
	t.Setenv("CARE_TEAM_CHAT_ID", "-100123456")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "deepseek", cfg.LLMProvider)
	assert.Equal(t, 12, cfg.LLMMaxSteps)
	assert.Equal(t, 45*time.Second, cfg.DiffWindow)
	assert.Equal(t, int64(-100123456), cfg.CareTeamChatID)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("LLM_MAX_TOKENS", "not-a-number")
	t.Setenv("DIFF_WINDOW", "soon")

	cfg := Load()

	assert.Equal(t, Default().LLMMaxTokens, cfg.LLMMaxTokens)
	assert.Equal(t, Default().DiffWindow, cfg.DiffWindow)
}
