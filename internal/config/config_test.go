package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "TIMEZONE", "LLM_API_KEY", "MISTRAL_API_KEY", "EXTRACTION_TIMEOUT", "OVERDUE_POLICY", "LIST_LIMIT_DEFAULT", "LIST_LIMIT_MAX"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "Asia/Kolkata", cfg.Timezone)
	assert.Equal(t, 30*time.Second, cfg.ExtractionTimeout)
	assert.Equal(t, OverduePolicyFire, cfg.OverduePolicy)
	assert.Equal(t, 100, cfg.ListLimitDefault)
	assert.Equal(t, 500, cfg.ListLimitMax)
	assert.True(t, cfg.PromptWatch)
	assert.Contains(t, cfg.AllowedOrigins, "http://localhost:5173")
}

func TestLoad_MistralKeyFallback(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("MISTRAL_API_KEY", "mistral-secret")

	assert.Equal(t, "mistral-secret", Load().LLMAPIKey)

	t.Setenv("LLM_API_KEY", "primary")
	assert.Equal(t, "primary", Load().LLMAPIKey)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("EXTRACTION_TIMEOUT", "45")
	t.Setenv("OVERDUE_POLICY", "SKIP")
	t.Setenv("LIST_LIMIT_MAX", "50")
	t.Setenv("LIST_LIMIT_DEFAULT", "80")
	t.Setenv("PROMPT_WATCH", "false")

	cfg := Load()

	assert.Equal(t, 45*time.Second, cfg.ExtractionTimeout)
	assert.Equal(t, OverduePolicySkip, cfg.OverduePolicy)
	assert.Equal(t, 50, cfg.ListLimitMax)
	assert.Equal(t, 50, cfg.ListLimitDefault, "default is clamped to max")
	assert.False(t, cfg.PromptWatch)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("EXTRACTION_TIMEOUT", "soon")
	t.Setenv("OVERDUE_POLICY", "explode")

	cfg := Load()

	assert.Equal(t, 30*time.Second, cfg.ExtractionTimeout)
	assert.Equal(t, OverduePolicyFire, cfg.OverduePolicy)
}
