package preflight

import (
	"context"
	"errors"
	"testing"

	"remindai/internal/config"
	"remindai/internal/prompts"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(ctx context.Context) error {
	return f.err
}

func newTestConfig() *config.Config {
	return &config.Config{
		Timezone:   "Asia/Kolkata",
		LLMAPIKey:  "test-key",
		LLMModel:   "mistral-small-latest",
		LLMBaseURL: "https://api.mistral.ai/v1",
	}
}

func newTestPrompts(t *testing.T) *prompts.Store {
	t.Helper()
	store, err := prompts.NewStore("v1", "")
	if err != nil {
		t.Fatalf("Failed to load prompts: %v", err)
	}
	return store
}

func TestRunAll_AllPass(t *testing.T) {
	checker := NewChecker(newTestConfig(), fakePinger{}, fakePinger{}, newTestPrompts(t))
	results := checker.RunAll()

	if len(results) != 5 {
		t.Fatalf("Expected 5 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != "pass" {
			t.Errorf("Expected %s to pass, got %s (%s)", r.Name, r.Status, r.Message)
		}
	}
	if HasFailures(results) {
		t.Error("Expected no failures")
	}
}

func TestCheckTimezone_Unknown(t *testing.T) {
	cfg := newTestConfig()
	cfg.Timezone = "Mars/Olympus_Mons"
	result := NewChecker(cfg, nil, nil, newTestPrompts(t)).checkTimezone()

	if result.Status != "fail" {
		t.Errorf("Expected status 'fail', got '%s'", result.Status)
	}
}

func TestCheckStore(t *testing.T) {
	cfg := newTestConfig()

	memory := NewChecker(cfg, nil, nil, nil).checkStore()
	if memory.Status != "warning" {
		t.Errorf("Expected in-memory store to warn, got '%s'", memory.Status)
	}

	down := NewChecker(cfg, fakePinger{err: errors.New("connection refused")}, nil, nil).checkStore()
	if down.Status != "fail" {
		t.Errorf("Expected unreachable store to fail, got '%s'", down.Status)
	}
	if down.Error == nil {
		t.Error("Expected error to be recorded")
	}
}

func TestCheckRedis_UnreachableIsWarning(t *testing.T) {
	result := NewChecker(newTestConfig(), nil, fakePinger{err: errors.New("timeout")}, nil).checkRedis()
	if result.Status != "warning" {
		t.Errorf("Expected status 'warning', got '%s'", result.Status)
	}
}

func TestCheckOracleKey_Missing(t *testing.T) {
	cfg := newTestConfig()
	cfg.LLMAPIKey = ""
	result := NewChecker(cfg, nil, nil, nil).checkOracleKey()
	if result.Status != "warning" {
		t.Errorf("Expected status 'warning', got '%s'", result.Status)
	}
}

func TestCheckPromptTemplate_Missing(t *testing.T) {
	result := NewChecker(newTestConfig(), nil, nil, nil).checkPromptTemplate()
	if result.Status != "fail" {
		t.Errorf("Expected status 'fail', got '%s'", result.Status)
	}
}

func TestHasFailures(t *testing.T) {
	if HasFailures([]CheckResult{{Status: "pass"}, {Status: "warning"}}) {
		t.Error("Warnings should not count as failures")
	}
	if !HasFailures([]CheckResult{{Status: "pass"}, {Status: "fail"}}) {
		t.Error("Expected failure to be detected")
	}
}
