package preflight

import (
	"context"
	"fmt"
	"log"
	"time"

	"remindai/internal/config"
	"remindai/internal/prompts"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Pinger is anything that can report reachability, such as the MongoDB or Redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PromptRenderer renders the active extraction prompt.
type PromptRenderer interface {
	Render(data prompts.Data) (*prompts.Rendered, error)
}

// Checker performs pre-flight checks before server starts
type Checker struct {
	cfg     *config.Config
	store   Pinger // nil when running on the in-memory store
	redis   Pinger // nil when REDIS_URL is unset
	prompts PromptRenderer
	timeout time.Duration
}

// NewChecker creates a new preflight checker
func NewChecker(cfg *config.Config, store, redis Pinger, renderer PromptRenderer) *Checker {
	return &Checker{
		cfg:     cfg,
		store:   store,
		redis:   redis,
		prompts: renderer,
		timeout: 5 * time.Second,
	}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll() []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkTimezone(),
		c.checkStore(),
		c.checkRedis(),
		c.checkOracleKey(),
		c.checkPromptTemplate(),
	}

	passed := 0
	failed := 0
	warnings := 0

	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)

	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

func (c *Checker) checkTimezone() CheckResult {
	loc, err := time.LoadLocation(c.cfg.Timezone)
	if err != nil {
		return CheckResult{
			Name:    "Timezone",
			Status:  "fail",
			Message: fmt.Sprintf("Unknown timezone %q", c.cfg.Timezone),
			Error:   err,
		}
	}

	_, offset := time.Now().In(loc).Zone()
	return CheckResult{
		Name:    "Timezone",
		Status:  "pass",
		Message: fmt.Sprintf("%s (UTC%+.1fh)", loc, float64(offset)/3600),
	}
}

func (c *Checker) checkStore() CheckResult {
	if c.store == nil {
		return CheckResult{
			Name:    "Reminder Store",
			Status:  "warning",
			Message: "Using in-memory store; reminders will not survive a restart",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.store.Ping(ctx); err != nil {
		return CheckResult{
			Name:    "Reminder Store",
			Status:  "fail",
			Message: "Cannot reach MongoDB",
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Reminder Store",
		Status:  "pass",
		Message: "MongoDB connection successful",
	}
}

func (c *Checker) checkRedis() CheckResult {
	if c.redis == nil {
		return CheckResult{
			Name:    "Fire Guard",
			Status:  "pass",
			Message: "Redis not configured; single-instance delivery",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		// Deliveries fail open without the guard, so this is not fatal.
		return CheckResult{
			Name:    "Fire Guard",
			Status:  "warning",
			Message: "Redis unreachable; duplicate delivery across instances is possible",
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Fire Guard",
		Status:  "pass",
		Message: "Redis connection successful",
	}
}

func (c *Checker) checkOracleKey() CheckResult {
	if c.cfg.LLMAPIKey == "" {
		return CheckResult{
			Name:    "Completion Oracle",
			Status:  "warning",
			Message: "LLM_API_KEY/MISTRAL_API_KEY not set; extraction requests will fail",
		}
	}

	return CheckResult{
		Name:    "Completion Oracle",
		Status:  "pass",
		Message: fmt.Sprintf("%s via %s", c.cfg.LLMModel, c.cfg.LLMBaseURL),
	}
}

func (c *Checker) checkPromptTemplate() CheckResult {
	if c.prompts == nil {
		return CheckResult{
			Name:    "Prompt Template",
			Status:  "fail",
			Message: "No prompt templates loaded",
		}
	}

	rendered, err := c.prompts.Render(prompts.Data{
		Now:      time.Now().Format(time.RFC3339),
		Timezone: c.cfg.Timezone,
		Message:  "remind me to collect reports tomorrow",
	})
	if err != nil {
		return CheckResult{
			Name:    "Prompt Template",
			Status:  "fail",
			Message: "Prompt template does not render",
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Prompt Template",
		Status:  "pass",
		Message: fmt.Sprintf("Version %s renders", rendered.Version),
	}
}
