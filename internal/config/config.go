package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Overdue policies applied to reminders found past due during startup rehydration
const (
	OverduePolicyFire = "fire"
	OverduePolicySkip = "skip"
)

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string

	MongoURI      string
	MongoDatabase string
	RedisURL      string // optional; enables the distributed fire-once guard

	// Timezone is the civil zone used for time resolution and display
	Timezone string

	// Completion oracle (OpenAI-compatible; Mistral by default)
	LLMBaseURL        string
	LLMAPIKey         string
	LLMModel          string
	ExtractionTimeout time.Duration
	ExtractionRate    int // requests per minute, process-wide

	PromptVersion string
	PromptFile    string // optional on-disk override
	PromptWatch   bool   // reload PromptFile on change

	ListLimitDefault int
	ListLimitMax     int

	OverduePolicy string

	AllowedOrigins     string
	RateLimitAPI       int // requests per minute per IP
	RateLimitWebSocket int // connections per minute per IP
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	apiKey := getEnv("LLM_API_KEY", "")
	if apiKey == "" {
		apiKey = getEnv("MISTRAL_API_KEY", "")
	}

	policy := strings.ToLower(getEnv("OVERDUE_POLICY", OverduePolicyFire))
	if policy != OverduePolicyFire && policy != OverduePolicySkip {
		policy = OverduePolicyFire
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8000"),
		Environment: getEnv("ENVIRONMENT", "development"),

		MongoURI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGODB_DATABASE", "reminder_db"),
		RedisURL:      getEnv("REDIS_URL", ""),

		Timezone: getEnv("TIMEZONE", "Asia/Kolkata"),

		LLMBaseURL:        getEnv("LLM_BASE_URL", "https://api.mistral.ai/v1"),
		LLMAPIKey:         apiKey,
		LLMModel:          getEnv("LLM_MODEL", "mistral-small-latest"),
		ExtractionTimeout: getDurationEnv("EXTRACTION_TIMEOUT", 30*time.Second),
		ExtractionRate:    getIntEnv("EXTRACTION_RATE_PER_MINUTE", 60),

		PromptVersion: getEnv("PROMPT_VERSION", "v1"),
		PromptFile:    getEnv("PROMPT_FILE", ""),
		PromptWatch:   getBoolEnv("PROMPT_WATCH", true),

		ListLimitDefault: getIntEnv("LIST_LIMIT_DEFAULT", 100),
		ListLimitMax:     getIntEnv("LIST_LIMIT_MAX", 500),

		OverduePolicy: policy,

		AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"),
		RateLimitAPI:       getIntEnv("RATE_LIMIT_API", 120),
		RateLimitWebSocket: getIntEnv("RATE_LIMIT_WEBSOCKET", 20),
	}

	if cfg.ListLimitMax <= 0 {
		cfg.ListLimitMax = 500
	}
	if cfg.ListLimitDefault <= 0 || cfg.ListLimitDefault > cfg.ListLimitMax {
		cfg.ListLimitDefault = min(100, cfg.ListLimitMax)
	}
	if cfg.ExtractionTimeout <= 0 {
		cfg.ExtractionTimeout = 30 * time.Second
	}

	return cfg
}

// IsProduction reports whether ENVIRONMENT is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("45s") or a bare number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
