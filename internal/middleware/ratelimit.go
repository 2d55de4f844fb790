package middleware

import (
	"log"
	"time"

	"remindai/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// REST endpoints (per IP)
	APIMax        int
	APIExpiration time.Duration

	// WebSocket connection attempts (per IP)
	WebSocketMax        int
	WebSocketExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		APIMax:        120,
		APIExpiration: 1 * time.Minute,

		WebSocketMax:        20,
		WebSocketExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig derives limits from the application config
func LoadRateLimitConfig(cfg *config.Config) *RateLimitConfig {
	rl := DefaultRateLimitConfig()

	if cfg.RateLimitAPI > 0 {
		rl.APIMax = cfg.RateLimitAPI
	}
	if cfg.RateLimitWebSocket > 0 {
		rl.WebSocketMax = cfg.RateLimitWebSocket
	}

	// Development mode: more lenient limits
	if cfg.Environment == "development" {
		rl.APIMax = max(rl.APIMax, 1000)
		rl.WebSocketMax = max(rl.WebSocketMax, 100)
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return rl
}

// APIRateLimiter limits REST requests per client IP
func APIRateLimiter(rl *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        rl.APIMax,
		Expiration: rl.APIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "api:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] API limit reached for IP: %s on %s", c.IP(), c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(rl.APIExpiration.Seconds()),
			})
		},
	})
}

// WebSocketRateLimiter limits WebSocket connection attempts per client IP
func WebSocketRateLimiter(rl *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        rl.WebSocketMax,
		Expiration: rl.WebSocketExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "ws:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] WebSocket connection limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many connection attempts. Please wait before reconnecting.",
				"retry_after": int(rl.WebSocketExpiration.Seconds()),
			})
		},
	})
}
