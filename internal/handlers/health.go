package handlers

import (
	"time"

	"remindai/internal/services"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	connManager *services.ConnectionManager
	delivery    *services.DeliveryScheduler
}

// NewHealthHandler creates a new health handler. delivery may be nil.
func NewHealthHandler(connManager *services.ConnectionManager, delivery *services.DeliveryScheduler) *HealthHandler {
	return &HealthHandler{connManager: connManager, delivery: delivery}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	pending := 0
	if h.delivery != nil {
		pending = h.delivery.Pending()
	}
	return c.JSON(fiber.Map{
		"status":             "healthy",
		"connections":        h.connManager.Count(),
		"pending_deliveries": pending,
		"timestamp":          time.Now().Format(time.RFC3339),
	})
}
