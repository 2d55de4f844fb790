package handlers

import (
	"errors"
	"log"
	"strings"
	"time"

	"remindai/internal/models"
	"remindai/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ReminderHandler handles the reminder REST endpoints
type ReminderHandler struct {
	reminders    *services.ReminderService
	loc          *time.Location
	defaultLimit int
	maxLimit     int
}

// NewReminderHandler creates a new reminder handler
func NewReminderHandler(reminders *services.ReminderService, loc *time.Location, defaultLimit, maxLimit int) *ReminderHandler {
	if loc == nil {
		loc = time.UTC
	}
	if maxLimit <= 0 {
		maxLimit = 500
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = min(100, maxLimit)
	}
	return &ReminderHandler{
		reminders:    reminders,
		loc:          loc,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// List returns reminders in insertion order
// GET /reminders?limit=N
func (h *ReminderHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", h.defaultLimit)
	if limit <= 0 {
		limit = h.defaultLimit
	}
	if limit > h.maxLimit {
		limit = h.maxLimit
	}

	reminders, err := h.reminders.List(c.Context(), limit)
	if err != nil {
		log.Printf("❌ [REMINDERS] Failed to list reminders: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list reminders",
		})
	}

	responses := make([]*models.ReminderResponse, 0, len(reminders))
	for _, r := range reminders {
		responses = append(responses, r.ToResponse(h.loc))
	}
	return c.JSON(responses)
}

// Get returns a single reminder
// GET /reminders/:id
func (h *ReminderHandler) Get(c *fiber.Ctx) error {
	reminder, err := h.reminders.Get(c.Context(), c.Params("id"))
	if err != nil {
		return h.errorResponse(c, "get", err)
	}
	return c.JSON(reminder.ToResponse(h.loc))
}

// Toggle flips the completed flag
// PATCH /reminders/:id
func (h *ReminderHandler) Toggle(c *fiber.Ctx) error {
	id := c.Params("id")
	reminder, err := h.reminders.Toggle(c.Context(), id)
	if err != nil {
		return h.errorResponse(c, "toggle", err)
	}

	log.Printf("✅ [REMINDERS] Toggled reminder %s (completed=%v)", id, reminder.Completed)
	return c.JSON(reminder.ToResponse(h.loc))
}

// Update edits task, reminder time or completion
// PUT /reminders/:id
func (h *ReminderHandler) Update(c *fiber.Ctx) error {
	id := c.Params("id")

	var req models.UpdateReminderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	patch, err := buildPatch(req)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	reminder, err := h.reminders.Update(c.Context(), id, patch)
	if err != nil {
		return h.errorResponse(c, "update", err)
	}

	log.Printf("✏️ [REMINDERS] Updated reminder %s", id)
	return c.JSON(reminder.ToResponse(h.loc))
}

// Delete removes a reminder
// DELETE /reminders/:id
func (h *ReminderHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.reminders.Delete(c.Context(), id); err != nil {
		return h.errorResponse(c, "delete", err)
	}

	log.Printf("🗑️ [REMINDERS] Deleted reminder %s", id)
	return c.JSON(fiber.Map{
		"message": "Reminder deleted",
		"id":      id,
	})
}

// Delivery reports the delivery state of a reminder
// GET /reminders/:id/delivery
func (h *ReminderHandler) Delivery(c *fiber.Ctx) error {
	outcome, err := h.reminders.Delivery(c.Context(), c.Params("id"))
	if err != nil {
		return h.errorResponse(c, "delivery", err)
	}

	resp := fiber.Map{
		"reminder_id":   outcome.ReminderID,
		"task":          outcome.Task,
		"state":         outcome.State,
		"scheduled_for": outcome.ScheduledFor.In(h.loc),
	}
	if outcome.FiredAt != nil {
		resp["fired_at"] = outcome.FiredAt.In(h.loc)
	}
	if outcome.Error != "" {
		resp["error"] = outcome.Error
	}
	return c.JSON(resp)
}

func (h *ReminderHandler) errorResponse(c *fiber.Ctx, op string, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidIdentifier):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid ID format",
		})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Reminder not found",
		})
	}

	log.Printf("❌ [REMINDERS] Failed to %s reminder %s: %v", op, c.Params("id"), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to " + op + " reminder",
	})
}

// buildPatch validates an edit request. Times must carry an offset; naive times are
// rejected rather than guessed.
func buildPatch(req models.UpdateReminderRequest) (models.ReminderPatch, error) {
	var patch models.ReminderPatch

	if req.Task != nil {
		task := strings.TrimSpace(*req.Task)
		if task == "" {
			return patch, errors.New("task cannot be empty")
		}
		patch.Task = &task
	}

	if req.ReminderTime != nil {
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.ReminderTime))
		if err != nil {
			return patch, errors.New("reminder_time must be RFC 3339 with a UTC offset")
		}
		at = at.UTC()
		patch.ReminderTime = &at
	}

	patch.Completed = req.Completed

	if patch.IsEmpty() {
		return patch, errors.New("no fields to update")
	}
	return patch, nil
}
