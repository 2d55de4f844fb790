package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"remindai/internal/config"
	"remindai/internal/models"
	"remindai/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app      *fiber.App
	store    *services.MemoryReminderStore
	delivery *services.DeliveryScheduler
	conns    *services.ConnectionManager
	service  *services.ReminderService
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	delivery, err := services.NewDeliveryScheduler(time.UTC)
	require.NoError(t, err)
	delivery.Start()
	t.Cleanup(func() { _ = delivery.Stop() })

	store := services.NewMemoryReminderStore()
	conns := services.NewConnectionManager()
	reminderService := services.NewReminderService(store, delivery, conns)

	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	app := fiber.New()
	handler := NewReminderHandler(reminderService, loc, 2, 3)
	app.Get("/health", NewHealthHandler(conns, delivery).Handle)
	app.Get("/reminders", handler.List)
	app.Get("/reminders/:id", handler.Get)
	app.Patch("/reminders/:id", handler.Toggle)
	app.Put("/reminders/:id", handler.Update)
	app.Delete("/reminders/:id", handler.Delete)
	app.Get("/reminders/:id/delivery", handler.Delivery)

	return &testEnv{app: app, store: store, delivery: delivery, conns: conns, service: reminderService}
}

func (e *testEnv) seed(t *testing.T, task string, in time.Duration) *models.Reminder {
	t.Helper()
	r, err := e.store.Create(context.Background(), &models.Reminder{
		Task:         task,
		ReminderTime: time.Now().Add(in),
		CreatedAt:    time.Now(),
	})
	require.NoError(t, err)
	return r
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	return resp, data
}

func TestHealthHandler(t *testing.T) {
	env := setupTestApp(t)

	resp, body := doRequest(t, env.app, "GET", "/health", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if result["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", result["status"])
	}
	if _, ok := result["connections"]; !ok {
		t.Error("Expected 'connections' field in response")
	}
	if _, ok := result["pending_deliveries"]; !ok {
		t.Error("Expected 'pending_deliveries' field in response")
	}
}

func TestReminderHandler_List(t *testing.T) {
	env := setupTestApp(t)
	for _, task := range []string{"a", "b", "c", "d"} {
		env.seed(t, task, time.Hour)
	}

	t.Run("default limit", func(t *testing.T) {
		resp, body := doRequest(t, env.app, "GET", "/reminders", "")
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		var list []models.ReminderResponse
		require.NoError(t, json.Unmarshal(body, &list))
		require.Len(t, list, 2)
		assert.Equal(t, "a", list[0].Task)
		assert.Equal(t, list[0].ID, list[0].LegacyID)
	})

	t.Run("limit clamped to max", func(t *testing.T) {
		_, body := doRequest(t, env.app, "GET", "/reminders?limit=50", "")
		var list []models.ReminderResponse
		require.NoError(t, json.Unmarshal(body, &list))
		assert.Len(t, list, 3)
	})

	t.Run("times rendered in display zone", func(t *testing.T) {
		_, body := doRequest(t, env.app, "GET", "/reminders?limit=1", "")
		assert.Contains(t, string(body), "+05:30")
	})
}

func TestReminderHandler_GetErrors(t *testing.T) {
	env := setupTestApp(t)
	r := env.seed(t, "collect reports", time.Hour)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"found", "/reminders/" + r.ID.Hex(), fiber.StatusOK},
		{"malformed id", "/reminders/not-an-id", fiber.StatusBadRequest},
		{"unknown id", "/reminders/0123456789abcdef01234567", fiber.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doRequest(t, env.app, "GET", tt.path, "")
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestReminderHandler_Toggle(t *testing.T) {
	env := setupTestApp(t)
	r := env.seed(t, "collect reports", time.Hour)
	path := "/reminders/" + r.ID.Hex()

	resp, body := doRequest(t, env.app, "PATCH", path, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var toggled models.ReminderResponse
	require.NoError(t, json.Unmarshal(body, &toggled))
	assert.True(t, toggled.Completed)
	assert.NotNil(t, toggled.CompletedAt)

	_, body = doRequest(t, env.app, "PATCH", path, "")
	var reopened models.ReminderResponse
	require.NoError(t, json.Unmarshal(body, &reopened))
	assert.False(t, reopened.Completed)
	assert.Nil(t, reopened.CompletedAt)

	resp, _ = doRequest(t, env.app, "PATCH", "/reminders/xyz", "")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestReminderHandler_Update(t *testing.T) {
	env := setupTestApp(t)
	r := env.seed(t, "collect reports", time.Hour)
	path := "/reminders/" + r.ID.Hex()

	t.Run("edits task and time", func(t *testing.T) {
		at := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
		body := `{"task": "send reports", "reminder_time": "` + at.Format(time.RFC3339) + `"}`
		resp, data := doRequest(t, env.app, "PUT", path, body)
		require.Equal(t, fiber.StatusOK, resp.StatusCode, string(data))

		var updated models.ReminderResponse
		require.NoError(t, json.Unmarshal(data, &updated))
		assert.Equal(t, "send reports", updated.Task)
		assert.True(t, updated.ReminderTime.Equal(at))
		assert.NotNil(t, updated.UpdatedAt)
	})

	t.Run("naive time rejected", func(t *testing.T) {
		resp, _ := doRequest(t, env.app, "PUT", path, `{"reminder_time": "2030-01-01 10:00"}`)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("empty patch rejected", func(t *testing.T) {
		resp, _ := doRequest(t, env.app, "PUT", path, `{}`)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown id", func(t *testing.T) {
		resp, _ := doRequest(t, env.app, "PUT", "/reminders/0123456789abcdef01234567", `{"completed": true}`)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})
}

func TestReminderHandler_DeleteAndDelivery(t *testing.T) {
	env := setupTestApp(t)
	r := env.seed(t, "collect reports", time.Hour)
	path := "/reminders/" + r.ID.Hex()

	resp, body := doRequest(t, env.app, "GET", path+"/delivery", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var state map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, string(services.StateUnarmed), state["state"])

	resp, _ = doRequest(t, env.app, "DELETE", path, "")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, env.app, "DELETE", path, "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, _ = doRequest(t, env.app, "GET", path+"/delivery", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestParseClientFrame(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantType string
		wantText string
	}{
		{"raw text", "remind me to call at 5pm", "message", "remind me to call at 5pm"},
		{"json text", `{"text": "remind me tomorrow"}`, "message", "remind me tomorrow"},
		{"json content", `{"type": "message", "content": "collect Hb"}`, "message", "collect Hb"},
		{"ping", `{"type": "ping"}`, "ping", ""},
		{"broken json is text", `{"text": `, "message", `{"text": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotText := parseClientFrame([]byte(tt.frame))
			assert.Equal(t, tt.wantType, gotType)
			assert.Equal(t, tt.wantText, gotText)
		})
	}
}

func TestReminderHandler_DeliveryAwaitingSession(t *testing.T) {
	env := setupTestApp(t)
	ctx := context.Background()
	r, err := env.store.Create(ctx, &models.Reminder{
		Task:         "post op check",
		ReminderTime: time.Now().Add(-time.Hour),
		SessionID:    "ward-7",
	})
	require.NoError(t, err)

	summary, err := env.service.Rehydrate(ctx, config.OverduePolicyFire)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Awaiting)

	deliveryState := func() string {
		resp, body := doRequest(t, env.app, "GET", "/reminders/"+r.ID.Hex()+"/delivery", "")
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		var state map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &state))
		return state["state"].(string)
	}
	assert.Equal(t, string(services.StateAwaitingSession), deliveryState())

	conn := models.NewClientConnection("conn-1", nil, 4)
	conn.SessionID = "ward-7"
	env.conns.Add(conn)
	env.service.SessionConnected(ctx, "ward-7")

	require.Eventually(t, func() bool {
		state, ok := env.delivery.State(r.ID.Hex())
		return ok && state == services.StateDelivered
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, string(services.StateDelivered), deliveryState())
	msg := <-conn.WriteChan
	assert.Equal(t, "post op check", msg.Task)
}

func TestSessionIDFromQuery(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"ward-7", "ward-7"},
		{"  a_B-9  ", "a_B-9"},
		{"", ""},
		{"has space", ""},
		{"../etc", ""},
		{strings.Repeat("x", 65), ""},
		{strings.Repeat("x", 64), strings.Repeat("x", 64)},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SessionIDFromQuery(tt.raw), "raw %q", tt.raw)
	}
}
