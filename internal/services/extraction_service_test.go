package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindai/internal/prompts"
)

// fakeCompletion returns a canned response and records calls.
type fakeCompletion struct {
	mu       sync.Mutex
	response string
	err      error
	delay    time.Duration
	calls    int
	lastUser string
}

func (f *fakeCompletion) Complete(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastUser = user
	resp, err, delay := f.response, f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return resp, err
}

func (f *fakeCompletion) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestExtraction(t *testing.T, client CompletionClient, timeout time.Duration) *ExtractionService {
	t.Helper()
	store, err := prompts.NewStore("v1", "")
	require.NoError(t, err)
	return NewExtractionService(client, store, ExtractionConfig{Timeout: timeout})
}

func extractionReason(t *testing.T, err error) string {
	t.Helper()
	var extErr *ExtractionError
	require.ErrorAs(t, err, &extErr)
	return extErr.Reason
}

func TestGate(t *testing.T) {
	for _, msg := range []string{
		"Remind me to call the lab",
		"COLLECT urine culture",
		"post for OT tomorrow",
		"add to worklist",
		"explain consent to patient party",
	} {
		assert.True(t, Gate(msg), msg)
	}
	for _, msg := range []string{"hello", "how are you?", "", "thanks doc"} {
		assert.False(t, Gate(msg), msg)
	}
}

func TestExtract_GateShortCircuitsOracle(t *testing.T) {
	client := &fakeCompletion{response: `[]`}
	svc := newTestExtraction(t, client, time.Second)

	_, err := svc.Extract(context.Background(), "good morning", time.Now())

	assert.ErrorIs(t, err, ErrNoTask)
	assert.Equal(t, 0, client.callCount())
}

func TestExtract_ParsesCandidates(t *testing.T) {
	client := &fakeCompletion{response: `{"reminders": [
		{"task": "Collect blood and urine culture", "time": "today"},
		{"task": "Post for SETON removal in OT 7", "time": "tomorrow"}
	]}`}
	svc := newTestExtraction(t, client, time.Second)
	ref := time.Date(2024, 7, 9, 5, 0, 0, 0, time.UTC)

	candidates, err := svc.Extract(context.Background(), "Collect blood and urine culture today. And post for SETON removal tomorrow in OT 7", ref)
	require.NoError(t, err)

	assert.Equal(t, []Candidate{
		{Task: "Collect blood and urine culture", Descriptor: "today"},
		{Task: "Post for SETON removal in OT 7", Descriptor: "tomorrow"},
	}, candidates)
	assert.Contains(t, client.lastUser, "2024-07-09T05:00:00Z")
}

func TestExtract_OracleErrorAndTimeout(t *testing.T) {
	failing := &fakeCompletion{err: errors.New("503 upstream")}
	_, err := newTestExtraction(t, failing, time.Second).Extract(context.Background(), "send labs", time.Now())
	assert.Equal(t, ReasonOracleError, extractionReason(t, err))
	assert.Contains(t, err.Error(), "AI extraction failed:")

	slow := &fakeCompletion{response: `[]`, delay: time.Second}
	_, err = newTestExtraction(t, slow, 20*time.Millisecond).Extract(context.Background(), "send labs", time.Now())
	assert.Equal(t, ReasonOracleError, extractionReason(t, err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseCandidates_Shapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Candidate
	}{
		{"bare array", `[{"task": "a", "time": "2 hours"}]`, []Candidate{{"a", "2 hours"}}},
		{"output wrapper", `{"output": [{"task": "a", "remind_at": "2024-07-09T13:00:00+05:30"}]}`, []Candidate{{"a", "2024-07-09T13:00:00+05:30"}}},
		{"tasks wrapper", `{"tasks": [{"task": "a", "time_descriptor": "today"}]}`, []Candidate{{"a", "today"}}},
		{"code fence", "```json\n[{\"task\": \"a\", \"time\": \"tomorrow\"}]\n```", []Candidate{{"a", "tomorrow"}}},
		{"empty descriptor", `[{"task": "explain consent", "time": ""}]`, []Candidate{{"explain consent", ""}}},
		{"drops bad items", `[
			{"task": "good", "time": "1 hour"},
			{"task": 42, "time": "1 hour"},
			{"task": "   ", "time": "1 hour"},
			{"task": "numeric time", "time": 5},
			{"task": "null time", "time": null},
			{"task": "no time"},
			"not an object",
			{"task": "also good", "remind_at": "today"}
		]`, []Candidate{{"good", "1 hour"}, {"also good", "today"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCandidates(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCandidates_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{"not json", `Sure! Here are your reminders`, ReasonInvalidJSON},
		{"truncated", `[{"task": "a"`, ReasonInvalidJSON},
		{"string", `"collect reports"`, ReasonInvalidShape},
		{"object without array", `{"task": "a", "time": "today"}`, ReasonInvalidShape},
		{"wrapper not array", `{"output": {"task": "a"}}`, ReasonInvalidShape},
		{"empty output", `{"output": []}`, ReasonNoCandidates},
		{"empty array", `[]`, ReasonNoCandidates},
		{"all items invalid", `[{"task": 1}, {"time": "today"}]`, ReasonNoCandidates},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCandidates(tt.raw)
			assert.Equal(t, tt.reason, extractionReason(t, err))
		})
	}
}

func TestExtractionError_Messages(t *testing.T) {
	assert.Equal(t, "No valid tasks found in your message.", (&ExtractionError{Reason: ReasonNoCandidates}).Error())
	assert.Equal(t, "Invalid AI response format. Expected a list.", (&ExtractionError{Reason: ReasonInvalidShape}).Error())
	assert.Equal(t, "Please provide a task to be reminded about.", UserMessage(ErrNoTask))
}
