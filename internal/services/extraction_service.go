package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"remindai/internal/prompts"
)

// gateKeywords must appear (case-insensitively) in a message before the oracle is called.
var gateKeywords = []string{
	"reminder", "remind me", "set reminder", "worklist",
	"today", "tomorrow",
	"collect", "post", "send", "remove", "explain",
}

// Keys that may wrap the candidate array when the oracle answers with an object.
var wrapperKeys = []string{"output", "reminders", "tasks", "items", "data"}

// Keys accepted for the time descriptor, in order of preference.
var descriptorKeys = []string{"time", "time_descriptor", "remind_at"}

// Candidate is one task/time pair proposed by the oracle.
type Candidate struct {
	Task       string `json:"task"`
	Descriptor string `json:"time"`
}

// PromptRenderer renders the extraction prompt.
type PromptRenderer interface {
	Render(data prompts.Data) (*prompts.Rendered, error)
}

// ExtractionConfig tunes the extraction gateway.
type ExtractionConfig struct {
	Timeout       time.Duration
	RatePerMinute int // 0 disables limiting
	Location      *time.Location
}

// ExtractionService turns chat messages into reminder candidates via the completion oracle.
type ExtractionService struct {
	client   CompletionClient
	prompts  PromptRenderer
	limiter  *rate.Limiter
	timeout  time.Duration
	location *time.Location
}

// NewExtractionService creates an extraction gateway.
func NewExtractionService(client CompletionClient, renderer PromptRenderer, cfg ExtractionConfig) *ExtractionService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	s := &ExtractionService{
		client:   client,
		prompts:  renderer,
		timeout:  cfg.Timeout,
		location: cfg.Location,
	}
	if cfg.RatePerMinute > 0 {
		burst := max(1, cfg.RatePerMinute/10)
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), burst)
	}
	return s
}

// Gate reports whether message mentions any reminder keyword.
func Gate(message string) bool {
	lower := strings.ToLower(message)
	for _, keyword := range gateKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// Extract asks the oracle for candidates in message. Messages that fail the keyword gate
// return ErrNoTask without calling the oracle.
func (s *ExtractionService) Extract(ctx context.Context, message string, reference time.Time) ([]Candidate, error) {
	if !Gate(message) {
		return nil, ErrNoTask
	}

	prompt, err := s.prompts.Render(prompts.Data{
		Now:      reference.In(s.location).Format(time.RFC3339),
		Timezone: s.location.String(),
		Message:  message,
	})
	if err != nil {
		return nil, &ExtractionError{Reason: ReasonOracleError, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			GetMetrics().RecordExtraction("rate_limited", 0)
			return nil, &ExtractionError{Reason: ReasonOracleError, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	start := time.Now()
	raw, err := s.client.Complete(ctx, prompt.System, prompt.User)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		GetMetrics().RecordExtraction(ReasonOracleError, elapsed)
		return nil, &ExtractionError{Reason: ReasonOracleError, Err: err}
	}

	candidates, err := ParseCandidates(raw)
	if err != nil {
		var extErr *ExtractionError
		if errors.As(err, &extErr) {
			GetMetrics().RecordExtraction(extErr.Reason, elapsed)
		}
		slog.Debug("oracle response rejected", "prompt_version", prompt.Version, "error", err)
		return nil, err
	}

	GetMetrics().RecordExtraction("ok", elapsed)
	return candidates, nil
}

// ParseCandidates validates an oracle response. It accepts a JSON array or an object
// wrapping the array under a known key, optionally inside a markdown code fence. Items
// with the wrong shape are dropped individually; values are never coerced.
func ParseCandidates(raw string) ([]Candidate, error) {
	var decoded interface{}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &decoded); err != nil {
		return nil, &ExtractionError{Reason: ReasonInvalidJSON, Err: err}
	}

	items, ok := candidateArray(decoded)
	if !ok {
		return nil, &ExtractionError{Reason: ReasonInvalidShape}
	}

	candidates := make([]Candidate, 0, len(items))
	for _, item := range items {
		if c, ok := toCandidate(item); ok {
			candidates = append(candidates, c)
		} else {
			slog.Debug("dropping malformed candidate", "item", item)
		}
	}

	if len(candidates) == 0 {
		return nil, &ExtractionError{Reason: ReasonNoCandidates}
	}
	return candidates, nil
}

func candidateArray(decoded interface{}) ([]interface{}, bool) {
	switch v := decoded.(type) {
	case []interface{}:
		return v, true
	case map[string]interface{}:
		for _, key := range wrapperKeys {
			if inner, present := v[key]; present {
				arr, ok := inner.([]interface{})
				return arr, ok
			}
		}
	}
	return nil, false
}

func toCandidate(item interface{}) (Candidate, bool) {
	obj, ok := item.(map[string]interface{})
	if !ok {
		return Candidate{}, false
	}

	task, ok := obj["task"].(string)
	if !ok || strings.TrimSpace(task) == "" {
		return Candidate{}, false
	}

	for _, key := range descriptorKeys {
		value, present := obj[key]
		if !present {
			continue
		}
		descriptor, ok := value.(string)
		if !ok {
			return Candidate{}, false
		}
		return Candidate{Task: strings.TrimSpace(task), Descriptor: strings.TrimSpace(descriptor)}, true
	}
	return Candidate{}, false
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl != -1 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
