package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// CompletionClient is the text-completion oracle used for extraction.
type CompletionClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// CompletionConfig configures an OpenAI-compatible chat completions endpoint.
type CompletionConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// JSONMode requests response_format json_object.
	JSONMode bool
}

// OpenAICompletionClient calls {BaseURL}/chat/completions.
type OpenAICompletionClient struct {
	client *openai.Client
	model  string
	json   bool
	logger *logrus.Logger
}

// ErrEmptyCompletion is returned when the oracle answers with no choices or empty content.
var ErrEmptyCompletion = errors.New("completion returned no content")

// NewOpenAICompletionClient creates a completion client.
func NewOpenAICompletionClient(cfg CompletionConfig) *OpenAICompletionClient {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	// The caller bounds each call with a context deadline.
	clientConfig.HTTPClient = &http.Client{}

	return &OpenAICompletionClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		json:   cfg.JSONMode,
		logger: logger,
	}
}

// Complete implements CompletionClient.
func (c *OpenAICompletionClient) Complete(ctx context.Context, system, user string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0,
	}
	if c.json {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"model":    c.model,
			"duration": time.Since(start).String(),
		}).WithError(err).Warn("Completion request failed")
		return "", fmt.Errorf("completion request failed: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}

	c.logger.WithFields(logrus.Fields{
		"model":             c.model,
		"duration":          time.Since(start).String(),
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	}).Info("Completion received")

	return resp.Choices[0].Message.Content, nil
}
