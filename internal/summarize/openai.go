package summarize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/lexiqai/transcribe-gateway/internal/observability"
	"github.com/lexiqai/transcribe-gateway/internal/resilience"
)

// OpenAI summarizes with a chat completion model
type OpenAI struct {
	client *openai.Client
	model  string
	policy resilience.Policy
	logger zerolog.Logger
}

// NewOpenAI creates a summarizer. baseURL may point at any compatible API.
func NewOpenAI(apiKey, baseURL, model string, policy resilience.Policy) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		policy: policy,
		logger: observability.ForComponent("openai_summarizer"),
	}
}

// Available checks that the API answers and offers the configured model
func (o *OpenAI) Available(ctx context.Context) error {
	models, err := o.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCapabilityUnavailable, err)
	}
	if len(models.Models) == 0 {
		return nil
	}
	for _, m := range models.Models {
		if m.ID == o.model {
			return nil
		}
	}
	return fmt.Errorf("%w: model %s not offered", ErrCapabilityUnavailable, o.model)
}

// Summarize requests a completion and returns its text
func (o *OpenAI) Summarize(ctx context.Context, text string, style Style) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyTranscript
	}

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instructions(style)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0.2,
	}

	start := time.Now()
	var summary string
	err := resilience.Retry(ctx, o.policy, func(ctx context.Context) error {
		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("completion returned no choices")
		}
		summary = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	}, isRetryableOpenAI)
	observability.RecordRemoteCall("summarize", start, err)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemote, err)
	}

	o.logger.Info().
		Str("style", string(style)).
		Int("input_chars", len(text)).
		Dur("latency", time.Since(start)).
		Msg("Transcript summarized")
	return summary, nil
}

func isRetryableOpenAI(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return resilience.IsRetryableNetworkError(err)
}
