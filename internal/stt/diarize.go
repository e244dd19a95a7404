package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/transcribe-gateway/internal/observability"
	"github.com/lexiqai/transcribe-gateway/internal/resilience"
	"github.com/lexiqai/transcribe-gateway/internal/transcript"
)

// BatchDiarizer uploads a complete recording for speaker-labeled recognition
type BatchDiarizer struct {
	url        string
	apiKey     string
	authScheme string
	model      string
	client     *http.Client
	policy     resilience.Policy
	logger     zerolog.Logger
}

// NewBatchDiarizer creates a diarizer posting to endpoint (the pre-recorded
// listen URL)
func NewBatchDiarizer(endpoint, apiKey, authScheme, model string, policy resilience.Policy) *BatchDiarizer {
	if authScheme == "" {
		authScheme = "Token"
	}
	return &BatchDiarizer{
		url:        endpoint,
		apiKey:     apiKey,
		authScheme: authScheme,
		model:      model,
		client:     &http.Client{Timeout: 120 * time.Second},
		policy:     policy,
		logger:     observability.ForComponent("diarizer"),
	}
}

type batchResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []wireAlternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Diarize uploads wav and returns its speaker-labeled words
func (b *BatchDiarizer) Diarize(ctx context.Context, wav []byte) ([]transcript.Word, error) {
	start := time.Now()
	var words []transcript.Word
	err := resilience.Retry(ctx, b.policy, func(ctx context.Context) error {
		var err error
		words, err = b.upload(ctx, wav)
		return err
	}, resilience.IsRetryable)
	observability.RecordRemoteCall("diarize", start, err)
	if err != nil {
		return nil, err
	}

	b.logger.Info().
		Int("words", len(words)).
		Dur("latency", time.Since(start)).
		Msg("Recording diarized")
	return words, nil
}

func (b *BatchDiarizer) upload(ctx context.Context, wav []byte) ([]transcript.Word, error) {
	endpoint, err := url.Parse(b.url)
	if err != nil {
		return nil, fmt.Errorf("invalid diarization url: %w", err)
	}
	q := endpoint.Query()
	q.Set("diarize", "true")
	q.Set("punctuate", "true")
	if b.model != "" {
		q.Set("model", b.model)
	}
	endpoint.RawQuery = q.Encode()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "recording.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", b.authScheme+" "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
		}
		return nil, resilience.NewRetryableError(fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewRetryableError(fmt.Errorf("%w: read response: %v", ErrNetwork, err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, resilience.NewRetryableError(fmt.Errorf("%w: status %d: %s", ErrRemoteService, resp.StatusCode, truncate(data, 200)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: status %d: %s", ErrRemoteService, resp.StatusCode, truncate(data, 200))
	}

	var parsed batchResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrRemoteService, err)
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return nil, nil
	}
	return toWords(parsed.Results.Channels[0].Alternatives[0].Words), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
