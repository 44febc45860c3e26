package ttsprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/duplexvoice/gateway/internal/metrics"
)

// OpenAIClient adapts the OpenAI speech synthesis endpoint.
type OpenAIClient struct {
	apiKey string
	model  string
	client *http.Client
}

// NewOpenAIClient creates an adapter for api.openai.com/v1/audio/speech.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		apiKey: apiKey,
		model:  model,
		client: newPooledHTTPClient(15 * time.Second),
	}
}

type openaiSpeechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	Instructions   string `json:"instructions,omitempty"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize posts a bearer-authenticated speech request and returns the
// raw WAV bytes.
func (c *OpenAIClient) Synthesize(ctx context.Context, text, voice string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	reqBody, err := json.Marshal(openaiSpeechRequest{
		Model:          c.model,
		Voice:          voice,
		Input:          text,
		ResponseFormat: "wav",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/audio/speech", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("tts:openai", "http").Inc()
		return nil, fmt.Errorf("tts_error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		metrics.Errors.WithLabelValues("tts:openai", "status").Inc()
		return nil, fmt.Errorf("tts_error: status %d: %s", resp.StatusCode, string(body))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts response: %w", err)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("tts:openai").Observe(latency.Seconds())
	return &Result{Audio: audio, LatencyMs: float64(latency.Milliseconds())}, nil
}

// HealthCheck reports whether the OpenAI API is reachable with the configured key.
func (c *OpenAIClient) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.openai.com/v1/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
