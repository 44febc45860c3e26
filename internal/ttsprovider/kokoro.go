// Package ttsprovider implements the two TTS provider adapters (kokoro,
// openai) and the dual-breaker router in front of them.
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

// Result is one synthesis call's audio output.
type Result struct {
	Audio     []byte
	LatencyMs float64
}

// KokoroClient adapts the local kokoro TTS HTTP service.
type KokoroClient struct {
	url    string
	client *http.Client
}

// NewKokoroClient creates an adapter pointed at the kokoro service base URL.
func NewKokoroClient(url string) *KokoroClient {
	return &KokoroClient{url: url, client: newPooledHTTPClient(10 * time.Second)}
}

type kokoroRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// Synthesize posts {text, voice} JSON and returns the raw audio response.
func (c *KokoroClient) Synthesize(ctx context.Context, text, voice string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	reqBody, err := json.Marshal(kokoroRequest{Text: text, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/api/tts", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("tts:kokoro", "http").Inc()
		return nil, fmt.Errorf("tts_error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		metrics.Errors.WithLabelValues("tts:kokoro", "status").Inc()
		return nil, fmt.Errorf("tts_error: status %d: %s", resp.StatusCode, string(body))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts response: %w", err)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("tts:kokoro").Observe(latency.Seconds())
	return &Result{Audio: audio, LatencyMs: float64(latency.Milliseconds())}, nil
}

// HealthCheck reports whether kokoro answers /health.
func (c *KokoroClient) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
