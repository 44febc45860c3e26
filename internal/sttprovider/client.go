// Package sttprovider implements the STT provider adapter contract
// and a circuit-breaker-backed router in front of it.
package sttprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/duplexvoice/gateway/internal/metrics"
)

// transcribeTimeout bounds the /transcribe call.
const transcribeTimeout = 5 * time.Second

// healthTimeout bounds the /health call.
const healthTimeout = 3 * time.Second

// Segment is one recognized span of a transcription result.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Result is the STT provider's decode output.
type Result struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Segments   []Segment `json:"segments"`
}

// Client is an HTTP adapter for one STT backend.
type Client struct {
	name   string
	url    string
	client *http.Client
}

// NewClient creates an STT adapter pointed at an STT service base URL.
func NewClient(name, url string) *Client {
	return &Client{
		name:   name,
		url:    url,
		client: newPooledHTTPClient(transcribeTimeout),
	}
}

// Transcribe posts a WAV blob as multipart/form-data and decodes the result.
func (c *Client) Transcribe(ctx context.Context, wavBytes []byte) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	body, contentType, err := buildMultipartAudio(wavBytes)
	if err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/transcribe", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("stt", "http").Inc()
		return nil, fmt.Errorf("stt_error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		metrics.Errors.WithLabelValues("stt", "status").Inc()
		return nil, fmt.Errorf("stt_error: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("stt_error: decode response: %w", err)
	}

	metrics.StageDuration.WithLabelValues("stt:" + c.name).Observe(time.Since(start).Seconds())
	return &result, nil
}

// HealthCheck reports whether the backend answers /health within healthTimeout.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
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

func buildMultipartAudio(wavBytes []byte) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wavBytes); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}
