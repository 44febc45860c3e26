package sttprovider

import (
	"net/http"
	"time"
)

// newPooledHTTPClient creates an http.Client with connection pooling tuned
// for the short-lived bursty request pattern of per-turn STT/TTS calls.
func newPooledHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          50,
			MaxIdleConnsPerHost:   50,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: timeout,
			ForceAttemptHTTP2:     true,
		},
	}
}
