package sttprovider

import (
	"context"
	"fmt"

	"github.com/duplexvoice/gateway/internal/breaker"
	"github.com/duplexvoice/gateway/internal/metrics"
)

// sentinelText is returned by [Router.Transcribe] when the breaker refuses
// the request.
const sentinelText = "[STT unavailable — local provider offline]"

// RouterEvents receives router-level lifecycle notifications.
type RouterEvents struct {
	// ProviderSwitched fires when the breaker trips from closed to open.
	ProviderSwitched func(from, to string)
	// ProviderRecovered fires on any transition back to closed.
	ProviderRecovered func(provider string)
}

// Router wraps a primary STT adapter with a circuit breaker and falls back
// to a sentinel result while the breaker is open.
type Router struct {
	primary  *Client
	cb       *breaker.CircuitBreaker
	events   RouterEvents
	provider string
}

// NewRouter wraps primary with a breaker named "stt:<provider>".
func NewRouter(primary *Client, provider string, events RouterEvents) *Router {
	r := &Router{primary: primary, events: events, provider: provider}
	r.cb = breaker.New(breaker.Config{Name: "stt:" + provider}, breaker.Listener{
		OnStateChange: r.onStateChange,
	})
	return r
}

func (r *Router) onStateChange(from, to breaker.State) {
	metrics.BreakerStateChanges.WithLabelValues("stt:"+r.provider, string(to)).Inc()
	if from == breaker.StateClosed && to == breaker.StateOpen && r.events.ProviderSwitched != nil {
		r.events.ProviderSwitched(r.provider, "cloud_stub")
	}
	if to == breaker.StateClosed && r.events.ProviderRecovered != nil {
		r.events.ProviderRecovered(r.provider)
	}
}

// Transcribe calls the primary adapter through the breaker, falling back to
// the sentinel result when the breaker refuses the request or the call
// fails on a tripping failure.
func (r *Router) Transcribe(ctx context.Context, wavBytes []byte) (*Result, error) {
	if !r.cb.CanRequest() {
		return sentinelResult(), nil
	}

	result, err := r.primary.Transcribe(ctx, wavBytes)
	if err != nil {
		stateBefore := r.cb.State()
		r.cb.RecordFailure()
		if stateBefore == breaker.StateClosed && r.cb.State() == breaker.StateOpen {
			return sentinelResult(), nil
		}
		return nil, fmt.Errorf("stt_error: %w", err)
	}

	r.cb.RecordSuccess()
	return result, nil
}

// Breaker exposes the underlying breaker for tests and health reporting.
func (r *Router) Breaker() *breaker.CircuitBreaker { return r.cb }

// Stop releases the breaker's cooldown timer.
func (r *Router) Stop() { r.cb.Stop() }

func sentinelResult() *Result {
	return &Result{Text: sentinelText, Confidence: 0, Segments: nil}
}
