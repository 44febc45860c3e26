package ttsprovider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/duplexvoice/gateway/internal/breaker"
	"github.com/duplexvoice/gateway/internal/metrics"
)

// synthesizer is satisfied by both KokoroClient and OpenAIClient.
type synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*Result, error)
}

// Router owns independent breakers for kokoro and openai and tries the
// preferred provider first, falling over to the other on refusal or
// failure.
type Router struct {
	kokoro   synthesizer
	openai   synthesizer
	kokoroCB *breaker.CircuitBreaker
	openaiCB *breaker.CircuitBreaker

	mu        sync.Mutex
	preferred string // "kokoro" or "openai"
}

// NewRouter creates a router with both adapters. preferred selects the
// first provider tried on each call.
func NewRouter(kokoro *KokoroClient, openai *OpenAIClient, preferred string) *Router {
	r := &Router{kokoro: kokoro, openai: openai, preferred: preferred}
	r.kokoroCB = breaker.New(breaker.Config{Name: "tts:kokoro", Cooldown: 5 * time.Second}, breaker.Listener{
		OnStateChange: func(from, to breaker.State) {
			metrics.BreakerStateChanges.WithLabelValues("tts:kokoro", string(to)).Inc()
		},
	})
	r.openaiCB = breaker.New(breaker.Config{Name: "tts:openai", Cooldown: 15 * time.Second}, breaker.Listener{
		OnStateChange: func(from, to breaker.State) {
			metrics.BreakerStateChanges.WithLabelValues("tts:openai", string(to)).Inc()
		},
	})
	return r
}

// SetPreferred changes the preferred provider without touching breaker state.
func (r *Router) SetPreferred(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preferred = provider
}

func (r *Router) preferredName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preferred
}

// Synthesize tries the preferred provider, then the other, returning
// tts_all_providers_unavailable if both refuse or fail.
func (r *Router) Synthesize(ctx context.Context, text, voice string) (*Result, error) {
	order := []string{"kokoro", "openai"}
	if r.preferredName() == "openai" {
		order = []string{"openai", "kokoro"}
	}

	var lastErr error
	for _, name := range order {
		result, err := r.tryProvider(ctx, name, text, voice)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("tts_all_providers_unavailable: %w", lastErr)
}

func (r *Router) tryProvider(ctx context.Context, name, text, voice string) (*Result, error) {
	client, cb := r.resolve(name)
	if !cb.CanRequest() {
		return nil, fmt.Errorf("%s: breaker open", name)
	}

	result, err := client.Synthesize(ctx, text, voice)
	if err != nil {
		cb.RecordFailure()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	cb.RecordSuccess()
	return result, nil
}

func (r *Router) resolve(name string) (synthesizer, *breaker.CircuitBreaker) {
	if name == "openai" {
		return r.openai, r.openaiCB
	}
	return r.kokoro, r.kokoroCB
}

// Stop releases both breakers' cooldown timers.
func (r *Router) Stop() {
	r.kokoroCB.Stop()
	r.openaiCB.Stop()
}
