// Package llmpipeline drives one upstream LLM request, forwards tokens to
// the caller and to a phrase chunker, and honors cancellation.
package llmpipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/duplexvoice/gateway/internal/chunker"
	"github.com/duplexvoice/gateway/internal/prompts"
)

// timeout bounds the whole upstream request, including streaming.
const timeout = 120 * time.Second

// Events receives pipeline output. All fields are optional.
type Events struct {
	OnToken  func(token, fullText string)
	OnPhrase func(text string, index int, turnID string)
	OnDone   func(fullText string, cancelled bool)
	OnError  func(err error, turnID string)
}

// Pipeline drives a single upstream chat completion for one Turn.
type Pipeline struct {
	provider  agents.ModelProvider
	model     string
	maxTokens int

	mu        sync.Mutex
	cancelled atomic.Bool
	abort     context.CancelFunc
	chunk     *chunker.Chunker
}

// New creates a pipeline bound to one upstream model provider.
func New(provider agents.ModelProvider, model string, maxTokens int) *Pipeline {
	return &Pipeline{provider: provider, model: model, maxTokens: maxTokens, chunk: chunker.New()}
}

// SendTranscript issues the upstream chat request and streams events until
// completion, cancellation, or error. Exactly one Events.OnDone or
// Events.OnError fires per call.
func (p *Pipeline) SendTranscript(ctx context.Context, text, systemPrompt, turnID string, ev Events) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	p.mu.Lock()
	p.abort = cancel
	p.cancelled.Store(false)
	p.mu.Unlock()
	defer cancel()

	agent := agents.New("assistant").
		WithInstructions(systemPrompt).
		WithModel(p.model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(p.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   p.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	events, errCh, err := runner.RunStreamedChan(ctx, agent, prompts.VoicePrefix+text)
	if err != nil {
		if p.cancelled.Load() {
			p.emitCancelledDone("", ev)
			return
		}
		if ev.OnError != nil {
			ev.OnError(fmt.Errorf("llm_error: %w", err), turnID)
		}
		return
	}

	var fullText strings.Builder
	for streamEv := range events {
		if p.cancelled.Load() {
			continue
		}
		p.handleStreamEvent(streamEv, &fullText, turnID, ev)
	}

	if streamErr := <-errCh; streamErr != nil {
		if p.cancelled.Load() {
			p.emitCancelledDone(fullText.String(), ev)
			return
		}
		if ctx.Err() == context.DeadlineExceeded {
			if ev.OnError != nil {
				ev.OnError(fmt.Errorf("llm_timeout: %w", streamErr), turnID)
			}
		} else if ev.OnError != nil {
			ev.OnError(fmt.Errorf("llm_error: %w", streamErr), turnID)
		}
		return
	}

	if p.cancelled.Load() {
		p.emitCancelledDone(fullText.String(), ev)
		return
	}

	remainder := p.chunk.Feed("", true)
	p.emitPhrases(remainder, turnID, ev)

	if ev.OnDone != nil {
		ev.OnDone(fullText.String(), false)
	}
}

// emitCancelledDone fires the single terminal OnDone a cancelled call still
// owes its caller (one done per SendTranscript, whether success, error, or
// cancel).
func (p *Pipeline) emitCancelledDone(fullText string, ev Events) {
	if ev.OnDone != nil {
		ev.OnDone(fullText, true)
	}
}

func (p *Pipeline) handleStreamEvent(streamEv agents.StreamEvent, fullText *strings.Builder, turnID string, ev Events) {
	raw, ok := streamEv.(agents.RawResponsesStreamEvent)
	if !ok {
		return
	}
	if raw.Data.Type != "response.output_text.delta" {
		return
	}
	token := raw.Data.Delta
	fullText.WriteString(token)

	if ev.OnToken != nil {
		ev.OnToken(token, fullText.String())
	}

	chunks := p.chunk.Feed(token, false)
	p.emitPhrases(chunks, turnID, ev)
}

func (p *Pipeline) emitPhrases(chunks []chunker.Chunk, turnID string, ev Events) {
	if ev.OnPhrase == nil {
		return
	}
	for _, c := range chunks {
		if p.cancelled.Load() {
			return
		}
		ev.OnPhrase(c.Text, c.Index, turnID)
	}
}

// Cancel is idempotent. It aborts the upstream call and resets (does not
// flush) the phrase chunker; subsequent delta/final callbacks are ignored.
func (p *Pipeline) Cancel() {
	if !p.cancelled.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	abort := p.abort
	p.chunk.Reset()
	p.mu.Unlock()
	if abort != nil {
		abort()
	}
}
