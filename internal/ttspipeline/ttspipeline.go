// Package ttspipeline dispatches phrase chunks to the TTS router with
// bounded concurrency and delivers synthesized audio strictly in ascending
// index order, surviving cancel/reset mid-flight.
package ttspipeline

import (
	"context"
	"sync"
	"time"

	"github.com/duplexvoice/gateway/internal/metrics"
	"github.com/duplexvoice/gateway/internal/wavecodec"
)

// maxParallel bounds concurrent synthesis requests.
const maxParallel = 2

// drainTimeout is the safety net so finish() never blocks forever on a
// synthesis call that never returns.
const drainTimeout = 30 * time.Second

// Synthesizer returns raw audio bytes for one phrase. wsgateway satisfies
// it with an adapter over the TTS router.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (audio []byte, err error)
}

// Meta describes one audio frame's header, emitted just before the binary
// payload (the tts_meta wire message).
type Meta struct {
	Format     string
	Index      int
	SampleRate int
	DurationMs int
}

// Events receives pipeline output.
type Events struct {
	OnAudio     func(meta Meta, audio []byte)
	OnAllFailed func()
	OnDone      func()
	OnCancelled func()
}

type pendingChunk struct {
	text   string
	turnID string
}

// Pipeline synthesizes and orders audio for one turn's phrase stream.
type Pipeline struct {
	synth Synthesizer
	voice string
	ev    Events

	mu             sync.Mutex
	pendingChunks  map[int]pendingChunk
	completedAudio map[int][]byte
	failedChunks   map[int]bool
	failedTotal    int
	totalChunks    int
	nextSendIndex  int
	inFlight       int
	cancelled      bool
	generation     int
	drainWaiters   []chan struct{}
	drainTimer     *time.Timer
}

// New creates a pipeline bound to synth, speaking in voice.
func New(synth Synthesizer, voice string, ev Events) *Pipeline {
	return &Pipeline{
		synth:          synth,
		voice:          voice,
		ev:             ev,
		pendingChunks:  make(map[int]pendingChunk),
		completedAudio: make(map[int][]byte),
		failedChunks:   make(map[int]bool),
	}
}

// ProcessChunk enqueues a phrase chunk for synthesis and advances dispatch.
func (p *Pipeline) ProcessChunk(ctx context.Context, text string, index int, turnID string) {
	p.mu.Lock()
	if p.cancelled {
		p.mu.Unlock()
		return
	}
	if index+1 > p.totalChunks {
		p.totalChunks = index + 1
	}
	p.pendingChunks[index] = pendingChunk{text: text, turnID: turnID}
	p.mu.Unlock()

	p.dispatch(ctx)
}

// dispatch starts synthesis for pending chunks up to maxParallel in flight.
func (p *Pipeline) dispatch(ctx context.Context) {
	for {
		p.mu.Lock()
		if p.cancelled || p.inFlight >= maxParallel || len(p.pendingChunks) == 0 {
			p.mu.Unlock()
			return
		}
		var index int
		var chunk pendingChunk
		for idx, ch := range p.pendingChunks {
			index, chunk = idx, ch
			break
		}
		delete(p.pendingChunks, index)
		p.inFlight++
		gen := p.generation
		p.mu.Unlock()

		go p.synthesizeAndQueue(ctx, chunk.text, index, gen)
	}
}

// synthesizeAndQueue calls the router and, if the result still belongs to
// the current generation, records it and resumes the pipeline.
func (p *Pipeline) synthesizeAndQueue(ctx context.Context, text string, index, gen int) {
	audio, err := p.synth.Synthesize(ctx, text, p.voice)

	p.mu.Lock()
	if gen != p.generation {
		// Belongs to a turn that was reset mid-flight. Drop silently;
		// touching any counter here would corrupt the new generation's
		// bookkeeping.
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.failedChunks[index] = true
		p.failedTotal++
		metrics.TTSChunksFailed.Inc()
	} else {
		p.completedAudio[index] = audio
	}
	p.inFlight--
	p.mu.Unlock()

	p.sendInOrder()
	p.dispatch(ctx)
	p.checkDrained()
}

// sendInOrder emits every contiguously available chunk starting at
// nextSendIndex, skipping chunks recorded as failed.
func (p *Pipeline) sendInOrder() {
	for {
		p.mu.Lock()
		if p.cancelled {
			p.completedAudio = make(map[int][]byte)
			p.mu.Unlock()
			return
		}

		if audio, ok := p.completedAudio[p.nextSendIndex]; ok {
			delete(p.completedAudio, p.nextSendIndex)
			index := p.nextSendIndex
			p.nextSendIndex++
			p.mu.Unlock()

			sampleRate := wavecodec.SampleRate(audio)
			if sampleRate == 0 {
				sampleRate = 16000
			}
			durationMs := wavecodec.DurationMs(audio, sampleRate)
			if p.ev.OnAudio != nil {
				p.ev.OnAudio(Meta{Format: "wav", Index: index, SampleRate: sampleRate, DurationMs: durationMs}, audio)
			}
			continue
		}

		if p.failedChunks[p.nextSendIndex] {
			delete(p.failedChunks, p.nextSendIndex)
			p.nextSendIndex++
			p.mu.Unlock()
			continue
		}

		p.mu.Unlock()
		return
	}
}

// Finish waits for all in-flight and pending work to drain, then emits
// all_failed if every chunk failed, followed by tts_done. It emits nothing
// if the pipeline has been cancelled.
func (p *Pipeline) Finish() {
	p.drainAll()

	p.mu.Lock()
	cancelled := p.cancelled
	allFailed := p.failedTotal == p.totalChunks && p.totalChunks > 0
	p.mu.Unlock()

	if cancelled {
		return
	}
	if allFailed && p.ev.OnAllFailed != nil {
		p.ev.OnAllFailed()
	}
	if p.ev.OnDone != nil {
		p.ev.OnDone()
	}
}

// drainAll blocks until inFlight and pendingChunks both hit zero, or until
// the 30s safety timeout fires.
func (p *Pipeline) drainAll() {
	p.mu.Lock()
	if p.inFlight == 0 && len(p.pendingChunks) == 0 {
		p.mu.Unlock()
		p.sendInOrder()
		return
	}

	waiter := make(chan struct{})
	p.drainWaiters = append(p.drainWaiters, waiter)
	p.mu.Unlock()

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()

	select {
	case <-waiter:
	case <-timer.C:
		p.sendInOrder()
	}
}

// checkDrained resolves any pending drain waiters once counters hit zero.
func (p *Pipeline) checkDrained() {
	p.mu.Lock()
	if p.inFlight != 0 || len(p.pendingChunks) != 0 {
		p.mu.Unlock()
		return
	}
	waiters := p.drainWaiters
	p.drainWaiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Cancel stops delivery, discards buffered work, and wakes any drain waiter.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	p.cancelled = true
	p.pendingChunks = make(map[int]pendingChunk)
	p.completedAudio = make(map[int][]byte)
	waiters := p.drainWaiters
	p.drainWaiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	if p.ev.OnDone != nil {
		p.ev.OnDone()
	}
	if p.ev.OnCancelled != nil {
		p.ev.OnCancelled()
	}
}

// Reset clears all state and bumps the generation counter, the invariant
// that lets stale synthesis completions from a prior turn be dropped
// silently instead of corrupting the new turn's counters.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.pendingChunks = make(map[int]pendingChunk)
	p.completedAudio = make(map[int][]byte)
	p.failedChunks = make(map[int]bool)
	p.failedTotal = 0
	p.totalChunks = 0
	p.nextSendIndex = 0
	p.inFlight = 0
	p.cancelled = false
	p.generation++
	waiters := p.drainWaiters
	p.drainWaiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}
