// Package rollingstt implements the periodic partial-decode loop over an
// accumulating audio buffer, with a stable-prefix algorithm so the client
// can display text as the user speaks.
package rollingstt

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/duplexvoice/gateway/internal/wavecodec"
)

const (
	// WindowSeconds is the size of the decode window, in seconds of audio.
	WindowSeconds = 6
	// Interval is how often a decode cycle fires.
	Interval = 500 * time.Millisecond
	// StabilityThreshold is how many consecutive matching transcripts are
	// required before extending the stable prefix.
	StabilityThreshold = 2
	// SampleRate is the fixed input sample rate (16kHz mono PCM).
	SampleRate = 16000
	bytesPerSample = 2
)

// Decoder is satisfied by an STT adapter capable of transcribing a WAV blob.
type Decoder interface {
	Transcribe(ctx context.Context, wavBytes []byte) (text string, err error)
}

// Partial is one stable/unstable split of the latest decode.
type Partial struct {
	Stable   string
	Unstable string
	Text     string
}

// Final is the result of Finalize.
type Final struct {
	Text string
}

// Events receives rolling-STT output as it becomes available.
type Events struct {
	OnPartial func(Partial)
}

// RollingSTT accumulates audio chunks and periodically decodes the trailing
// window, emitting partial transcripts via a stable-prefix algorithm.
type RollingSTT struct {
	decoder Decoder
	events  Events

	mu           sync.Mutex
	chunks       [][]byte
	totalBytes   int
	history      []string
	stablePrefix string
	inFlight     bool

	ticker *time.Ticker
	stopCh chan struct{}
}

// New creates a rolling decoder bound to decoder, not yet started.
func New(decoder Decoder, events Events) *RollingSTT {
	return &RollingSTT{decoder: decoder, events: events}
}

// Start launches the periodic decode loop. Call Stop to release it.
func (r *RollingSTT) Start(ctx context.Context) {
	r.ticker = time.NewTicker(Interval)
	r.stopCh = make(chan struct{})
	go r.loop(ctx)
}

// Stop halts the periodic decode loop.
func (r *RollingSTT) Stop() {
	if r.ticker != nil {
		r.ticker.Stop()
	}
	if r.stopCh != nil {
		close(r.stopCh)
	}
}

func (r *RollingSTT) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-r.ticker.C:
			r.decodeCycle(ctx)
		}
	}
}

// AppendAudio adds a raw PCM chunk to the buffer.
func (r *RollingSTT) AppendAudio(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
	r.totalBytes += len(chunk)
}

// decodeCycle runs one decode iteration.
func (r *RollingSTT) decodeCycle(ctx context.Context) {
	r.mu.Lock()
	if r.inFlight || r.totalBytes == 0 {
		r.mu.Unlock()
		return
	}
	r.inFlight = true
	window := r.windowBytesLocked()
	r.mu.Unlock()

	text, err := r.decoder.Transcribe(ctx, wavecodec.Wrap(window, SampleRate))

	r.mu.Lock()
	r.inFlight = false
	r.mu.Unlock()

	if err != nil {
		return
	}

	partial := r.applyStablePrefix(text)
	if r.events.OnPartial != nil {
		r.events.OnPartial(partial)
	}
}

// windowBytesLocked extracts the last WindowSeconds*SampleRate*2 bytes of
// buffered audio (the full buffer if smaller). Caller must hold r.mu.
func (r *RollingSTT) windowBytesLocked() []byte {
	windowSize := WindowSeconds * SampleRate * bytesPerSample
	full := concatChunks(r.chunks)
	if len(full) <= windowSize {
		return full
	}
	return full[len(full)-windowSize:]
}

// applyStablePrefix is the stable-prefix algorithm.
func (r *RollingSTT) applyStablePrefix(text string) Partial {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history, text)

	if len(r.history) < StabilityThreshold {
		return Partial{Stable: r.stablePrefix, Unstable: text, Text: text}
	}

	recent := r.history[len(r.history)-StabilityThreshold:]
	common := longestCommonPrefix(recent)

	lastSpace := strings.LastIndex(common, " ")
	if lastSpace > len(r.stablePrefix) {
		r.stablePrefix = strings.TrimRight(common[:lastSpace], " \t\n")
	}

	unstable := text
	if len(r.stablePrefix) <= len(text) {
		unstable = text[len(r.stablePrefix):]
	}
	return Partial{Stable: r.stablePrefix, Unstable: unstable, Text: text}
}

// Finalize stops further cycles, decodes the full buffer once, and returns
// the final transcript.
func (r *RollingSTT) Finalize(ctx context.Context) (Final, error) {
	r.Stop()

	r.mu.Lock()
	full := concatChunks(r.chunks)
	r.mu.Unlock()

	text, err := r.decoder.Transcribe(ctx, wavecodec.Wrap(full, SampleRate))
	if err != nil {
		return Final{}, err
	}
	return Final{Text: text}, nil
}

func concatChunks(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func longestCommonPrefix(strs []string) string {
	if len(strs) == 0 {
		return ""
	}
	prefix := strs[0]
	for _, s := range strs[1:] {
		prefix = commonPrefix(prefix, s)
		if prefix == "" {
			break
		}
	}
	return prefix
}

func commonPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}
