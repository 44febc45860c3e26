// Package turn owns one conversational turn: the audio-in / transcript /
// LLM / TTS-out state machine.
package turn

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/duplexvoice/gateway/internal/llmpipeline"
	"github.com/duplexvoice/gateway/internal/trace"
	"github.com/duplexvoice/gateway/internal/ttspipeline"
	"github.com/duplexvoice/gateway/internal/wavecodec"
)

// silenceTimeout is how long listening waits with no new audio before
// firing SILENCE_DETECTED.
const silenceTimeout = 1500 * time.Millisecond

// sampleRate is the fixed input audio rate (16kHz mono PCM).
const sampleRate = 16000

var unkToken = regexp.MustCompile(`<unk>`)
var whitespaceRun = regexp.MustCompile(`\s+`)

var noiseWords = map[string]bool{
	"m": true, "mm": true, "mmm": true, "mhm": true, "hm": true,
	"hmm": true, "hn": true, "uh": true, "um": true, "ah": true,
	"oh": true, "eh": true, "er": true,
}

// STTRouter transcribes one WAV blob and returns its text.
type STTRouter interface {
	Transcribe(ctx context.Context, wavBytes []byte) (text string, err error)
}

// Events are the client-facing and internal callbacks a Turn fires.
type Events struct {
	OnState         func(state State, turnID string)
	OnStateChanged  func(from, to State, turnID string)
	OnCompleted     func(turnID string)
	OnTranscript    func(text, turnID string)
	OnError         func(code, message, turnID string, recoverable bool)
	OnCancelled     func(turnID string)
	OnLLMToken      func(token, fullText, turnID string)
	OnLLMDone       func(fullText, turnID string)

	// Tracer, if set, records one run spanning this
	// Turn's full ASR→LLM→TTS cycle, with a span per stage. Nil-safe: every
	// [trace.Tracer] method is a no-op on a nil receiver.
	Tracer *trace.Tracer
}

// Turn owns the state machine, audio buffer, and pipeline wiring for a
// single conversational exchange.
type Turn struct {
	id      string
	stt     STTRouter
	llm     *llmpipeline.Pipeline
	tts     *ttspipeline.Pipeline
	ev      Events
	logger  *slog.Logger

	mu          sync.Mutex
	state       State
	phase       string // "active", "completed", "cancelled"
	audioBuf    [][]byte
	audioBytes  int
	pending     string
	sttInFlight bool
	timer       *time.Timer
	runID       string
	createdAt   time.Time
}

// New constructs an idle Turn.
func New(id string, stt STTRouter, llm *llmpipeline.Pipeline, tts *ttspipeline.Pipeline, ev Events, logger *slog.Logger) *Turn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Turn{id: id, stt: stt, llm: llm, tts: tts, ev: ev, logger: logger, state: StateIdle, phase: "active", runID: ev.Tracer.StartRun(), createdAt: time.Now()}
}

// CurrentState returns the turn's FSM state.
func (t *Turn) CurrentState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// AudioBytes returns the number of bytes currently buffered.
func (t *Turn) AudioBytes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.audioBytes
}

// IsActive reports whether the turn has not yet reached a terminal phase.
func (t *Turn) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase == "active"
}

// Transition applies event to the FSM. Returns false if (state, event) is
// not in the table.
func (t *Turn) Transition(event Event) bool {
	t.mu.Lock()
	from := t.state
	to, ok := next(from, event)
	if !ok {
		t.mu.Unlock()
		t.logger.Debug("turn: ignored transition", "turn", t.id, "state", from, "event", event)
		return false
	}
	t.state = to
	becameCompleted := to == StateIdle
	if becameCompleted {
		t.phase = "completed"
	}
	t.mu.Unlock()

	if t.ev.OnState != nil {
		t.ev.OnState(to, t.id)
	}
	if t.ev.OnStateChanged != nil {
		t.ev.OnStateChanged(from, to, t.id)
	}
	if becameCompleted {
		t.mu.Lock()
		pending := t.pending
		t.mu.Unlock()
		t.ev.Tracer.EndRun(t.runID, float64(time.Since(t.createdAt).Milliseconds()), pending, "", "completed")
	}
	if becameCompleted && t.ev.OnCompleted != nil {
		t.ev.OnCompleted(t.id)
	}
	return true
}

// AppendAudio buffers a PCM chunk and (re)schedules the silence timer. A
// no-op once the turn is no longer active.
func (t *Turn) AppendAudio(chunk []byte) {
	t.mu.Lock()
	if t.phase != "active" {
		t.mu.Unlock()
		return
	}
	t.audioBuf = append(t.audioBuf, chunk)
	t.audioBytes += len(chunk)
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(silenceTimeout, t.onSilenceTimerFired)
	t.mu.Unlock()
}

func (t *Turn) onSilenceTimerFired() {
	t.mu.Lock()
	state := t.state
	bytes := t.audioBytes
	t.mu.Unlock()

	if state == StateListening && bytes > 0 {
		t.transcribe(context.Background())
	}
}

// transcribe runs one STT call and the post-decode decision tree.
func (t *Turn) transcribe(ctx context.Context) {
	t.mu.Lock()
	if t.audioBytes == 0 {
		t.mu.Unlock()
		if !t.Transition(EventSTTEmpty) {
			t.Transition(EventCancel)
		}
		return
	}

	audio := concatChunks(t.audioBuf)
	t.audioBuf = nil
	t.audioBytes = 0
	t.sttInFlight = true
	t.mu.Unlock()

	t.Transition(EventSilenceDetected)

	spanStart := time.Now()
	text, err := t.stt.Transcribe(ctx, wavecodec.Wrap(audio, sampleRate))

	status := "ok"
	if err != nil {
		status = "error"
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	t.ev.Tracer.RecordSpan(t.runID, "stt", spanStart, float64(time.Since(spanStart).Milliseconds()), "", text, status, errMsg)

	t.mu.Lock()
	t.sttInFlight = false
	cancelled := t.phase != "active"
	t.mu.Unlock()
	if cancelled {
		return
	}

	if err != nil {
		if t.ev.OnError != nil {
			t.ev.OnError("stt_error", err.Error(), t.id, true)
		}
		t.Transition(EventError)
		return
	}

	t.handleTranscription(text)
}

func (t *Turn) handleTranscription(raw string) {
	cleaned := cleanTranscript(raw)
	noisy := isNoise(cleaned)
	newSegment := cleaned
	if noisy {
		newSegment = ""
	}

	t.mu.Lock()
	pending := t.pending
	moreAudio := t.audioBytes > 0
	t.mu.Unlock()

	combined := pending
	if pending != "" && newSegment != "" {
		combined = pending + " " + newSegment
	} else if newSegment != "" {
		combined = newSegment
	}

	switch {
	case combined == "":
		t.mu.Lock()
		t.pending = ""
		t.mu.Unlock()
		t.Transition(EventSTTEmpty)

	case noisy && pending != "":
		if t.ev.OnTranscript != nil {
			t.ev.OnTranscript(pending, t.id)
		}
		t.Transition(EventSTTDone)

	case moreAudio:
		t.mu.Lock()
		t.pending = combined
		t.mu.Unlock()
		t.Transition(EventAudioResume)
		t.mu.Lock()
		if t.timer != nil {
			t.timer.Stop()
		}
		t.timer = time.AfterFunc(silenceTimeout, t.onSilenceTimerFired)
		t.mu.Unlock()

	default:
		t.mu.Lock()
		t.pending = combined
		t.mu.Unlock()
		if t.ev.OnTranscript != nil {
			t.ev.OnTranscript(combined, t.id)
		}
		t.Transition(EventSTTDone)
	}
}

// Think drives the LLM and TTS pipelines for one send.
func (t *Turn) Think(ctx context.Context, text, sessionKey, systemPrompt string) {
	t.tts.Reset()

	firstChunk := false
	var firstChunkMu sync.Mutex
	spanStart := time.Now()

	ev := llmpipeline.Events{
		OnToken: func(token, fullText string) {
			if t.ev.OnLLMToken != nil {
				t.ev.OnLLMToken(token, fullText, t.id)
			}
		},
		OnPhrase: func(phraseText string, index int, turnID string) {
			firstChunkMu.Lock()
			isFirst := !firstChunk
			firstChunk = true
			firstChunkMu.Unlock()
			if isFirst {
				t.Transition(EventLLMFirstChunk)
			}
			t.tts.ProcessChunk(ctx, phraseText, index, turnID)
		},
		OnDone: func(fullText string, cancelled bool) {
			t.ev.Tracer.RecordSpan(t.runID, "llm", spanStart, float64(time.Since(spanStart).Milliseconds()), text, fullText, "ok", "")
			if cancelled {
				return
			}
			if t.ev.OnLLMDone != nil {
				t.ev.OnLLMDone(fullText, t.id)
			}
			t.tts.Finish()
			t.Transition(EventLLMDone)
		},
		OnError: func(err error, turnID string) {
			code := "llm_error"
			if strings.HasPrefix(err.Error(), "llm_timeout:") {
				code = "llm_timeout"
			}
			t.ev.Tracer.RecordSpan(t.runID, "llm", spanStart, float64(time.Since(spanStart).Milliseconds()), text, "", "error", err.Error())
			if t.ev.OnError != nil {
				t.ev.OnError(code, err.Error(), t.id, true)
			}
			t.Transition(EventError)
		},
	}

	t.llm.SendTranscript(ctx, text, systemPrompt, t.id, ev)
}

// Cancel is idempotent: aborts both pipelines, clears the silence timer,
// and emits the terminal "abandoned" turn_state with no turnId.
func (t *Turn) Cancel() {
	t.mu.Lock()
	if t.phase != "active" {
		t.mu.Unlock()
		return
	}
	t.phase = "cancelled"
	if t.timer != nil {
		t.timer.Stop()
	}
	pending := t.pending
	t.mu.Unlock()

	t.llm.Cancel()
	t.tts.Cancel()

	t.ev.Tracer.EndRun(t.runID, float64(time.Since(t.createdAt).Milliseconds()), pending, "", "cancelled")

	if t.ev.OnState != nil {
		t.ev.OnState(StateIdle, "")
	}
	if t.ev.OnCancelled != nil {
		t.ev.OnCancelled(t.id)
	}
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

func cleanTranscript(s string) string {
	s = unkToken.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// isNoise classifies a cleaned transcript: empty, every word
// a filler sound, or ≥2 identical short (≤3 char) words.
func isNoise(s string) bool {
	if s == "" {
		return true
	}
	words := strings.Fields(strings.ToLower(s))
	if len(words) == 0 {
		return true
	}

	allFiller := true
	shortCounts := make(map[string]int)
	for _, w := range words {
		if !noiseWords[w] {
			allFiller = false
		}
		if len(w) <= 3 {
			shortCounts[w]++
		}
	}
	if allFiller {
		return true
	}
	for _, n := range shortCounts {
		if n >= 2 {
			return true
		}
	}
	return false
}
