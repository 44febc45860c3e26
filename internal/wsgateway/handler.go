// Package wsgateway accepts duplex connections and runs the per-connection
// receive loop: binary audio frames drive the active Turn, JSON frames
// carry control messages.
package wsgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nlpodyssey/openai-agents-go/agents"

	"github.com/duplexvoice/gateway/internal/llmpipeline"
	"github.com/duplexvoice/gateway/internal/metrics"
	"github.com/duplexvoice/gateway/internal/prompts"
	"github.com/duplexvoice/gateway/internal/ratelimit"
	"github.com/duplexvoice/gateway/internal/rollingstt"
	"github.com/duplexvoice/gateway/internal/session"
	"github.com/duplexvoice/gateway/internal/sttprovider"
	"github.com/duplexvoice/gateway/internal/trace"
	"github.com/duplexvoice/gateway/internal/ttsprovider"
	"github.com/duplexvoice/gateway/internal/ttspipeline"
	"github.com/duplexvoice/gateway/internal/turn"
)

// maxAudioBytesPerTurn is the hard per-turn audio cap.
const maxAudioBytesPerTurn = 10 * 1024 * 1024

// keepaliveInterval is how often a transport-level ping is sent.
const keepaliveInterval = 30 * time.Second

// maxFramePayload is the hard cap on a single inbound WebSocket frame.
const maxFramePayload = 5 * 1024 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Deps are the shared, process-wide backend clients every connection uses.
type Deps struct {
	STTPrimary   *sttprovider.Client
	STTProvider  string
	TTSKokoro    *ttsprovider.KokoroClient
	TTSOpenAI    *ttsprovider.OpenAIClient
	LLMProvider  agents.ModelProvider
	LLMModel     string
	LLMMaxTokens int

	// History is the process-wide per-sessionKey chat history, replayed on
	// config{sessionKey} changes. Nil-safe.
	History *session.History

	// TraceStore, if set, enables per-connection conversation tracing.
	// Nil disables tracing entirely.
	TraceStore *trace.Store
}

// Handler upgrades and runs duplex connections against shared Deps.
type Handler struct {
	deps Deps
}

// NewHandler creates a connection handler bound to the shared backend deps.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFramePayload)

	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	c := newConnection(conn, h.deps)
	c.run()
}

// connection owns all per-connection state: the active Turn, session
// config, rate limiters, and the routers it constructs for this
// connection's lifetime.
type connection struct {
	conn   *websocket.Conn
	deps   Deps
	logger *slog.Logger
	id     string
	tracer *trace.Tracer

	writeMu sync.Mutex

	msgLimiter *ratelimit.SlidingWindow
	llmLimiter *ratelimit.SlidingWindow

	sttRouter *sttprovider.Router
	ttsRouter *ttsprovider.Router

	cfgMu sync.Mutex
	cfg   session.Config

	turnMu     sync.Mutex
	activeTurn *turn.Turn
	rolling    *rollingstt.RollingSTT

	pongMu     sync.Mutex
	lastPongAt time.Time

	stopKeepalive chan struct{}
}

func newConnection(conn *websocket.Conn, deps Deps) *connection {
	logger := slog.Default()
	connID := uuid.NewString()
	c := &connection{
		conn:          conn,
		deps:          deps,
		logger:        logger,
		id:            connID,
		msgLimiter:    ratelimit.New(100, time.Second),
		llmLimiter:    ratelimit.New(30, 60*time.Second),
		ttsRouter:     ttsprovider.NewRouter(deps.TTSKokoro, deps.TTSOpenAI, "kokoro"),
		cfg:           session.Default(),
		stopKeepalive: make(chan struct{}),
	}
	c.sttRouter = sttprovider.NewRouter(deps.STTPrimary, deps.STTProvider, sttprovider.RouterEvents{
		ProviderSwitched: func(from, to string) {
			logger.Warn("stt provider switched", "from", from, "to", to)
		},
		ProviderRecovered: func(provider string) {
			logger.Info("stt provider recovered", "provider", provider)
		},
	})
	if deps.TraceStore != nil {
		if err := deps.TraceStore.CreateSession(connID, ""); err != nil {
			logger.Warn("trace session create failed", "error", err)
		}
		c.tracer = trace.NewTracer(deps.TraceStore, connID)
	}
	return c
}

func (c *connection) run() {
	c.conn.SetPongHandler(func(string) error {
		c.pongMu.Lock()
		c.lastPongAt = time.Now()
		c.pongMu.Unlock()
		return nil
	})
	go c.keepaliveLoop()
	defer close(c.stopKeepalive)
	defer c.teardown()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Info("connection closed", "error", err)
			return
		}

		if !c.msgLimiter.Check() {
			metrics.RateLimited.WithLabelValues("message").Inc()
			c.sendError("RATE_LIMITED", "too many messages", true)
			continue
		}

		switch msgType {
		case websocket.BinaryMessage:
			c.handleBinaryFrame(data)
		case websocket.TextMessage:
			c.handleJSONFrame(data)
		}
	}
}

func (c *connection) teardown() {
	c.turnMu.Lock()
	activeTurn := c.activeTurn
	c.turnMu.Unlock()
	if activeTurn != nil {
		activeTurn.Cancel()
	}
	c.stopRolling()
	c.sttRouter.Stop()
	c.ttsRouter.Stop()
	if c.tracer != nil {
		c.tracer.Close()
		if err := c.deps.TraceStore.EndSession(c.id); err != nil {
			c.logger.Warn("trace session end failed", "error", err)
		}
	}
}

// stopRolling halts the rolling-STT decode loop if one is running. Safe to
// call more than once; RollingSTT.Stop is not.
func (c *connection) stopRolling() {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	if c.rolling != nil {
		c.rolling.Stop()
		c.rolling = nil
	}
}

func (c *connection) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopKeepalive:
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("keepalive ping failed", "error", err)
			}
		}
	}
}

// handleBinaryFrame applies the binary-frame turn rules.
func (c *connection) handleBinaryFrame(data []byte) {
	t := c.getOrCreateTurnForAudio()
	if t == nil {
		return
	}

	if t.AudioBytes()+len(data) > maxAudioBytesPerTurn {
		c.sendError("AUDIO_BUFFER_OVERFLOW", "audio buffer exceeded 10MB for this turn", true)
		t.Cancel()
		return
	}

	metrics.AudioChunks.Inc()
	t.AppendAudio(data)
	c.turnMu.Lock()
	rolling := c.rolling
	c.turnMu.Unlock()
	if rolling != nil {
		rolling.AppendAudio(data)
	}
}

// getOrCreateTurnForAudio applies the AUDIO_START / AUDIO_RESUME / drop
// rules and returns the turn to append audio to, or nil if the frame must
// be dropped.
func (c *connection) getOrCreateTurnForAudio() *turn.Turn {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	if c.activeTurn == nil {
		t := c.newTurn(uuid.NewString())
		c.activeTurn = t
		c.rolling = c.newRollingSTT()
		c.rolling.Start(context.Background())
		t.Transition(turn.EventAudioStart)
		return t
	}

	switch c.activeTurn.CurrentState() {
	case turn.StateListening:
		return c.activeTurn
	case turn.StatePendingSend, turn.StateTranscribing:
		c.activeTurn.Transition(turn.EventAudioResume)
		return c.activeTurn
	default:
		c.logger.Warn("dropping audio frame in non-listening state", "state", c.activeTurn.CurrentState())
		return nil
	}
}

func (c *connection) handleJSONFrame(data []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.sendError("PARSE_ERROR", err.Error(), true)
		return
	}

	switch env.Type {
	case "ping":
		var m pingMsg
		json.Unmarshal(data, &m)
		c.writeJSON(pongMsg{Type: "pong", TS: m.TS, ServerTS: time.Now().UnixMilli()})

	case "transcript_send":
		var m transcriptSendMsg
		json.Unmarshal(data, &m)
		c.handleTranscriptSend(m)

	case "command":
		var m commandMsg
		json.Unmarshal(data, &m)
		c.handleCommand(m)

	case "barge_in", "cancel":
		c.turnMu.Lock()
		t := c.activeTurn
		c.turnMu.Unlock()
		if t != nil {
			t.Cancel()
		}

	case "config":
		var m configMsg
		json.Unmarshal(data, &m)
		c.handleConfig(m)

	default:
		c.sendError("UNKNOWN_MESSAGE", fmt.Sprintf("unrecognized message type %q", env.Type), true)
	}
}

func (c *connection) handleTranscriptSend(m transcriptSendMsg) {
	if !c.llmLimiter.Check() {
		metrics.RateLimited.WithLabelValues("llm").Inc()
		c.sendError("LLM_RATE_LIMITED", "too many transcript_send messages", true)
		return
	}

	c.turnMu.Lock()
	t := c.activeTurn
	if t == nil {
		t = c.newTurn(uuid.NewString())
		c.activeTurn = t
	}
	state := t.CurrentState()
	c.turnMu.Unlock()

	switch state {
	case turn.StateIdle:
		t.Transition(turn.EventTextSend)
	case turn.StatePendingSend:
		t.Transition(turn.EventSend)
	default:
		return
	}

	c.cfgMu.Lock()
	cfg := c.cfg
	c.cfgMu.Unlock()

	sessionKey := cfg.SessionKey
	if sessionKey == "" {
		sessionKey = "main"
	}

	c.deps.History.Append(sessionKey, "user", m.Text)
	go t.Think(context.Background(), m.Text, sessionKey, prompts.ForSession(cfg.AgentID))
}

func (c *connection) handleCommand(m commandMsg) {
	c.cfgMu.Lock()
	prevKey := c.cfg.SessionKey
	result, err := runCommand(&c.cfg, m.Name, m.Args)
	ttsProvider := c.cfg.TTSProvider
	c.cfgMu.Unlock()

	if err != nil {
		c.writeJSON(commandResultMsg{Type: "command_result", Name: m.Name, Result: map[string]string{"error": err.Error()}})
		return
	}
	if m.Name == "tts" {
		c.ttsRouter.SetPreferred(ttsProvider)
	}
	if m.Name == "clear" {
		c.deps.History.Clear(prevKey)
	}
	c.writeJSON(commandResultMsg{Type: "command_result", Name: m.Name, Result: result})
}

func (c *connection) handleConfig(m configMsg) {
	c.cfgMu.Lock()
	prevKey := c.cfg.SessionKey
	prevTTSProvider := c.cfg.TTSProvider
	merged, err := session.Merge(c.cfg, m.Settings)
	if err != nil {
		c.cfgMu.Unlock()
		c.sendError("PARSE_ERROR", err.Error(), true)
		return
	}
	c.cfg = merged
	c.cfgMu.Unlock()

	if merged.TTSProvider != prevTTSProvider {
		c.ttsRouter.SetPreferred(merged.TTSProvider)
	}
	if merged.SessionKey != prevKey {
		c.writeJSON(chatHistoryMsg{
			Type:       "chat_history",
			SessionKey: merged.SessionKey,
			Messages:   c.deps.History.Get(merged.SessionKey),
		})
	}
}

// sessionKey returns the current session key, defaulting to "main".
func (c *connection) sessionKey() string {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if c.cfg.SessionKey == "" {
		return "main"
	}
	return c.cfg.SessionKey
}

func (c *connection) newRollingSTT() *rollingstt.RollingSTT {
	return rollingstt.New(sttDecoderAdapter{c.sttRouter}, rollingstt.Events{
		OnPartial: func(p rollingstt.Partial) {
			c.writeJSON(transcriptPartialMsg{Type: "transcript_partial", Text: p.Text, Stable: p.Stable, Unstable: p.Unstable})
		},
	})
}

func (c *connection) newTurn(id string) *turn.Turn {
	llm := llmpipeline.New(c.deps.LLMProvider, c.cfgModel(), c.deps.LLMMaxTokens)

	var silenceMu sync.Mutex
	var silenceAt time.Time
	var firstAudioObserved bool

	tts := ttspipeline.New(ttsSynthAdapter{c.ttsRouter}, c.cfgVoice(), ttspipeline.Events{
		OnAudio: func(meta ttspipeline.Meta, audio []byte) {
			silenceMu.Lock()
			if !firstAudioObserved && !silenceAt.IsZero() {
				firstAudioObserved = true
				metrics.TurnDuration.Observe(time.Since(silenceAt).Seconds())
			}
			silenceMu.Unlock()
			c.writeJSON(ttsMetaMsg{Type: "tts_meta", Format: meta.Format, Index: meta.Index, SampleRate: meta.SampleRate, DurationMs: meta.DurationMs})
			c.writeBinary(audio)
		},
		OnAllFailed: func() {
			c.sendError("tts_all_failed", "every chunk in this turn failed synthesis", true)
		},
		OnDone: func() {
			c.writeJSON(ttsDoneMsg{Type: "tts_done"})
		},
	})

	return turn.New(id, sttTextAdapter{c.sttRouter}, llm, tts, turn.Events{
		Tracer: c.tracer,
		OnState: func(state turn.State, turnID string) {
			if state == turn.StateTranscribing {
				silenceMu.Lock()
				silenceAt = time.Now()
				silenceMu.Unlock()
			}
			c.writeJSON(turnStateMsg{Type: "turn_state", State: string(state), TurnID: turnID})
		},
		OnCompleted: func(turnID string) {
			metrics.TurnsTotal.Inc()
			c.turnMu.Lock()
			c.activeTurn = nil
			c.turnMu.Unlock()
			c.stopRolling()
		},
		OnTranscript: func(text, turnID string) {
			c.writeJSON(transcriptFinalMsg{Type: "transcript_final", Text: text, TurnID: turnID})
		},
		OnError: func(code, message, turnID string, recoverable bool) {
			c.sendError(code, message, recoverable)
		},
		OnCancelled: func(turnID string) {
			c.turnMu.Lock()
			c.activeTurn = nil
			c.turnMu.Unlock()
			c.stopRolling()
		},
		OnLLMToken: func(token, fullText, turnID string) {
			c.writeJSON(llmTokenMsg{Type: "llm_token", Token: token, FullText: fullText})
		},
		OnLLMDone: func(fullText, turnID string) {
			c.deps.History.Append(c.sessionKey(), "assistant", fullText)
			c.writeJSON(llmDoneMsg{Type: "llm_done", FullText: fullText})
		},
	}, c.logger)
}

func (c *connection) cfgVoice() string {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.cfg.TTSVoice
}

// cfgModel returns the session's /model override, falling back to the
// process-wide default model when none has been set.
func (c *connection) cfgModel() string {
	c.cfgMu.Lock()
	model := c.cfg.LLMModel
	c.cfgMu.Unlock()
	if model == "" {
		return c.deps.LLMModel
	}
	return model
}

func (c *connection) sendError(code, message string, recoverable bool) {
	c.writeJSON(errorMsg{Type: "error", Code: code, Message: message, Recoverable: recoverable})
}

func (c *connection) writeJSON(v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		c.logger.Error("write json frame", "error", err)
	}
}

func (c *connection) writeBinary(data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.logger.Error("write binary frame", "error", err)
	}
}

// sttDecoderAdapter satisfies rollingstt.Decoder using the router's richer
// Result type.
type sttDecoderAdapter struct{ r *sttprovider.Router }

func (a sttDecoderAdapter) Transcribe(ctx context.Context, wavBytes []byte) (string, error) {
	result, err := a.r.Transcribe(ctx, wavBytes)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// sttTextAdapter satisfies turn.STTRouter the same way.
type sttTextAdapter struct{ r *sttprovider.Router }

func (a sttTextAdapter) Transcribe(ctx context.Context, wavBytes []byte) (string, error) {
	result, err := a.r.Transcribe(ctx, wavBytes)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// ttsSynthAdapter satisfies ttspipeline.Synthesizer using the router's
// richer Result type.
type ttsSynthAdapter struct{ r *ttsprovider.Router }

func (a ttsSynthAdapter) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	result, err := a.r.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	return result.Audio, nil
}
