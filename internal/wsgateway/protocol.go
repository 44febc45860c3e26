package wsgateway

import (
	"encoding/json"

	"github.com/duplexvoice/gateway/internal/session"
)

// Inbound JSON message shapes (client → server), dispatched by Type.
type inboundEnvelope struct {
	Type string `json:"type"`
}

type pingMsg struct {
	TS int64 `json:"ts"`
}

type transcriptSendMsg struct {
	Text   string `json:"text"`
	TurnID string `json:"turnId"`
}

type commandMsg struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
}

type configMsg struct {
	Settings json.RawMessage `json:"settings"`
}

// Outbound JSON message shapes (server → client).

type pongMsg struct {
	Type     string `json:"type"`
	TS       int64  `json:"ts"`
	ServerTS int64  `json:"serverTs"`
}

type transcriptPartialMsg struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Stable   string `json:"stable"`
	Unstable string `json:"unstable"`
}

type transcriptFinalMsg struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	TurnID string `json:"turnId"`
}

type llmTokenMsg struct {
	Type     string `json:"type"`
	Token    string `json:"token"`
	FullText string `json:"fullText"`
}

type llmDoneMsg struct {
	Type     string `json:"type"`
	FullText string `json:"fullText"`
}

type ttsMetaMsg struct {
	Type       string `json:"type"`
	Format     string `json:"format"`
	Index      int    `json:"index"`
	SampleRate int    `json:"sampleRate"`
	DurationMs int    `json:"durationMs"`
}

type ttsDoneMsg struct {
	Type string `json:"type"`
}

type turnStateMsg struct {
	Type   string `json:"type"`
	State  string `json:"state"`
	TurnID string `json:"turnId,omitempty"`
}

type errorMsg struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

type commandResultMsg struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Result any    `json:"result"`
}

type chatHistoryMsg struct {
	Type       string            `json:"type"`
	SessionKey string            `json:"sessionKey"`
	Messages   []session.Message `json:"messages"`
}
