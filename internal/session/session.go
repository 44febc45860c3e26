// Package session holds the per-connection negotiated configuration and the
// partial-JSON merge used by the wire-level config{settings} message.
package session

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Config is the negotiated SessionConfig.
type Config struct {
	AutoSendDelayMs int     `json:"autoSendDelayMs"`
	TTSProvider     string  `json:"ttsProvider"`
	TTSVoice        string  `json:"ttsVoice"`
	STTProvider     string  `json:"sttProvider"`
	VADSensitivity  float64 `json:"vadSensitivity"`
	LLMModel        string  `json:"llmModel"`
	AgentID         string  `json:"agentId"`
	SessionKey      string  `json:"sessionKey"`
}

// Default returns the baseline SessionConfig used for a new connection.
func Default() Config {
	return Config{
		TTSProvider: "kokoro",
		STTProvider: "parakeet",
		SessionKey:  "main",
	}
}

// Merge applies a raw JSON patch (the client's config{settings} payload) on
// top of cfg, keeping any field the patch omits. Unknown fields in the patch
// are ignored. Uses gjson/sjson so fields absent from the patch never
// overwrite the existing value with a zero value, unlike a naive
// json.Unmarshal into the same struct.
func Merge(cfg Config, patch json.RawMessage) (Config, error) {
	base, err := json.Marshal(cfg)
	if err != nil {
		return cfg, err
	}
	merged := string(base)

	parsed := gjson.ParseBytes(patch)
	if !parsed.IsObject() {
		return cfg, nil
	}

	var mergeErr error
	parsed.ForEach(func(key, value gjson.Result) bool {
		merged, mergeErr = sjson.Set(merged, key.String(), value.Value())
		return mergeErr == nil
	})
	if mergeErr != nil {
		return cfg, mergeErr
	}

	var out Config
	if err := json.Unmarshal([]byte(merged), &out); err != nil {
		return cfg, err
	}
	return out, nil
}
