package session

import "testing"

func TestMergePreservesUnspecifiedFields(t *testing.T) {
	cfg := Default()
	cfg.LLMModel = "gpt-4.1-nano"

	merged, err := Merge(cfg, []byte(`{"ttsProvider":"openai"}`))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.TTSProvider != "openai" {
		t.Fatalf("got ttsProvider %q, want openai", merged.TTSProvider)
	}
	if merged.LLMModel != "gpt-4.1-nano" {
		t.Fatalf("merge should not clobber llmModel, got %q", merged.LLMModel)
	}
	if merged.STTProvider != "parakeet" {
		t.Fatalf("merge should not clobber sttProvider, got %q", merged.STTProvider)
	}
}

func TestMergeSessionKeyChange(t *testing.T) {
	cfg := Default()
	merged, err := Merge(cfg, []byte(`{"sessionKey":"alt"}`))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.SessionKey != "alt" {
		t.Fatalf("got sessionKey %q, want alt", merged.SessionKey)
	}
}
