package wsgateway

import (
	"testing"

	"github.com/duplexvoice/gateway/internal/session"
)

func TestRunCommandVoiceSetsTTSVoice(t *testing.T) {
	cfg := session.Default()
	result, err := runCommand(&cfg, "voice", []string{"nova"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TTSVoice != "nova" {
		t.Fatalf("got voice %q, want nova", cfg.TTSVoice)
	}
	if result == "" {
		t.Fatalf("expected a non-empty result string")
	}
}

func TestRunCommandTTSRejectsUnknownProviderValue(t *testing.T) {
	cfg := session.Default()
	_, err := runCommand(&cfg, "tts", []string{"not-a-provider"})
	if err == nil {
		t.Fatalf("expected an error for an unknown tts provider")
	}
}

func TestRunCommandClearResetsToDefault(t *testing.T) {
	cfg := session.Default()
	cfg.TTSVoice = "nova"
	cfg.LLMModel = "gpt-5"
	_, err := runCommand(&cfg, "clear", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TTSVoice != "" || cfg.LLMModel != "" {
		t.Fatalf("clear must reset to session.Default(), got %+v", cfg)
	}
}

func TestRunCommandUnknownNameReturnsError(t *testing.T) {
	cfg := session.Default()
	_, err := runCommand(&cfg, "frobnicate", nil)
	if err == nil {
		t.Fatalf("expected an error for an unrecognized command")
	}
}
