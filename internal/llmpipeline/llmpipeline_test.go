package llmpipeline

import (
	"testing"

	"github.com/duplexvoice/gateway/internal/chunker"
	"github.com/duplexvoice/gateway/internal/prompts"
)

func TestCancelIsIdempotent(t *testing.T) {
	p := New(nil, "gpt-test", 512)

	// Cancel before any SendTranscript call must not panic even though
	// p.abort is nil.
	p.Cancel()
	p.Cancel()

	if !p.cancelled.Load() {
		t.Fatalf("expected cancelled to be true after Cancel")
	}
}

func TestVoicePrefixConstant(t *testing.T) {
	if prompts.VoicePrefix != "[[voice]] Be brief.\n" {
		t.Fatalf("voice prefix changed: %q", prompts.VoicePrefix)
	}
}

func TestEmitPhrasesEmitsNothingWhenAlreadyCancelled(t *testing.T) {
	p := New(nil, "gpt-test", 512)
	p.cancelled.Store(true)

	var got []string
	p.emitPhrases([]chunker.Chunk{{Text: "a", Index: 0}, {Text: "b", Index: 1}}, "turn-1", Events{
		OnPhrase: func(text string, index int, turnID string) {
			got = append(got, text)
		},
	})
	if len(got) != 0 {
		t.Fatalf("cancelled pipeline must not emit phrases, got %v", got)
	}
}
