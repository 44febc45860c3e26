package turn

import (
	"context"
	"testing"
)

func TestCleanTranscriptStripsUnkAndCollapsesWhitespace(t *testing.T) {
	got := cleanTranscript("hello   <unk>  world\t\tthere")
	want := "hello world there"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestIsNoiseAllFillerWords(t *testing.T) {
	if !isNoise("um uh hmm") {
		t.Fatalf("all-filler transcript must classify as noise")
	}
}

func TestIsNoiseRepeatedShortWords(t *testing.T) {
	if !isNoise("the the the") {
		t.Fatalf("2+ identical short words must classify as noise")
	}
}

func TestIsNoiseRealSentenceIsNotNoise(t *testing.T) {
	if isNoise("what time is the meeting tomorrow") {
		t.Fatalf("a real sentence must not classify as noise")
	}
}

func TestIsNoiseEmptyIsNoise(t *testing.T) {
	if !isNoise("") {
		t.Fatalf("empty string must classify as noise")
	}
}

type fakeSTT struct {
	text string
	err  error
}

func (f *fakeSTT) Transcribe(ctx context.Context, wavBytes []byte) (string, error) {
	return f.text, f.err
}

func TestTransitionIgnoredPairReturnsFalse(t *testing.T) {
	tu := New("turn-1", &fakeSTT{}, nil, nil, Events{}, nil)
	if tu.Transition(EventLLMDone) {
		t.Fatalf("idle + LLM_DONE is not in the table and must return false")
	}
	if tu.CurrentState() != StateIdle {
		t.Fatalf("state must not change on an ignored transition")
	}
}

func TestTransitionToIdleMarksCompleted(t *testing.T) {
	var completedID string
	tu := New("turn-2", &fakeSTT{}, nil, nil, Events{
		OnCompleted: func(turnID string) { completedID = turnID },
	}, nil)

	tu.Transition(EventAudioStart)
	tu.Transition(EventCancel)

	if completedID != "turn-2" {
		t.Fatalf("expected OnCompleted to fire with turn-2, got %q", completedID)
	}
	if tu.IsActive() {
		t.Fatalf("turn must not be active after reaching idle")
	}
}

func TestHandleTranscriptionEmptyEmitsSTTEmpty(t *testing.T) {
	tu := New("turn-3", &fakeSTT{}, nil, nil, Events{}, nil)
	tu.Transition(EventAudioStart)
	tu.Transition(EventSilenceDetected)

	tu.handleTranscription("")
	if tu.CurrentState() != StateIdle {
		t.Fatalf("empty combined transcript must fall through to idle, got %s", tu.CurrentState())
	}
}
