package wavecodec

import "testing"

func TestWrapRoundTripsSampleRate(t *testing.T) {
	pcm := make([]byte, 3200) // 100ms of 16kHz mono 16-bit
	wav := Wrap(pcm, 16000)

	if len(wav) != headerLen+len(pcm) {
		t.Fatalf("got len %d, want %d", len(wav), headerLen+len(pcm))
	}
	if got := SampleRate(wav); got != 16000 {
		t.Fatalf("got sample rate %d, want 16000", got)
	}
}

func TestSampleRateInvalidHeaderReturnsZero(t *testing.T) {
	if got := SampleRate([]byte("not a wav file")); got != 0 {
		t.Fatalf("got %d, want 0 for invalid header", got)
	}
}

func TestDurationMsZeroSampleRate(t *testing.T) {
	if got := DurationMs(make([]byte, 100), 0); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestDurationMsComputesFromPayloadLength(t *testing.T) {
	pcm := make([]byte, 32000) // 1 second at 16kHz 16-bit mono
	wav := Wrap(pcm, 16000)
	if got := DurationMs(wav, 16000); got != 1000 {
		t.Fatalf("got %dms, want 1000ms", got)
	}
}
