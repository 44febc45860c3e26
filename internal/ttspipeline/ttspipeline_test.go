package ttspipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errFake = errors.New("synthesis failed")

type fakeSynth struct {
	mu    sync.Mutex
	delay time.Duration
	fail  map[int]bool
	calls int
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return []byte("0123456789012345678901234567890123456789012345678901234567"), nil
}

func TestDeliversAudioInAscendingIndexOrderDespiteOutOfOrderCompletion(t *testing.T) {
	synth := &fakeSynth{}
	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	p := New(synth, "default", Events{
		OnAudio: func(meta Meta, audio []byte) {
			mu.Lock()
			order = append(order, meta.Index)
			mu.Unlock()
		},
		OnDone: func() { close(done) },
	})

	ctx := context.Background()
	p.ProcessChunk(ctx, "chunk two", 1, "turn-1")
	p.ProcessChunk(ctx, "chunk zero", 0, "turn-1")
	p.ProcessChunk(ctx, "chunk one", 2, "turn-1")

	p.Finish()
	<-done

	mu.Lock()
	defer mu.Unlock()
	for i, idx := range order {
		if idx != i {
			t.Fatalf("delivery out of order: %v", order)
		}
	}
	if len(order) != 3 {
		t.Fatalf("got %d deliveries, want 3: %v", len(order), order)
	}
}

func TestStaleCompletionAfterResetIsDroppedSilently(t *testing.T) {
	synth := &fakeSynth{delay: 50 * time.Millisecond}
	var audioCount int
	var mu sync.Mutex

	p := New(synth, "default", Events{
		OnAudio: func(meta Meta, audio []byte) {
			mu.Lock()
			audioCount++
			mu.Unlock()
		},
	})

	ctx := context.Background()
	p.ProcessChunk(ctx, "will be stale", 0, "turn-1")

	// Reset before the in-flight synthesis above returns. Its completion
	// must not land in the new generation's completedAudio map.
	p.Reset()

	time.Sleep(100 * time.Millisecond)

	p.mu.Lock()
	inFlight := p.inFlight
	p.mu.Unlock()

	if inFlight != 0 {
		t.Fatalf("inFlight must never go negative or be corrupted by a stale completion, got %d", inFlight)
	}
	mu.Lock()
	defer mu.Unlock()
	if audioCount != 0 {
		t.Fatalf("stale completion must not emit audio after reset, got %d deliveries", audioCount)
	}
}

func TestAllFailedEmitsAllFailedEvent(t *testing.T) {
	p := New(&alwaysFailSynth{}, "default", Events{})
	done := make(chan struct{})
	var allFailed bool
	p.ev.OnAllFailed = func() { allFailed = true }
	p.ev.OnDone = func() { close(done) }

	ctx := context.Background()
	p.ProcessChunk(ctx, "one chunk", 0, "turn-1")
	p.Finish()
	<-done

	if !allFailed {
		t.Fatalf("expected all_failed when every chunk fails")
	}
}

type alwaysFailSynth struct{}

func (alwaysFailSynth) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	return nil, errFake
}

type synthFunc func(ctx context.Context, text, voice string) ([]byte, error)

func (f synthFunc) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	return f(ctx, text, voice)
}

func TestCancelResetNewTurnDropsHeldCompletion(t *testing.T) {
	held := make(chan struct{})
	synth := synthFunc(func(ctx context.Context, text, voice string) ([]byte, error) {
		if text == "turn one" {
			<-held
		}
		return []byte("fake audio payload bytes"), nil
	})

	var mu sync.Mutex
	var metaIndexes []int
	var doneCount int
	p := New(synth, "default", Events{
		OnAudio: func(meta Meta, audio []byte) {
			mu.Lock()
			metaIndexes = append(metaIndexes, meta.Index)
			mu.Unlock()
		},
		OnDone: func() {
			mu.Lock()
			doneCount++
			mu.Unlock()
		},
	})

	ctx := context.Background()
	p.ProcessChunk(ctx, "turn one", 0, "T1")

	p.Cancel()
	p.Reset()
	p.ProcessChunk(ctx, "turn two", 0, "T2")

	// Resolve the held synthesis from the cancelled turn; its generation no
	// longer matches, so it must neither emit audio nor touch counters.
	close(held)
	p.Finish()

	mu.Lock()
	defer mu.Unlock()
	if len(metaIndexes) != 1 || metaIndexes[0] != 0 {
		t.Fatalf("want exactly one index-0 delivery from the new turn, got %v", metaIndexes)
	}
	if doneCount != 2 {
		t.Fatalf("want two done events (cancel + finish), got %d", doneCount)
	}
	p.mu.Lock()
	inFlight := p.inFlight
	p.mu.Unlock()
	if inFlight < 0 {
		t.Fatalf("inFlight went negative: %d", inFlight)
	}
}

func TestCancelDiscardsPendingAndCompleted(t *testing.T) {
	p := New(&fakeSynth{delay: 100 * time.Millisecond}, "default", Events{})
	ctx := context.Background()
	p.ProcessChunk(ctx, "chunk", 0, "turn-1")
	p.ProcessChunk(ctx, "chunk", 1, "turn-1")

	p.Cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pendingChunks) != 0 || len(p.completedAudio) != 0 {
		t.Fatalf("cancel must clear pending and completed maps")
	}
	if !p.cancelled {
		t.Fatalf("cancel must set cancelled")
	}
}
