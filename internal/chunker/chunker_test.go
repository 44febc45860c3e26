package chunker

import (
	"strings"
	"testing"
)

func chunkTexts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestShortOpenerMergesIntoFollowingSentence(t *testing.T) {
	c := New()
	chunks := c.Feed("Sure! I can help you with that now.", true)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1: %v", len(chunks), chunkTexts(chunks))
	}
	if !strings.Contains(chunks[0].Text, "Sure!") || !strings.Contains(chunks[0].Text, "help") {
		t.Fatalf("chunk %q must contain both Sure! and help", chunks[0].Text)
	}
}

func TestFeedFinalRoundTripsWhitespaceNormalized(t *testing.T) {
	c := New()
	input := "just a short fragment with no terminator"
	chunks := c.Feed(input, true)
	if len(chunks) != 1 || chunks[0].Text != input {
		t.Fatalf("got %v, want single chunk %q", chunkTexts(chunks), input)
	}
}

func TestAbbreviationDoesNotSplit(t *testing.T) {
	c := New()
	chunks := c.Feed("Please see Dr. Smith about the results today.", true)
	if len(chunks) != 1 {
		t.Fatalf("abbreviation must not cause an early split, got %v", chunkTexts(chunks))
	}
}

func TestNumberedListMarkerDoesNotSplit(t *testing.T) {
	c := New()
	chunks := c.Feed("Step 1. open the valve and wait for pressure to stabilize before proceeding further with the next step.", true)
	for _, ch := range chunks {
		if ch.Text == "Step 1." {
			t.Fatalf("numbered list marker must not be treated as a sentence end: %v", chunkTexts(chunks))
		}
	}
}

func TestCodeBlockGuardHoldsUntilClosed(t *testing.T) {
	c := New()
	chunks := c.Feed("Here is an example. ```go\nfunc main() {}\n", false)
	if len(chunks) != 0 {
		t.Fatalf("must not emit inside an unclosed code fence, got %v", chunkTexts(chunks))
	}
	chunks = c.Feed("```\nThat should work well for most cases here.", true)
	if len(chunks) == 0 {
		t.Fatalf("closing the fence and finalizing must flush something")
	}
}

func TestIncrementalFeedEmitsAsSentencesComplete(t *testing.T) {
	c := New()
	var all []Chunk
	for _, tok := range []string{"Hello there", " friend, how", " are you doing", " today? ", "I hope all is well with you and your family."} {
		all = append(all, c.Feed(tok, false)...)
	}
	all = append(all, c.Feed("", true)...)
	if len(all) == 0 {
		t.Fatalf("expected at least one chunk across the stream")
	}
	for i := 1; i < len(all); i++ {
		if all[i].Index <= all[i-1].Index {
			t.Fatalf("chunk indices must be monotonically increasing: %+v", all)
		}
	}
}

func TestResetClearsBufferAndIndex(t *testing.T) {
	c := New()
	c.Feed("Hello world, this is a test sentence.", false)
	c.Reset()
	chunks := c.Feed("A brand new short bit of text.", true)
	if len(chunks) != 1 || chunks[0].Index != 0 {
		t.Fatalf("reset must restart chunkIndex at 0, got %+v", chunks)
	}
}

func TestPauseSplitOnCommaWhenNoSentenceEnd(t *testing.T) {
	c := New()
	long := "this clause keeps going and going with plenty of words but never reaches a sentence terminator, and then it continues with several more words after the pause for quite a while longer still"
	chunks := c.Feed(long, false)
	if len(chunks) == 0 {
		t.Fatalf("text over 100 chars with a comma must pause-split")
	}
	if !strings.HasSuffix(chunks[0].Text, ",") {
		t.Fatalf("pause split should end at the comma, got %q", chunks[0].Text)
	}
}

func TestPauseSplitOnEmDash(t *testing.T) {
	c := New()
	long := "this clause keeps going and going with plenty of words but never reaches any sentence terminator at all — and then it continues with several more words after the dash for quite a while longer"
	chunks := c.Feed(long, false)
	if len(chunks) == 0 {
		t.Fatalf("text over 100 chars with an em-dash must pause-split")
	}
	if !strings.HasSuffix(chunks[0].Text, "—") {
		t.Fatalf("pause split should end at the em-dash, got %q", chunks[0].Text)
	}
}

func TestForceSplitOnOverlongTextWithNoPunctuation(t *testing.T) {
	c := New()
	long := strings.Repeat("word ", 60) // 300 chars, no terminators
	chunks := c.Feed(long, false)
	if len(chunks) == 0 {
		t.Fatalf("overlong unpunctuated text must force-split before MaxChars")
	}
	if len(chunks[0].Text) > MaxChars {
		t.Fatalf("force-split chunk exceeds MaxChars: %d", len(chunks[0].Text))
	}
}
