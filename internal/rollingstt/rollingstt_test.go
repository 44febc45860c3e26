package rollingstt

import "testing"

func TestStablePrefixSnapsToWordBoundary(t *testing.T) {
	r := New(nil, Events{})

	p1 := r.applyStablePrefix("the quick brown fox")
	if p1.Stable != "" {
		t.Fatalf("first transcript (below stability threshold) should have empty stable, got %q", p1.Stable)
	}

	p2 := r.applyStablePrefix("the quick brown fox jumps")
	if p2.Stable != "the quick brown" {
		t.Fatalf("got stable %q, want %q", p2.Stable, "the quick brown")
	}
}

func TestStablePrefixOnlyGrows(t *testing.T) {
	r := New(nil, Events{})
	r.applyStablePrefix("hello world")
	r.applyStablePrefix("hello world today")
	first := r.stablePrefix

	// A divergent transcript whose common prefix with the prior one is shorter
	// must not shrink the already-established stable prefix.
	r.applyStablePrefix("hello")
	if r.stablePrefix != first {
		t.Fatalf("stable prefix must never shrink: was %q, now %q", first, r.stablePrefix)
	}
}

func TestLongestCommonPrefix(t *testing.T) {
	got := longestCommonPrefix([]string{"the quick brown", "the quick brown fox"})
	if got != "the quick brown" {
		t.Fatalf("got %q", got)
	}
}
