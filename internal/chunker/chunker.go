// Package chunker splits an incrementally arriving text stream into
// speakable phrase chunks: long enough to be worth a TTS round trip, short
// enough for low latency, and never mid-sentence, mid-code-block, mid-URL,
// or mid-abbreviation.
package chunker

import (
	"strings"
)

const (
	// MinWords is the minimum word count for a candidate split to be emitted.
	MinWords = 4
	// MaxChars is the hard upper bound on a chunk before a forced split.
	MaxChars = 200
)

var abbreviations = map[string]bool{
	"mr.": true, "mrs.": true, "ms.": true, "dr.": true, "prof.": true,
	"sr.": true, "jr.": true, "e.g.": true, "i.e.": true, "etc.": true,
	"vs.": true, "approx.": true, "dept.": true, "est.": true, "inc.": true,
	"ltd.": true, "st.": true, "ave.": true, "blvd.": true,
}

// Chunk is one unit of speakable output.
type Chunk struct {
	Text  string
	Index int
}

// Chunker accumulates streamed text and incrementally emits [Chunk]s.
type Chunker struct {
	buffer     strings.Builder
	chunkIndex int
}

// New creates an empty chunker.
func New() *Chunker {
	return &Chunker{}
}

// Feed appends text to the buffer and returns any newly completed chunks.
// If isFinal is true, any remaining buffered text is emitted as a final chunk.
func (c *Chunker) Feed(text string, isFinal bool) []Chunk {
	c.buffer.WriteString(text)
	var chunks []Chunk

	buf := c.buffer.String()
	if hasUnclosedCodeFence(buf) {
		if isFinal {
			chunks = append(chunks, c.flushRemainder(buf)...)
		}
		return chunks
	}

	searchFrom := 0
	for {
		split, ok := findSplit(buf, searchFrom)
		if !ok {
			break
		}

		candidate := strings.TrimSpace(buf[:split])
		if wordCount(candidate) >= MinWords {
			chunks = append(chunks, Chunk{Text: candidate, Index: c.chunkIndex})
			c.chunkIndex++
			buf = buf[split:]
			searchFrom = 0
			continue
		}

		// Too short (e.g. "Sure!"). Don't consume it; search past this
		// boundary for a later split that produces a long-enough chunk.
		// This is the guard against the classic infinite loop where the
		// short candidate is extracted, put back, extracted again.
		searchFrom = split
		if searchFrom >= len(buf) {
			break
		}
	}

	c.buffer.Reset()
	c.buffer.WriteString(buf)

	if isFinal {
		remainder := strings.TrimSpace(c.buffer.String())
		if remainder != "" {
			chunks = append(chunks, Chunk{Text: remainder, Index: c.chunkIndex})
			c.chunkIndex++
		}
		c.buffer.Reset()
	}

	return chunks
}

// Reset clears the buffer and chunk index.
func (c *Chunker) Reset() {
	c.buffer.Reset()
	c.chunkIndex = 0
}

func (c *Chunker) flushRemainder(buf string) []Chunk {
	remainder := strings.TrimSpace(buf)
	c.buffer.Reset()
	if remainder == "" {
		return nil
	}
	chunk := Chunk{Text: remainder, Index: c.chunkIndex}
	c.chunkIndex++
	return []Chunk{chunk}
}

func hasUnclosedCodeFence(buf string) bool {
	return strings.Count(buf, "```")%2 == 1
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

var sentenceEnders = map[byte]bool{'.': true, '!': true, '?': true}
var pauseChars = map[byte]bool{',': true, ';': true, ':': true}

// findSplit locates the next split point in buf at or after searchFrom,
// trying the sentence-terminator, pause-character, and force-split rules
// in that order.
func findSplit(buf string, searchFrom int) (int, bool) {
	if idx, ok := findSentenceSplit(buf, searchFrom); ok {
		return idx, true
	}
	if len(buf) > 100 {
		if idx, ok := findPauseSplit(buf, searchFrom); ok {
			return idx, true
		}
	}
	if len(buf) > MaxChars {
		return forceSplit(buf), true
	}
	return 0, false
}

// findSentenceSplit scans for a sentence terminator that is not inside a
// URL segment, not a numbered-list marker, and not an abbreviation's period.
func findSentenceSplit(buf string, from int) (int, bool) {
	n := len(buf)
	for i := from; i < n; i++ {
		ch := buf[i]
		if ch == '.' && i+2 < n && buf[i+1] == '.' && buf[i+2] == '.' {
			// ellipsis "..." counts as one terminator ending at i+3.
			end := i + 3
			if isInsideURL(buf, i) {
				i = end - 1
				continue
			}
			after := skipTrailingQuotes(buf, end)
			if after >= n || isWhitespace(buf[after]) {
				return skipWhitespace(buf, after), true
			}
			i = end - 1
			continue
		}
		if !sentenceEnders[ch] {
			continue
		}
		if isInsideURL(buf, i) {
			continue
		}
		if isNumberedListMarker(buf, i) {
			continue
		}
		if ch == '.' && isAbbreviation(buf, i) {
			continue
		}

		after := skipTrailingQuotes(buf, i+1)
		if ch == '.' {
			if after >= n {
				if wordCount(strings.TrimSpace(buf[from:i+1])) >= MinWords {
					return skipWhitespace(buf, after), true
				}
				continue
			}
			if isWhitespace(buf[after]) {
				return skipWhitespace(buf, after), true
			}
			continue
		}
		// '!' or '?' only need end-of-buffer or trailing whitespace.
		if after >= n || isWhitespace(buf[after]) {
			return skipWhitespace(buf, after), true
		}
	}
	return 0, false
}

// emDash is the UTF-8 encoding of U+2014, the one multi-byte pause character.
const emDash = "—"

// findPauseSplit searches backward from min(len(buf), MaxChars)-1 for a
// pause character whose prefix has at least MinWords words.
func findPauseSplit(buf string, from int) (int, bool) {
	limit := len(buf)
	if limit > MaxChars {
		limit = MaxChars
	}
	for i := limit - 1; i >= from; i-- {
		end := i + 1
		if !pauseChars[buf[i]] {
			if i+len(emDash) > len(buf) || buf[i:i+len(emDash)] != emDash {
				continue
			}
			end = i + len(emDash)
		}
		prefix := strings.TrimSpace(buf[from:i])
		if wordCount(prefix) < MinWords {
			continue
		}
		after := skipWhitespace(buf, end)
		return after, true
	}
	return 0, false
}

// forceSplit splits at the last whitespace before MaxChars, or at MaxChars
// if no whitespace exists in range.
func forceSplit(buf string) int {
	limit := MaxChars
	if limit > len(buf) {
		limit = len(buf)
	}
	for i := limit - 1; i >= 0; i-- {
		if isWhitespace(buf[i]) {
			return i
		}
	}
	return limit
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\t' || ch == '\r'
}

func skipWhitespace(buf string, i int) int {
	for i < len(buf) && isWhitespace(buf[i]) {
		i++
	}
	return i
}

func skipTrailingQuotes(buf string, i int) int {
	closers := "\"')”"
	for i < len(buf) && strings.IndexByte(closers, buf[i]) >= 0 {
		i++
	}
	return i
}

// isInsideURL reports whether position i falls between "http(s)://" and the
// next whitespace. The check walks backward for the literal substring
// "http", so a sentence ending with the bare word "http" is also treated
// as a URL. Callers depend on that exact behavior.
func isInsideURL(buf string, i int) bool {
	start := i
	for start >= 0 && !isWhitespace(buf[start]) {
		start--
	}
	start++
	segment := buf[start:min(i+1, len(buf))]
	return strings.Contains(segment, "http")
}

// isNumberedListMarker reports whether the period at i terminates a
// "<digits>." list marker (e.g. "1." or "12.").
func isNumberedListMarker(buf string, i int) bool {
	if buf[i] != '.' {
		return false
	}
	j := i - 1
	digits := 0
	for j >= 0 && buf[j] >= '0' && buf[j] <= '9' {
		j--
		digits++
	}
	return digits > 0
}

func isAbbreviation(buf string, periodIdx int) bool {
	start := periodIdx
	for start > 0 && !isWhitespace(buf[start-1]) {
		start--
	}
	word := strings.ToLower(buf[start : periodIdx+1])
	return abbreviations[word]
}
