package tts

import (
	"regexp"
	"strings"

	"github.com/dgnsrekt/speakstream/internal/ttypes"
)

// sentenceBoundary matches one or more non-terminator characters, one or more
// terminators, then whitespace or the end of the buffer.
var sentenceBoundary = regexp.MustCompile(`([^.!?]+[.!?]+)(\s|$)`)

// Segmenter accumulates streamed text and cuts it into sentences as soon
// as a boundary appears. It is not safe for concurrent use.
type Segmenter struct {
	buf strings.Builder
}

// NewSegmenter creates an empty segmenter.
func NewSegmenter() *Segmenter {
	return &Segmenter{}
}

// Feed appends chunk and returns every complete sentence now in the buffer,
// in order. Text after the last boundary stays buffered.
func (s *Segmenter) Feed(chunk string) []ttypes.Segment {
	s.buf.WriteString(chunk)
	pending := s.buf.String()

	var out []ttypes.Segment
	for {
		m := sentenceBoundary.FindStringSubmatchIndex(pending)
		if m == nil {
			break
		}

		// Everything up to the end of the terminators belongs to this
		// sentence; the single boundary character is consumed.
		text := strings.TrimSpace(pending[:m[3]])
		pending = pending[m[1]:]

		if text != "" {
			out = append(out, ttypes.Segment{Text: text})
		}
	}

	s.buf.Reset()
	s.buf.WriteString(pending)
	return out
}

// ForceFlush returns whatever remains as one segment and empties the buffer.
// It reports false when nothing but whitespace was pending.
func (s *Segmenter) ForceFlush() (ttypes.Segment, bool) {
	text := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	if text == "" {
		return ttypes.Segment{}, false
	}
	return ttypes.Segment{Text: text}, true
}

// Pending returns the buffered text that has not formed a sentence yet.
func (s *Segmenter) Pending() string {
	return s.buf.String()
}

// Restore replaces the buffer with text, undoing a Feed or ForceFlush whose
// segments could not be dispatched.
func (s *Segmenter) Restore(text string) {
	s.buf.Reset()
	s.buf.WriteString(text)
}

// Reset drops buffered text.
func (s *Segmenter) Reset() {
	s.buf.Reset()
}
