package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/dgnsrekt/speakstream/internal/tts"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
)

// Transcript prints segments as they start playing, for when there is no
// TUI.
type Transcript struct {
	w     io.Writer
	width int
	skip  lipgloss.Style
}

// NewTranscript writes to w, wrapping at width columns (zero disables wrapping).
func NewTranscript(w io.Writer, width int) *Transcript {
	return &Transcript{
		w:     w,
		width: width,
		skip:  statusStyle,
	}
}

// Handle prints what ev means for the listener.
func (t *Transcript) Handle(ev tts.Event) error {
	var out string
	switch ev.Kind {
	case tts.EventSegmentStarted:
		out = ev.Text
		if t.width > 0 {
			out = wordwrap.String(out, t.width)
		}
	case tts.EventSegmentFailed:
		out = t.skip.Render(fmt.Sprintf("(skipped: %v)", ev.Err))
		out = indent.String(out, 2)
	case tts.EventStopped:
		out = t.skip.Render("(stopped)")
	default:
		return nil
	}

	_, err := fmt.Fprintln(t.w, out)
	return err
}
