package ui

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Mode is what the orb is showing.
type Mode int

const (
	// ModeIdle means nothing is queued or playing
	ModeIdle Mode = iota

	// ModeThinking means text is arriving but nothing is audible yet
	ModeThinking

	// ModeSpeaking means audio is playing
	ModeSpeaking
)

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeThinking:
		return "thinking"
	case ModeSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// ModeFor derives the orb mode from the coordinator's state.
func ModeFor(playing bool, pending string, inflight int) Mode {
	switch {
	case playing:
		return ModeSpeaking
	case inflight > 0 || strings.TrimSpace(pending) != "":
		return ModeThinking
	default:
		return ModeIdle
	}
}

// orbRadius is the largest radius in rows.
const orbRadius = 5

var (
	idleColor     = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}
	thinkingColor = lipgloss.Color("#00AAFF")
	speakingColor = lipgloss.Color("#EE6FF8")
)

func orbColor(mode Mode) lipgloss.TerminalColor {
	switch mode {
	case ModeThinking:
		return thinkingColor
	case ModeSpeaking:
		return speakingColor
	default:
		return idleColor
	}
}

// orbSize returns the orb radius for a frame. Speaking follows the volume,
// thinking breathes, idle rests.
func orbSize(mode Mode, level float64, frame int) float64 {
	switch mode {
	case ModeSpeaking:
		level = math.Max(0, math.Min(1, level))
		return 2 + level*(orbRadius-2)
	case ModeThinking:
		return 2 + 0.5*math.Sin(float64(frame)/3)
	default:
		return 1.5
	}
}

// renderOrb draws the orb as a block of 2*orbRadius+1 lines.
func renderOrb(mode Mode, level float64, frame int) string {
	r := orbSize(mode, level, frame)

	lines := make([]string, 0, 2*orbRadius+1)
	var b strings.Builder
	for y := -orbRadius; y <= orbRadius; y++ {
		b.Reset()
		for x := -2 * orbRadius; x <= 2*orbRadius; x++ {
			// Cells are about twice as tall as they are wide.
			d := math.Hypot(float64(x)/2, float64(y))
			switch {
			case d <= r-1:
				b.WriteRune('●')
			case d <= r:
				b.WriteRune('•')
			default:
				b.WriteByte(' ')
			}
		}
		lines = append(lines, b.String())
	}

	return lipgloss.NewStyle().Foreground(orbColor(mode)).Render(strings.Join(lines, "\n"))
}
