// Package ui renders speech progress in the terminal: a voice orb that
// follows the output volume and a transcript of what has been spoken.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/speakstream/internal/tts"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
)

// Source is the coordinator state the UI polls.
type Source interface {
	IsPlaying() bool
	VolumeLevel() float64
	Pending() string
	InFlight() int
	Idle() bool
	Events() <-chan tts.Event
	Stop()
}

// InputDoneMsg tells the UI that no more text will arrive. The program
// exits once the remaining speech has played.
type InputDoneMsg struct {
	Err error
}

type (
	tickMsg         time.Time
	eventMsg        tts.Event
	eventsClosedMsg struct{}
)

const (
	headerHeight = 2*orbRadius + 1 + 4
	footerHeight = 1
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EE6FF8"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8E8E8E", Dark: "#747373"})
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B2B2B2", Dark: "#4A4A4A"})
)

type model struct {
	cfg Config
	src Source

	spinner  spinner.Model
	volume   progress.Model
	viewport viewport.Model
	renderer *glamour.TermRenderer

	width  int
	height int

	mode  Mode
	level float64
	frame int

	transcript []string
	spoken     int
	skipped    int
	lastErr    error
	notice     string
	inputDone  bool
}

// NewProgram returns a bubbletea program showing src.
func NewProgram(cfg Config, src Source) *tea.Program {
	return tea.NewProgram(newModel(cfg, src), tea.WithAltScreen())
}

func newModel(cfg Config, src Source) model {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}

	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(thinkingColor)),
	)

	return model{
		cfg:      cfg,
		src:      src,
		spinner:  sp,
		volume:   progress.New(progress.WithGradient("#5A56E0", "#EE6FF8"), progress.WithoutPercentage()),
		viewport: viewport.New(0, 0),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick(m.cfg.TickInterval), waitForEvent(m.src.Events()))
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForEvent(events <-chan tts.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.setSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.src.Stop()
			return m, tea.Quit
		case "s", "esc":
			m.src.Stop()
			m.notice = "stopped"
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tickMsg:
		m.level = m.src.VolumeLevel()
		m.mode = ModeFor(m.src.IsPlaying(), m.src.Pending(), m.src.InFlight())
		m.frame++
		if m.inputDone && m.src.Idle() {
			return m, tea.Quit
		}
		return m, tick(m.cfg.TickInterval)

	case eventMsg:
		m.handleEvent(tts.Event(msg))
		return m, waitForEvent(m.src.Events())

	case eventsClosedMsg:
		return m, tea.Quit

	case InputDoneMsg:
		m.inputDone = true
		if msg.Err != nil {
			m.lastErr = msg.Err
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *model) handleEvent(ev tts.Event) {
	log.Debug("event", "kind", ev.Kind, "session", ev.Session, "seq", ev.Sequence)

	switch ev.Kind {
	case tts.EventSegmentStarted:
		m.notice = ""
		m.transcript = append(m.transcript, ev.Text)
		m.refreshTranscript()
	case tts.EventSegmentDone:
		m.spoken++
	case tts.EventSegmentFailed:
		m.skipped++
		m.lastErr = ev.Err
	case tts.EventStopped:
		m.notice = "stopped"
	}
}

func (m *model) setSize(w, h int) {
	m.width = w
	m.height = h

	m.viewport.Width = m.transcriptWidth()
	m.viewport.Height = max(1, h-headerHeight-footerHeight)
	m.volume.Width = max(10, min(40, w-20))

	m.renderer = nil
	if m.cfg.GlamourEnabled {
		r, err := glamour.NewTermRenderer(
			glamourStyle(m.cfg.GlamourStyle),
			glamour.WithWordWrap(m.viewport.Width),
		)
		if err != nil {
			log.Error("error creating glamour renderer", "error", err)
		} else {
			m.renderer = r
		}
	}
	m.refreshTranscript()
}

func (m model) transcriptWidth() int {
	w := m.width
	if m.cfg.Width > 0 && m.cfg.Width < w {
		w = m.cfg.Width
	}
	return max(1, w)
}

func glamourStyle(style string) glamour.TermRendererOption {
	if style == styles.AutoStyle {
		return glamour.WithAutoStyle()
	}
	return glamour.WithStylePath(style)
}

// refreshTranscript re-renders everything spoken so far into the viewport.
func (m *model) refreshTranscript() {
	text := strings.Join(m.transcript, "\n\n")

	content := wordwrap.String(text, m.transcriptWidth())
	if m.renderer != nil {
		out, err := m.renderer.Render(text)
		if err != nil {
			log.Debug("cannot render transcript", "error", err)
		} else {
			content = out
		}
	}

	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
}

func (m model) View() string {
	var b strings.Builder

	title := m.cfg.Title
	if title == "" {
		title = "speakstream"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	b.WriteString(lipgloss.PlaceHorizontal(m.width, lipgloss.Center, renderOrb(m.mode, m.level, m.frame)))
	b.WriteString("\n\n")
	b.WriteString(m.statusView())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("s stop • ↑/↓ scroll • q quit"))

	return b.String()
}

func (m model) statusView() string {
	var status string
	switch m.mode {
	case ModeThinking:
		status = m.spinner.View() + " thinking"
	case ModeSpeaking:
		status = "speaking " + m.volume.ViewAs(m.level)
	default:
		status = "idle"
		if m.notice != "" {
			status = m.notice
		}
	}

	counts := fmt.Sprintf("  %d spoken", m.spoken)
	if m.skipped > 0 {
		counts += fmt.Sprintf(", %d skipped", m.skipped)
	}
	status += statusStyle.Render(counts)

	if m.lastErr != nil && m.width > 20 {
		msg := truncate.StringWithTail(m.lastErr.Error(), uint(m.width-20), "…")
		status += "  " + errorStyle.Render(msg)
	}
	return status
}
