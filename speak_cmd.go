package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/speakstream/internal/textstream"
	"github.com/dgnsrekt/speakstream/internal/tts"
	"github.com/dgnsrekt/speakstream/ui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	follow    bool
	fromStart bool
	tui       bool

	speakCmd = &cobra.Command{
		Use:   "speak [FILE|-]",
		Short: "Speak text as it is streamed in",
		Long: paragraph(fmt.Sprintf("\n%s text from a file or standard input, a word at a time, the way a model streams its reply. With --follow, keep speaking whatever is appended to the file.", keyword("Speak"))),
		Example: paragraph("llm 'tell me a story' | speakstream speak\nspeakstream speak --follow reply.md --tui"),
		Args:    cobra.MaximumNArgs(1),
		RunE:    runSpeak,
	}
)

// feeder pushes text into the coordinator until its input ends.
type feeder func(ctx context.Context, s textstream.Speaker) error

func runSpeak(cmd *cobra.Command, args []string) error {
	arg := "-"
	if len(args) == 1 {
		arg = args[0]
	}
	if follow && arg == "-" {
		return errors.New("--follow needs a file")
	}

	var feed feeder
	title := "stdin"
	switch {
	case follow:
		title = filepath.Base(arg)
		feed = func(ctx context.Context, s textstream.Speaker) error {
			err := textstream.Follow(ctx, arg, s, textstream.FollowOptions{
				Idle:      cfg.Speech.FollowIdle,
				FromStart: fromStart,
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	case arg == "-":
		feed = replay(os.Stdin)
	default:
		f, err := os.Open(arg)
		if err != nil {
			return fmt.Errorf("unable to open file: %w", err)
		}
		defer f.Close() //nolint:errcheck
		title = filepath.Base(arg)
		feed = replay(f)
	}

	return speakWith(cmd.Context(), title, feed)
}

func replay(r io.Reader) feeder {
	return func(ctx context.Context, s textstream.Speaker) error {
		return textstream.Replay(ctx, r, s, cfg.Speech.TokenDelay)
	}
}

// speakWith runs feed against a fresh pipeline and waits for the speech to
// finish, in the TUI or as a printed transcript.
func speakWith(parent context.Context, title string, feed feeder) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sp, err := newSpeech(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sp.Close(); err != nil {
			log.Error("closing speech", "err", err)
		}
	}()

	if tui {
		return runTUI(ctx, title, sp.coord, feed)
	}

	input := make(chan error, 1)
	go func() { input <- feed(ctx, sp.coord) }()
	return waitSpoken(ctx, sp.coord, ui.NewTranscript(os.Stdout, int(width)), input) //nolint:gosec
}

func runTUI(ctx context.Context, title string, c *tts.Coordinator, feed feeder) error {
	uiCfg, err := uiConfig(title)
	if err != nil {
		return err
	}

	p := ui.NewProgram(uiCfg, c)
	go func() {
		err := feed(ctx, c)
		p.Send(ui.InputDoneMsg{Err: err})
	}()
	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

// waitSpoken prints the transcript until input has ended and everything
// dispatched has played, or until ctx is cancelled.
func waitSpoken(ctx context.Context, c *tts.Coordinator, tr *ui.Transcript, input <-chan error) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	events := c.Events()
	inputDone := false
	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return nil

		case err := <-input:
			if err != nil && !errors.Is(err, context.Canceled) {
				c.Stop()
				return err
			}
			inputDone = true
			input = nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := tr.Handle(ev); err != nil {
				return err
			}

		case <-ticker.C:
			if inputDone && c.Idle() {
				return drainEvents(events, tr)
			}
		}
	}
}

func drainEvents(events <-chan tts.Event, tr *ui.Transcript) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := tr.Handle(ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// addSpeakFlags registers the speak flags on cmd and binds the tunable ones
// to their config keys in v.
func addSpeakFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep speaking text appended to FILE")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "with --follow, speak the existing content first")
	cmd.Flags().BoolVarP(&tui, "tui", "t", false, "show the voice orb instead of a plain transcript")
	cmd.Flags().Duration("token-delay", 0, "pause between streamed words; when unset, speech.token_delay applies, and 0 feeds input as it is read")
	cmd.Flags().Duration("idle", 0, "with --follow, speak a pending half sentence after this long without writes; when unset, speech.follow_idle applies")

	_ = v.BindPFlag("speech.token_delay", cmd.Flags().Lookup("token-delay"))
	_ = v.BindPFlag("speech.follow_idle", cmd.Flags().Lookup("idle"))
}

func init() {
	addSpeakFlags(speakCmd, viper.GetViper())
}
