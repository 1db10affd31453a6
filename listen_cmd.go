package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/speakstream/internal/textstream"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Speak text published on NATS",
	Long: paragraph(fmt.Sprintf("\n%s on NATS for streamed text. Publish chunks to PREFIX.chunk, then PREFIX.flush at the end of a reply; PREFIX.say interrupts with new text and PREFIX.stop silences everything.", keyword("Listen"))),
	Example: paragraph("speakstream listen --nats-url nats://127.0.0.1:4222 --prefix assistant\nnats pub assistant.chunk 'Hello there. '"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return speakWith(cmd.Context(), cfg.NATS.Prefix, listen)
	},
}

// listen relays NATS messages to s until ctx is cancelled.
func listen(ctx context.Context, s textstream.Speaker) error {
	conn, err := textstream.Connect(cfg.NATS.URL, log.Default())
	if err != nil {
		return err
	}
	defer conn.Close()

	l := textstream.NewListener(cfg.NATS.Prefix, s, log.Default())
	if err := l.Start(conn); err != nil {
		return err
	}

	<-ctx.Done()
	if err := l.Close(); err != nil {
		log.Warn("draining subscription", "err", err)
	}
	return nil
}

func init() {
	listenCmd.Flags().String("nats-url", "", "NATS server URL")
	listenCmd.Flags().String("prefix", "", "subject prefix")

	_ = viper.BindPFlag("nats.url", listenCmd.Flags().Lookup("nats-url"))
	_ = viper.BindPFlag("nats.prefix", listenCmd.Flags().Lookup("prefix"))
}
