package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgnsrekt/speakstream/internal/textstream"
	"github.com/spf13/cobra"
)

var sayCmd = &cobra.Command{
	Use:     "say TEXT...",
	Short:   "Speak a piece of text once",
	Long:    paragraph(fmt.Sprintf("\n%s the arguments as one utterance, without streaming.", keyword("Say"))),
	Example: paragraph("speakstream say 'Hello there.'"),
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		return speakWith(cmd.Context(), "say", func(_ context.Context, s textstream.Speaker) error {
			return s.Play(text)
		})
	},
}
