// Package textstream feeds text from outside sources (a reader, a followed
// file, a NATS subject) into a speech coordinator as it arrives.
package textstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"
	"unicode/utf8"
)

// Speaker is the part of the coordinator that text sources drive.
type Speaker interface {
	SpeakStream(chunk string) error
	Flush() error
	Play(text string) error
	Stop()
}

// token is a word with its trailing whitespace, roughly what a model emits.
var token = regexp.MustCompile(`\s*\S+\s*`)

// Tokens splits text into word-sized chunks that concatenate back to text.
func Tokens(text string) []string {
	if text == "" {
		return nil
	}
	toks := token.FindAllString(text, -1)
	if toks == nil {
		// Whitespace only; it may still complete a sentence boundary.
		return []string{text}
	}
	return toks
}

// Replay reads r until EOF and feeds everything to s, then flushes.
// With a positive delay, text is fed one token at a time with that pause
// in between, imitating a model streaming its reply.
func Replay(ctx context.Context, r io.Reader, s Speaker, delay time.Duration) error {
	buf := make([]byte, 4096)
	var carry []byte

	for {
		n, err := r.Read(buf)
		if n > 0 {
			var text string
			text, carry = splitValid(append(carry, buf[:n]...))
			if ferr := feed(ctx, s, text, delay); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("unable to read input: %w", err)
		}
	}

	if len(carry) > 0 {
		if err := feed(ctx, s, string(carry), 0); err != nil {
			return err
		}
	}
	return s.Flush()
}

func feed(ctx context.Context, s Speaker, text string, delay time.Duration) error {
	if text == "" {
		return nil
	}
	if delay <= 0 {
		return s.SpeakStream(text)
	}

	for _, tok := range Tokens(text) {
		if err := s.SpeakStream(tok); err != nil {
			return err
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// splitValid returns the longest prefix of b that does not end inside a
// multi-byte rune, and the incomplete remainder.
func splitValid(b []byte) (string, []byte) {
	end := len(b)
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if !utf8.RuneStart(c) {
			continue
		}
		if !utf8.FullRune(b[len(b)-i:]) {
			end = len(b) - i
		}
		break
	}
	rest := append([]byte(nil), b[end:]...)
	return string(b[:end]), rest
}
