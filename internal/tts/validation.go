package tts

import (
	"strings"
	"unicode/utf8"
)

// MaxSegmentLength is the longest text, in runes, sent in one synthesis request.
// Longer segments are split at word boundaries into consecutive jobs.
const MaxSegmentLength = 2000

// ValidateText checks that text can be handed to the pipeline.
func ValidateText(text string) error {
	if !utf8.ValidString(text) {
		return NewTTSError(ErrorCodeInvalidInput, "text is not valid UTF-8", nil)
	}
	if strings.TrimSpace(text) == "" {
		return NewTTSError(ErrorCodeInvalidInput, "text is empty", nil)
	}
	return nil
}

// splitLong breaks text longer than max runes at word boundaries so no
// request exceeds the synthesizer limit. Shorter text is returned as is.
func splitLong(text string, max int) []string {
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var parts []string
	var cur strings.Builder
	count := 0
	for _, word := range strings.Fields(text) {
		wl := utf8.RuneCountInString(word)
		if count > 0 && count+1+wl > max {
			parts = append(parts, cur.String())
			cur.Reset()
			count = 0
		}
		for wl > max {
			// A single word longer than max is cut hard.
			r := []rune(word)
			parts = append(parts, string(r[:max]))
			word = string(r[max:])
			wl = len(r) - max
		}
		if count > 0 {
			cur.WriteByte(' ')
			count++
		}
		cur.WriteString(word)
		count += wl
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
