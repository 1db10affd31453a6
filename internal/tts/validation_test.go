package tts

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestValidateText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{name: "Valid", text: "Hello there."},
		{name: "Unicode", text: "Grüße aus Köln."},
		{name: "Empty", text: "", wantErr: true},
		{name: "Whitespace only", text: " \n\t", wantErr: true},
		{name: "Invalid UTF-8", text: "bad \xff byte", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateText(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateText() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var te *TTSError
				if !errors.As(err, &te) || te.Code != ErrorCodeInvalidInput {
					t.Errorf("expected INVALID_INPUT, got %v", err)
				}
			}
		})
	}
}

func TestSplitLong(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{
			name: "Short text untouched",
			text: "hi there",
			max:  10,
			want: []string{"hi there"},
		},
		{
			name: "Split at word boundaries",
			text: "one two three four",
			max:  9,
			want: []string{"one two", "three", "four"},
		},
		{
			name: "Overlong word cut hard",
			text: "abcdefghij xy",
			max:  4,
			want: []string{"abcd", "efgh", "ij", "xy"},
		},
		{
			name: "Runes not bytes",
			text: "ää ää ää",
			max:  5,
			want: []string{"ää ää", "ää"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitLong(tt.text, tt.max)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitLong(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
			}
		})
	}
}

func TestSplitLong_RespectsLimit(t *testing.T) {
	text := strings.Repeat("word ", MaxSegmentLength)
	parts := splitLong(text, MaxSegmentLength)
	if len(parts) < 2 {
		t.Fatalf("expected several parts, got %d", len(parts))
	}
	for i, p := range parts {
		if n := utf8.RuneCountInString(p); n > MaxSegmentLength {
			t.Errorf("part %d has %d runes", i, n)
		}
	}
	if got := strings.Join(parts, " "); got != strings.TrimSpace(text) {
		t.Error("rejoined parts differ from input")
	}
}
