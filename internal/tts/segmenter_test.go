package tts

import (
	"reflect"
	"testing"
)

func texts(t *testing.T, s *Segmenter, chunks ...string) []string {
	t.Helper()
	var out []string
	for _, c := range chunks {
		for _, seg := range s.Feed(c) {
			out = append(out, seg.Text)
		}
	}
	return out
}

func TestSegmenter_Feed(t *testing.T) {
	tests := []struct {
		name        string
		chunks      []string
		want        []string
		wantPending string
	}{
		{
			name:        "Partial sentence stays buffered",
			chunks:      []string{"Hello world. How are"},
			want:        []string{"Hello world."},
			wantPending: "How are",
		},
		{
			name:        "Sentence completed across chunks",
			chunks:      []string{"Hello wor", "ld. How are", " you? I am fine"},
			want:        []string{"Hello world.", "How are you?"},
			wantPending: "I am fine",
		},
		{
			name:   "Terminator at end of buffer is a boundary",
			chunks: []string{"Done."},
			want:   []string{"Done."},
		},
		{
			name:   "Runs of terminators",
			chunks: []string{"Wait... what?! Really."},
			want:   []string{"Wait...", "what?!", "Really."},
		},
		{
			name:        "Decimal point is not a boundary",
			chunks:      []string{"Pi is 3.14 roughly. Next"},
			want:        []string{"Pi is 3.14 roughly."},
			wantPending: "Next",
		},
		{
			name:   "Newline boundary",
			chunks: []string{"Line one.\nLine two!\n"},
			want:   []string{"Line one.", "Line two!"},
		},
		{
			name:        "No terminator",
			chunks:      []string{"just some words"},
			wantPending: "just some words",
		},
		{
			name:   "Leading whitespace trimmed",
			chunks: []string{"   Hi. "},
			want:   []string{"Hi."},
		},
		{
			name:        "Terminator followed by letter waits",
			chunks:      []string{"see example.com for"},
			wantPending: "see example.com for",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSegmenter()
			got := texts(t, s, tt.chunks...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("segments = %q, want %q", got, tt.want)
			}
			if s.Pending() != tt.wantPending {
				t.Errorf("pending = %q, want %q", s.Pending(), tt.wantPending)
			}
		})
	}
}

func TestSegmenter_TokenStream(t *testing.T) {
	// Model output arrives a few characters at a time.
	stream := "The quick brown fox. It jumped over the dog! Did it? Yes"
	s := NewSegmenter()

	var got []string
	for i := 0; i < len(stream); i += 3 {
		end := min(i+3, len(stream))
		for _, seg := range s.Feed(stream[i:end]) {
			got = append(got, seg.Text)
		}
	}

	want := []string{"The quick brown fox.", "It jumped over the dog!", "Did it?"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("segments = %q, want %q", got, want)
	}

	seg, ok := s.ForceFlush()
	if !ok || seg.Text != "Yes" {
		t.Errorf("ForceFlush() = %q, %v; want \"Yes\", true", seg.Text, ok)
	}
}

func TestSegmenter_ForceFlush(t *testing.T) {
	s := NewSegmenter()
	s.Feed("  trailing words  ")

	seg, ok := s.ForceFlush()
	if !ok {
		t.Fatal("expected a segment")
	}
	if seg.Text != "trailing words" {
		t.Errorf("got %q, want %q", seg.Text, "trailing words")
	}

	// Second flush finds nothing.
	if seg, ok := s.ForceFlush(); ok {
		t.Errorf("second flush returned %q", seg.Text)
	}

	s.Feed(" \n\t ")
	if _, ok := s.ForceFlush(); ok {
		t.Error("whitespace-only buffer should not flush")
	}
	if s.Pending() != "" {
		t.Errorf("pending = %q after flush", s.Pending())
	}
}

func TestSegmenter_Reset(t *testing.T) {
	s := NewSegmenter()
	s.Feed("half a sent")
	s.Reset()

	if got := texts(t, s, "ence. "); !reflect.DeepEqual(got, []string{"ence."}) {
		t.Errorf("after reset got %q", got)
	}
}

func TestSegmenter_Restore(t *testing.T) {
	s := NewSegmenter()
	before := s.Pending()
	if got := texts(t, s, "Lost. Kept"); !reflect.DeepEqual(got, []string{"Lost."}) {
		t.Fatalf("got %q", got)
	}
	s.Restore(before + "Lost. Kept")

	if got := texts(t, s, " going. "); !reflect.DeepEqual(got, []string{"Lost.", "Kept going."}) {
		t.Errorf("after restore got %q", got)
	}
}
