// Package ttypes contains shared types and interfaces for the speech pipeline.
// This package is used to break import cycles between tts, engines, audio, and queue packages.
package ttypes

import (
	"context"
	"time"
)

// JobState represents where a synthesis job is in its lifecycle.
type JobState int

const (
	// JobPending indicates the job has a sequence number but no request yet
	JobPending JobState = iota

	// JobFetching indicates synthesis is in flight
	JobFetching

	// JobDecoded indicates a playable buffer is waiting in the ready buffer
	JobDecoded

	// JobPlaying indicates the buffer is on the output device
	JobPlaying

	// JobDone indicates playback finished naturally
	JobDone

	// JobCancelled indicates the job failed or produced nothing to play
	JobCancelled
)

// String returns the string representation of the job state
func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobFetching:
		return "fetching"
	case JobDecoded:
		return "decoded"
	case JobPlaying:
		return "playing"
	case JobDone:
		return "done"
	case JobCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Segment is a contiguous span of text judged complete enough to synthesize.
type Segment struct {
	Text string
}

// Job is one segment's trip from text to audible sound.
// Sequence is unique within a session and assigned at emission.
type Job struct {
	Sequence uint64
	Session  uint64
	Text     string
	State    JobState
	Buffer   *SampleBuffer

	// DispatchedAt is when the job left the segmenter.
	DispatchedAt time.Time
}

// SampleBuffer holds decoded PCM audio as interleaved float32 samples in [-1, 1].
type SampleBuffer struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// Frames returns the number of sample frames in the buffer.
func (b *SampleBuffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b *SampleBuffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Synthesizer turns text into encoded audio bytes (MP3 or WAV).
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Decoder turns encoded audio bytes into a playable buffer.
type Decoder interface {
	Decode(data []byte) (*SampleBuffer, error)
}

// Device is an audio output that plays one buffer at a time.
type Device interface {
	// Start begins playing buf and returns a handle to the running source.
	Start(buf *SampleBuffer) (Source, error)

	// Close releases the output device.
	Close() error
}

// Source is one buffer playing on a Device.
type Source interface {
	// Done is closed when the source has finished, naturally or by Stop.
	Done() <-chan struct{}

	// Stop halts the source. It does not wait for observers of Done.
	Stop()

	// Window copies the most recently audible mono samples into dst and
	// returns how many were written.
	Window(dst []float64) int
}

// AudioCache defines the interface for caching synthesized audio.
type AudioCache interface {
	Get(key string) ([]byte, bool)
	Put(key string, audio []byte) error
	Size() int64
	Clear() error
}
