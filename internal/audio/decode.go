package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dgnsrekt/speakstream/internal/ttypes"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

var (
	// ErrEmptyAudio is returned when there are no bytes to decode
	ErrEmptyAudio = errors.New("audio data is empty")

	// ErrUnsupportedFormat is returned for encodings the decoder cannot read
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// wavFormatPCM is the WAVE_FORMAT_PCM format tag.
const wavFormatPCM = 1

// Decoder turns MP3 or WAV bytes into a SampleBuffer.
// The container is detected from the data, not from a declared type.
type Decoder struct{}

// NewDecoder creates a new decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode implements ttypes.Decoder.
func (d *Decoder) Decode(data []byte) (*ttypes.SampleBuffer, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	if isWAV(data) {
		return decodeWAV(data)
	}
	return decodeMP3(data)
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// decodeMP3 decodes to 16-bit little endian stereo, which is what go-mp3 always emits.
func decodeMP3(data []byte) (*ttypes.SampleBuffer, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	if len(pcm) < 4 {
		return nil, fmt.Errorf("mp3: %w", ErrEmptyAudio)
	}

	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / 32768
	}

	return &ttypes.SampleBuffer{
		SampleRate: dec.SampleRate(),
		Channels:   2,
		Samples:    samples,
	}, nil
}

func decodeWAV(data []byte) (*ttypes.SampleBuffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wav: %w", ErrUnsupportedFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav: %w", err)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("wav: format tag %d: %w", dec.WavAudioFormat, ErrUnsupportedFormat)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("wav: %w", ErrEmptyAudio)
	}

	depth := int(dec.BitDepth)
	var offset, scale float64
	switch depth {
	case 8:
		offset, scale = 128, 128
	case 16, 24, 32:
		scale = float64(int64(1) << (depth - 1))
	default:
		return nil, fmt.Errorf("wav: %d-bit samples: %w", depth, ErrUnsupportedFormat)
	}

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32((float64(v) - offset) / scale)
	}

	return &ttypes.SampleBuffer{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		Samples:    samples,
	}, nil
}

// Convert resamples and remixes buf to the given output format.
// Rate conversion is linear interpolation; channel conversion averages to
// mono or duplicates mono across all outputs.
func Convert(buf *ttypes.SampleBuffer, sampleRate, channels int) *ttypes.SampleBuffer {
	if buf.SampleRate == sampleRate && buf.Channels == channels {
		return buf
	}

	// Stereo keeps its image when only the rate differs.
	if buf.Channels == 2 && channels == 2 {
		left, right := split(buf)
		left = resample(left, buf.SampleRate, sampleRate)
		right = resample(right, buf.SampleRate, sampleRate)
		out := make([]float32, 0, len(left)*2)
		for i := range left {
			out = append(out, left[i], right[i])
		}
		return &ttypes.SampleBuffer{SampleRate: sampleRate, Channels: 2, Samples: out}
	}

	mono := resample(mixdown(buf), buf.SampleRate, sampleRate)
	out := make([]float32, len(mono)*channels)
	for i, s := range mono {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
	return &ttypes.SampleBuffer{SampleRate: sampleRate, Channels: channels, Samples: out}
}

func mixdown(buf *ttypes.SampleBuffer) []float32 {
	if buf.Channels <= 1 {
		return buf.Samples
	}
	frames := buf.Frames()
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < buf.Channels; c++ {
			sum += buf.Samples[i*buf.Channels+c]
		}
		mono[i] = sum / float32(buf.Channels)
	}
	return mono
}

func split(buf *ttypes.SampleBuffer) (left, right []float32) {
	frames := buf.Frames()
	left = make([]float32, frames)
	right = make([]float32, frames)
	for i := 0; i < frames; i++ {
		left[i] = buf.Samples[i*2]
		right[i] = buf.Samples[i*2+1]
	}
	return left, right
}

func resample(in []float32, from, to int) []float32 {
	if from == to || from <= 0 || len(in) == 0 {
		return in
	}

	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}
