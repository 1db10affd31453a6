package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/speakstream/internal/ttypes"
	"github.com/ebitengine/oto/v3"
)

// ErrDeviceClosed is returned when starting a source on a closed device.
var ErrDeviceClosed = errors.New("audio device is closed")

// bytesPerSample for oto.FormatFloat32LE.
const bytesPerSample = 4

// PlayerConfig contains configuration for the audio output device.
type PlayerConfig struct {
	SampleRate   int           // 44100 or 48000 Hz only
	Channels     int           // 1 = mono, 2 = stereo
	BufferSize   time.Duration // Device buffer; smaller means tighter metering
	PollInterval time.Duration // How often a source checks for natural end
}

// DefaultPlayerConfig returns the default device configuration.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate:   44100,
		Channels:     2,
		BufferSize:   50 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
}

// validateConfig validates the device configuration.
func validateConfig(config PlayerConfig) error {
	// OTO only supports specific sample rates reliably
	if config.SampleRate != 44100 && config.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", config.SampleRate)
	}

	if config.Channels != 1 && config.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", config.Channels)
	}

	if config.BufferSize < 0 {
		return errors.New("buffer size must not be negative")
	}

	if config.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}

	return nil
}

// oto allows a single context per process, so it is shared by every Player.
var (
	contextMu      sync.Mutex
	sharedContext  *oto.Context
	sharedSettings PlayerConfig
)

func acquireContext(config PlayerConfig) (*oto.Context, error) {
	contextMu.Lock()
	defer contextMu.Unlock()

	if sharedContext != nil {
		if sharedSettings.SampleRate != config.SampleRate || sharedSettings.Channels != config.Channels {
			return nil, fmt.Errorf("audio context already open at %d Hz/%d ch", sharedSettings.SampleRate, sharedSettings.Channels)
		}
		if err := sharedContext.Resume(); err != nil {
			return nil, fmt.Errorf("failed to resume audio context: %w", err)
		}
		return sharedContext, nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   config.SampleRate,
		ChannelCount: config.Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   config.BufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("audio context failed: %w", err)
	}

	sharedContext = ctx
	sharedSettings = config
	log.Debug("audio context ready", "rate", config.SampleRate, "channels", config.Channels)
	return ctx, nil
}

// Player is an oto-backed ttypes.Device. It plays one source at a time
// on the process-wide audio context.
type Player struct {
	config  PlayerConfig
	context *oto.Context

	mu      sync.Mutex
	sources map[*otoSource]struct{}
	closed  bool
}

// NewPlayer opens the audio output with the specified configuration.
func NewPlayer(config PlayerConfig) (*Player, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, err := acquireContext(config)
	if err != nil {
		return nil, err
	}

	return &Player{
		config:  config,
		context: ctx,
		sources: make(map[*otoSource]struct{}),
	}, nil
}

// Start implements ttypes.Device.
func (p *Player) Start(buf *ttypes.SampleBuffer) (ttypes.Source, error) {
	if buf == nil || len(buf.Samples) == 0 {
		return nil, ErrEmptyAudio
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrDeviceClosed
	}

	out := Convert(buf, p.config.SampleRate, p.config.Channels)
	src := newOtoSource(out)

	// CRITICAL: src.data must stay referenced until the player is closed.
	src.player = p.context.NewPlayer(src.reader)
	src.player.Play()

	p.sources[src] = struct{}{}
	go src.monitor(p.config.PollInterval, func() {
		p.mu.Lock()
		delete(p.sources, src)
		p.mu.Unlock()
	})

	return src, nil
}

// Close stops every live source and suspends the shared context.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	live := make([]*otoSource, 0, len(p.sources))
	for src := range p.sources {
		live = append(live, src)
	}
	p.mu.Unlock()

	for _, src := range live {
		src.Stop()
	}

	if err := p.context.Suspend(); err != nil {
		return fmt.Errorf("failed to suspend audio context: %w", err)
	}
	return nil
}

// otoSource is one buffer handed to an oto player.
type otoSource struct {
	data     []byte    // encoded float32 LE, what oto reads
	mono     []float64 // analysis copy
	channels int
	reader   *countingReader
	player   *oto.Player

	done     chan struct{}
	stopped  chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once
}

func newOtoSource(buf *ttypes.SampleBuffer) *otoSource {
	data := make([]byte, len(buf.Samples)*bytesPerSample)
	for i, s := range buf.Samples {
		binary.LittleEndian.PutUint32(data[i*bytesPerSample:], math.Float32bits(s))
	}

	mono := make([]float64, 0, buf.Frames())
	for _, s := range mixdown(buf) {
		mono = append(mono, float64(s))
	}

	return &otoSource{
		data:     data,
		mono:     mono,
		channels: buf.Channels,
		reader:   &countingReader{r: bytes.NewReader(data)},
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// monitor waits for the player to drain and then closes done.
func (s *otoSource) monitor(interval time.Duration, release func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer release()

	for {
		select {
		case <-s.stopped:
			return
		case <-ticker.C:
			if s.player.IsPlaying() {
				continue
			}
			if err := s.player.Err(); err != nil {
				log.Warn("audio source ended with error", "err", err)
			}
			s.finish()
			return
		}
	}
}

func (s *otoSource) finish() {
	s.doneOnce.Do(func() {
		_ = s.player.Close()
		close(s.done)
	})
}

// Done implements ttypes.Source.
func (s *otoSource) Done() <-chan struct{} {
	return s.done
}

// Stop implements ttypes.Source.
func (s *otoSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.player.Pause()
		s.finish()
	})
}

// Window implements ttypes.Source. The audible position is what oto has read
// minus what is still queued in its buffer.
func (s *otoSource) Window(dst []float64) int {
	select {
	case <-s.done:
		return 0
	default:
	}

	frameBytes := int64(s.channels * bytesPerSample)
	pos := (s.reader.Pos() - int64(s.player.BufferedSize())) / frameBytes
	if pos <= 0 {
		return 0
	}
	if pos > int64(len(s.mono)) {
		pos = int64(len(s.mono))
	}

	start := pos - int64(len(dst))
	if start < 0 {
		start = 0
	}
	return copy(dst, s.mono[start:pos])
}

// countingReader tracks how many bytes oto has pulled.
type countingReader struct {
	r   *bytes.Reader
	pos atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.pos.Add(int64(n))
	return n, err
}

func (c *countingReader) Pos() int64 {
	return c.pos.Load()
}
