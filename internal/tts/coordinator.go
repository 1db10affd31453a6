// Package tts turns streamed model output into ordered speech: sentence
// segmentation, concurrent synthesis, and serial playback with cancellation.
package tts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/speakstream/internal/audio"
	"github.com/dgnsrekt/speakstream/internal/queue"
	"github.com/dgnsrekt/speakstream/internal/telemetry"
	"github.com/dgnsrekt/speakstream/internal/ttypes"
)

// DeviceOpener acquires the audio output. It is called lazily, the first
// time there is something to play, and again after a failure.
type DeviceOpener func() (ttypes.Device, error)

// Config holds coordinator tunables.
type Config struct {
	// SettleDelay is the pause between one buffer ending and the next starting.
	SettleDelay time.Duration

	// SynthesisTimeout bounds each synthesis request; zero means no limit.
	SynthesisTimeout time.Duration

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int

	Meter audio.MeterConfig

	// Optional
	Logger  *log.Logger
	Metrics *telemetry.Metrics
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		SettleDelay:      100 * time.Millisecond,
		SynthesisTimeout: 30 * time.Second,
		EventBuffer:      64,
		Meter:            audio.DefaultMeterConfig(),
	}
}

// Coordinator turns a stream of text chunks into ordered, serial speech.
//
// Text is cut into sentences, each sentence is synthesized concurrently,
// and the results are played strictly in the order the sentences were
// emitted. Stop abandons everything from the current session; completions
// that arrive afterwards are recognized by their session token and dropped.
type Coordinator struct {
	config     Config
	synth      ttypes.Synthesizer
	decoder    ttypes.Decoder
	open       DeviceOpener
	normalizer *Normalizer
	meter      *audio.Meter
	log        *log.Logger
	metrics    *telemetry.Metrics
	events     chan Event

	// Synchronization
	mu sync.Mutex

	// Session state, guarded by mu
	session   uint64
	ctx       context.Context
	cancel    context.CancelFunc
	segmenter *Segmenter
	ready     *queue.ReadyBuffer
	nextSeq   uint64
	inflight  int
	device    ttypes.Device
	current   *playback
	settle    *time.Timer
	closed    bool

	playing atomic.Bool
}

// playback is the buffer currently on the device.
type playback struct {
	job *ttypes.Job
	src ttypes.Source
}

// NewCoordinator creates a coordinator. Nothing touches the audio device
// until there is something to play.
func NewCoordinator(config Config, synth ttypes.Synthesizer, decoder ttypes.Decoder, open DeviceOpener) *Coordinator {
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultConfig().EventBuffer
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		config:     config,
		synth:      synth,
		decoder:    decoder,
		open:       open,
		normalizer: NewNormalizer(),
		meter:      audio.NewMeter(config.Meter),
		log:        logger.WithPrefix("speech"),
		metrics:    config.Metrics,
		events:     make(chan Event, config.EventBuffer),
		session:    1,
		ctx:        ctx,
		cancel:     cancel,
		segmenter:  NewSegmenter(),
		ready:      queue.NewReadyBuffer(),
	}
}

// SpeakStream feeds the next chunk of streamed text. Every sentence the
// chunk completes is dispatched for synthesis; the rest stays buffered.
func (c *Coordinator) SpeakStream(chunk string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	before := c.segmenter.Pending()
	segments := c.segmenter.Feed(chunk)
	if len(segments) == 0 {
		return nil
	}

	if err := c.ensureDeviceLocked(); err != nil {
		c.segmenter.Restore(before + chunk)
		return err
	}

	for _, seg := range segments {
		c.dispatchLocked(seg.Text)
	}
	return nil
}

// Flush dispatches whatever text is still buffered as a final segment.
// Flushing an empty buffer does nothing.
func (c *Coordinator) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	before := c.segmenter.Pending()
	seg, ok := c.segmenter.ForceFlush()
	if !ok {
		return nil
	}

	if err := c.ensureDeviceLocked(); err != nil {
		c.segmenter.Restore(before)
		return err
	}

	c.dispatchLocked(seg.Text)
	return nil
}

// Play stops any current speech and speaks text as a single segment.
func (c *Coordinator) Play(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.stopLocked()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := ValidateText(text); err != nil {
		return err
	}

	if err := c.ensureDeviceLocked(); err != nil {
		return err
	}

	c.dispatchLocked(text)
	return nil
}

// Stop halts playback, discards buffered text, queued audio and in-flight
// synthesis, and starts a new session. It returns once the coordinator is idle.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.stopLocked()
}

// Close stops speech and releases the audio device. The coordinator cannot
// be used afterwards and the Events channel is closed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.stopLocked()
	c.closed = true
	c.cancel()
	dev := c.device
	c.device = nil
	close(c.events)
	c.mu.Unlock()

	if dev != nil {
		if err := dev.Close(); err != nil {
			return fmt.Errorf("failed to release audio device: %w", err)
		}
	}
	return nil
}

// IsPlaying reports whether speech is in progress: from the first buffer
// starting until nothing is left playing, queued or being synthesized.
func (c *Coordinator) IsPlaying() bool {
	return c.playing.Load()
}

// VolumeLevel returns the current output amplitude in [0, 1].
func (c *Coordinator) VolumeLevel() float64 {
	return c.meter.Level()
}

// Events returns the coordinator's event stream. Events are dropped, not
// queued, when the reader falls behind.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Session returns the current session token.
func (c *Coordinator) Session() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Pending returns streamed text not yet formed into a sentence.
func (c *Coordinator) Pending() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.segmenter.Pending()
}

// InFlight returns how many segments are still being synthesized.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}

// Idle reports whether there is nothing playing, settling, queued or being
// synthesized. Text still buffered in the segmenter does not count.
func (c *Coordinator) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight == 0 && c.current == nil && c.settle == nil && c.ready.Len() == 0
}

// ensureDeviceLocked opens the device on first use (must be called with lock held).
func (c *Coordinator) ensureDeviceLocked() error {
	if c.device != nil {
		return nil
	}

	dev, err := c.open()
	if err != nil {
		c.log.Error("audio device unavailable", "err", err)
		return NewTTSError(ErrorCodeDeviceUnavailable, "cannot open audio output",
			fmt.Errorf("%w: %w", ErrDeviceUnavailable, err))
	}

	c.device = dev
	c.log.Debug("audio device acquired")
	return nil
}

// stopLocked resets all session state (must be called with lock held).
func (c *Coordinator) stopLocked() {
	c.session++
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.segmenter.Reset()
	c.ready.Reset()
	c.nextSeq = 0
	c.inflight = 0

	if c.settle != nil {
		c.settle.Stop()
		c.settle = nil
	}
	if c.current != nil {
		c.current.src.Stop()
		c.current.job.State = ttypes.JobCancelled
		c.current = nil
	}
	c.meter.Detach()

	if c.playing.Swap(false) {
		c.emit(Event{Kind: EventStopped, Session: c.session - 1})
	}
	c.log.Debug("session started", "session", c.session)
}

// emit publishes ev without blocking (must be called with lock held).
func (c *Coordinator) emit(ev Event) {
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.log.Debug("event dropped", "kind", ev.Kind)
	}
}
