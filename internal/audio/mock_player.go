package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/dgnsrekt/speakstream/internal/ttypes"
)

// MockDevice implements ttypes.Device for testing purposes.
// It simulates playback without producing sound.
type MockDevice struct {
	mu      sync.Mutex
	started []*ttypes.SampleBuffer
	live    map[*MockSource]struct{}
	closed  bool

	// Test configuration
	delayFactor float64 // Speed up/slow down simulated playback
	manual      bool    // Sources only end via Finish or Stop
	startErr    error

	callbacks MockCallbacks
}

// MockCallbacks provides hooks for testing.
type MockCallbacks struct {
	OnStart func(buf *ttypes.SampleBuffer)
	OnStop  func(buf *ttypes.SampleBuffer)
	OnEnd   func(buf *ttypes.SampleBuffer)
	OnClose func()
}

// MockConfig configures a MockDevice.
type MockConfig struct {
	DelayFactor float64
	Manual      bool
	Callbacks   MockCallbacks
}

// NewMockDevice creates a mock device. A zero DelayFactor plays each buffer
// for its real duration.
func NewMockDevice(config MockConfig) *MockDevice {
	if config.DelayFactor <= 0 {
		config.DelayFactor = 1.0
	}
	return &MockDevice{
		live:        make(map[*MockSource]struct{}),
		delayFactor: config.DelayFactor,
		manual:      config.Manual,
		callbacks:   config.Callbacks,
	}
}

// FailStarts makes every following Start return err. Nil restores normal behavior.
func (d *MockDevice) FailStarts(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startErr = err
}

// Start implements ttypes.Device.
func (d *MockDevice) Start(buf *ttypes.SampleBuffer) (ttypes.Source, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDeviceClosed
	}
	if d.startErr != nil {
		err := d.startErr
		d.mu.Unlock()
		return nil, err
	}
	if buf == nil {
		d.mu.Unlock()
		return nil, errors.New("nil buffer")
	}

	src := &MockSource{
		device:  d,
		buf:     buf,
		started: time.Now(),
		scale:   d.delayFactor,
		done:    make(chan struct{}),
	}
	d.started = append(d.started, buf)
	d.live[src] = struct{}{}
	manual := d.manual
	onStart := d.callbacks.OnStart
	d.mu.Unlock()

	if onStart != nil {
		onStart(buf)
	}

	if !manual {
		playFor := time.Duration(float64(buf.Duration()) * src.scale)
		src.timer = time.AfterFunc(playFor, func() { src.end(false) })
	}

	return src, nil
}

// Close implements ttypes.Device.
func (d *MockDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	live := make([]*MockSource, 0, len(d.live))
	for s := range d.live {
		live = append(live, s)
	}
	onClose := d.callbacks.OnClose
	d.mu.Unlock()

	for _, s := range live {
		s.Stop()
	}
	if onClose != nil {
		onClose()
	}
	return nil
}

// Started returns every buffer handed to Start, in call order.
func (d *MockDevice) Started() []*ttypes.SampleBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*ttypes.SampleBuffer, len(d.started))
	copy(out, d.started)
	return out
}

// Live returns the sources that have neither ended nor been stopped.
func (d *MockDevice) Live() []*MockSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*MockSource, 0, len(d.live))
	for s := range d.live {
		out = append(out, s)
	}
	return out
}

// IsClosed reports whether Close was called.
func (d *MockDevice) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// MockSource is a simulated playing buffer.
type MockSource struct {
	device  *MockDevice
	buf     *ttypes.SampleBuffer
	started time.Time
	scale   float64
	timer   *time.Timer

	once    sync.Once
	done    chan struct{}
	stopped bool
}

// Buffer returns the buffer this source plays.
func (s *MockSource) Buffer() *ttypes.SampleBuffer {
	return s.buf
}

// Finish ends the source as if playback reached the end.
func (s *MockSource) Finish() {
	s.end(false)
}

// Stop implements ttypes.Source.
func (s *MockSource) Stop() {
	s.end(true)
}

func (s *MockSource) end(stopped bool) {
	s.once.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}

		d := s.device
		d.mu.Lock()
		delete(d.live, s)
		s.stopped = stopped
		cb := d.callbacks.OnEnd
		if stopped {
			cb = d.callbacks.OnStop
		}
		d.mu.Unlock()

		close(s.done)
		if cb != nil {
			cb(s.buf)
		}
	})
}

// WasStopped reports whether the source ended through Stop.
func (s *MockSource) WasStopped() bool {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	return s.stopped
}

// Done implements ttypes.Source.
func (s *MockSource) Done() <-chan struct{} {
	return s.done
}

// Window implements ttypes.Source using elapsed wall time as the play head.
func (s *MockSource) Window(dst []float64) int {
	select {
	case <-s.done:
		return 0
	default:
	}

	frames := s.buf.Frames()
	if frames == 0 || s.buf.SampleRate <= 0 {
		return 0
	}

	elapsed := float64(time.Since(s.started)) / s.scale
	pos := int(elapsed * float64(s.buf.SampleRate) / float64(time.Second))
	if s.device.manual || pos > frames {
		// Manual sources loop so meters see signal until Finish.
		pos = pos%frames + 1
	}

	start := pos - len(dst)
	if start < 0 {
		start = 0
	}

	ch := s.buf.Channels
	n := 0
	for f := start; f < pos && n < len(dst); f++ {
		var sum float32
		for c := 0; c < ch; c++ {
			sum += s.buf.Samples[f*ch+c]
		}
		dst[n] = float64(sum / float32(ch))
		n++
	}
	return n
}
