package tts

import (
	"context"
	"errors"
	"io"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/speakstream/internal/audio"
	"github.com/dgnsrekt/speakstream/internal/telemetry"
	"github.com/dgnsrekt/speakstream/internal/ttypes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// fakeSynth echoes text as audio bytes. Gated texts block until released,
// ignoring cancellation so late completions can be observed.
type fakeSynth struct {
	mu    sync.Mutex
	calls []string
	gates map[string]chan struct{}
	fail  map[string]error
}

func newFakeSynth() *fakeSynth {
	return &fakeSynth{
		gates: make(map[string]chan struct{}),
		fail:  make(map[string]error),
	}
}

func (f *fakeSynth) gate(text string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[text] = ch
	return ch
}

func (f *fakeSynth) failOn(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[text] = err
}

func (f *fakeSynth) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	gate := f.gates[text]
	err := f.fail[text]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}

// fakeDecoder turns text into a short tone and remembers which buffer
// carries which text.
type fakeDecoder struct {
	mu     sync.Mutex
	texts  map[*ttypes.SampleBuffer]string
	failOn string
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{texts: make(map[*ttypes.SampleBuffer]string)}
}

func (d *fakeDecoder) Decode(data []byte) (*ttypes.SampleBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if string(data) == d.failOn {
		return nil, errors.New("corrupt frame")
	}

	const rate = 1000
	buf := &ttypes.SampleBuffer{SampleRate: rate, Channels: 1, Samples: make([]float32, 200)}
	for i := range buf.Samples {
		buf.Samples[i] = float32(0.8 * math.Sin(2*math.Pi*100*float64(i)/rate))
	}
	d.texts[buf] = string(data)
	return buf, nil
}

func (d *fakeDecoder) played(dev *audio.MockDevice) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, buf := range dev.Started() {
		out = append(out, d.texts[buf])
	}
	return out
}

type harness struct {
	c      *Coordinator
	synth  *fakeSynth
	dec    *fakeDecoder
	dev    *audio.MockDevice
	reader *sdkmetric.ManualReader
}

func newHarness(t *testing.T, devConfig audio.MockConfig) *harness {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	metrics, err := telemetry.New(provider)
	if err != nil {
		t.Fatalf("telemetry.New failed: %v", err)
	}

	h := &harness{
		synth:  newFakeSynth(),
		dec:    newFakeDecoder(),
		dev:    audio.NewMockDevice(devConfig),
		reader: reader,
	}

	config := DefaultConfig()
	config.SettleDelay = time.Millisecond
	config.Logger = log.New(io.Discard)
	config.Metrics = metrics

	h.c = NewCoordinator(config, h.synth, h.dec, func() (ttypes.Device, error) {
		return h.dev, nil
	})
	t.Cleanup(func() { _ = h.c.Close() })
	return h
}

// fast plays each 200ms buffer in about 10ms.
var fast = audio.MockConfig{DelayFactor: 0.05}

func (h *harness) counter(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				var total int64
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
				return total
			}
		}
	}
	return 0
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitFinished(t *testing.T, n int) {
	t.Helper()
	waitFor(t, "playback to finish", func() bool {
		return len(h.dev.Started()) >= n && !h.c.IsPlaying() && h.c.InFlight() == 0
	})
}

func drain(c *Coordinator) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestCoordinator_PlaysInSequenceOrder(t *testing.T) {
	tests := []struct {
		name  string
		order []int // completion order, by sequence
	}{
		{"in order", []int{0, 1, 2}},
		{"reverse", []int{2, 1, 0}},
		{"last first", []int{2, 0, 1}},
		{"middle first", []int{1, 2, 0}},
		{"first then reverse", []int{0, 2, 1}},
		{"middle then first", []int{1, 0, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, fast)
			gates := []chan struct{}{h.synth.gate("One."), h.synth.gate("Two."), h.synth.gate("Three.")}

			if err := h.c.SpeakStream("One. Two. Thr"); err != nil {
				t.Fatalf("SpeakStream failed: %v", err)
			}
			if err := h.c.SpeakStream("ee. "); err != nil {
				t.Fatalf("SpeakStream failed: %v", err)
			}
			waitFor(t, "three dispatches", func() bool { return len(h.synth.Calls()) == 3 })

			firstDone := false
			for i, seq := range tt.order {
				if !firstDone {
					if started := h.dev.Started(); len(started) != 0 {
						t.Fatalf("%d buffers started before the first segment was ready", len(started))
					}
				}
				close(gates[seq])
				firstDone = firstDone || seq == 0
				remaining := len(tt.order) - i - 1
				waitFor(t, "completion", func() bool { return h.c.InFlight() == remaining })
			}
			h.waitFinished(t, 3)

			want := []string{"One.", "Two.", "Three."}
			if got := h.dec.played(h.dev); !reflect.DeepEqual(got, want) {
				t.Errorf("played %q, want %q", got, want)
			}
			if got := h.counter(t, "speakstream.segments.played"); got != 3 {
				t.Errorf("played counter = %d, want 3", got)
			}
		})
	}
}

// synthFunc adapts a function to ttypes.Synthesizer.
type synthFunc func(ctx context.Context, text string) ([]byte, error)

func (f synthFunc) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f(ctx, text)
}

func TestCoordinator_JobFetchingDuringSynthesis(t *testing.T) {
	job := &ttypes.Job{Session: 99, Text: "Hello.", State: ttypes.JobPending}

	var seen ttypes.JobState
	config := DefaultConfig()
	config.Logger = log.New(io.Discard)
	c := NewCoordinator(config, synthFunc(func(context.Context, string) ([]byte, error) {
		seen = job.State
		return []byte("Hello."), nil
	}), newFakeDecoder(), func() (ttypes.Device, error) {
		return audio.NewMockDevice(fast), nil
	})
	defer c.Close()

	// Session 99 is stale, so the completion is dropped.
	c.synthesize(context.Background(), job)

	if seen != ttypes.JobFetching {
		t.Errorf("state during synthesis = %s, want fetching", seen)
	}
	if c.InFlight() != 0 {
		t.Errorf("InFlight() = %d after a stale completion", c.InFlight())
	}
}

func TestCoordinator_OneSourceAtATime(t *testing.T) {
	h := newHarness(t, audio.MockConfig{Manual: true})

	if err := h.c.SpeakStream("First. Second. "); err != nil {
		t.Fatalf("SpeakStream failed: %v", err)
	}
	waitFor(t, "first source", func() bool { return len(h.dev.Live()) == 1 })

	// Second is decoded but must wait for the device.
	waitFor(t, "both decoded", func() bool { return h.c.InFlight() == 0 })
	if n := len(h.dev.Started()); n != 1 {
		t.Fatalf("%d sources started, want 1", n)
	}
	if !h.c.IsPlaying() {
		t.Error("IsPlaying() = false while a source is live")
	}

	h.dev.Live()[0].Finish()
	waitFor(t, "second source", func() bool { return len(h.dev.Started()) == 2 })
	h.dev.Live()[0].Finish()

	h.waitFinished(t, 2)
	if got := h.dec.played(h.dev); !reflect.DeepEqual(got, []string{"First.", "Second."}) {
		t.Errorf("played %q", got)
	}
}

func TestCoordinator_SkipsFailedSegments(t *testing.T) {
	h := newHarness(t, fast)
	h.synth.failOn("Two.", errors.New("status 500"))
	h.dec.failOn = "Four."

	if err := h.c.SpeakStream("One. Two. Three. Four. Five. "); err != nil {
		t.Fatalf("SpeakStream failed: %v", err)
	}
	h.waitFinished(t, 3)

	want := []string{"One.", "Three.", "Five."}
	if got := h.dec.played(h.dev); !reflect.DeepEqual(got, want) {
		t.Errorf("played %q, want %q", got, want)
	}

	var synthErr, decodeErr bool
	for _, ev := range drain(h.c) {
		if ev.Kind != EventSegmentFailed {
			continue
		}
		switch {
		case errors.Is(ev.Err, ErrSynthesisFailed):
			synthErr = ev.Sequence == 1
		case errors.Is(ev.Err, ErrDecodeFailed):
			decodeErr = ev.Sequence == 3
		}
	}
	if !synthErr || !decodeErr {
		t.Errorf("missing failure events: synthesis=%v decode=%v", synthErr, decodeErr)
	}
	if got := h.counter(t, "speakstream.segments.failed"); got != 2 {
		t.Errorf("failed counter = %d, want 2", got)
	}
}

func TestCoordinator_SkipsUnspeakableSegments(t *testing.T) {
	h := newHarness(t, fast)

	if err := h.c.SpeakStream("Before. ![logo](logo.png)"); err != nil {
		t.Fatalf("SpeakStream failed: %v", err)
	}
	// The image alone normalizes to nothing.
	if err := h.c.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := h.c.SpeakStream("After. "); err != nil {
		t.Fatalf("SpeakStream failed: %v", err)
	}
	h.waitFinished(t, 2)

	if got := h.dec.played(h.dev); !reflect.DeepEqual(got, []string{"Before.", "After."}) {
		t.Errorf("played %q", got)
	}
	if calls := h.synth.Calls(); len(calls) != 2 {
		t.Errorf("synthesized %q, the image should never reach the synthesizer", calls)
	}
	if got := h.counter(t, "speakstream.segments.failed"); got != 0 {
		t.Errorf("failed counter = %d, want 0", got)
	}
}

func TestCoordinator_StopDiscardsInFlight(t *testing.T) {
	h := newHarness(t, fast)
	old := h.synth.gate("Old news.")

	if err := h.c.SpeakStream("Old news. "); err != nil {
		t.Fatalf("SpeakStream failed: %v", err)
	}
	waitFor(t, "old dispatch", func() bool { return len(h.synth.Calls()) == 1 })

	before := h.c.Session()
	h.c.Stop()
	if h.c.Session() == before {
		t.Fatal("Stop did not advance the session")
	}

	if err := h.c.SpeakStream("Fresh start. "); err != nil {
		t.Fatalf("SpeakStream failed: %v", err)
	}
	h.waitFinished(t, 1)

	// The old synthesis finishes late and must be ignored.
	close(old)
	waitFor(t, "stale completion", func() bool {
		return h.counter(t, "speakstream.completions.stale") == 1
	})

	if got := h.dec.played(h.dev); !reflect.DeepEqual(got, []string{"Fresh start."}) {
		t.Errorf("played %q", got)
	}
	if h.c.InFlight() != 0 {
		t.Errorf("InFlight() = %d after stale completion", h.c.InFlight())
	}
}

func TestCoordinator_StopSilencesPlayback(t *testing.T) {
	h := newHarness(t, audio.MockConfig{Manual: true})

	if err := h.c.SpeakStream("A long sentence. Another one. Partial"); err != nil {
		t.Fatalf("SpeakStream failed: %v", err)
	}
	waitFor(t, "playback", func() bool { return len(h.dev.Live()) == 1 })
	src := h.dev.Live()[0]
	waitFor(t, "volume", func() bool { return h.c.VolumeLevel() > 0 })

	h.c.Stop()

	if v := h.c.VolumeLevel(); v != 0 {
		t.Errorf("VolumeLevel() = %v after Stop", v)
	}
	if h.c.IsPlaying() {
		t.Error("IsPlaying() = true after Stop")
	}
	if !src.WasStopped() {
		t.Error("live source was not stopped")
	}
	if h.c.Pending() != "" {
		t.Errorf("Pending() = %q after Stop", h.c.Pending())
	}

	// Nothing from the old session resumes.
	time.Sleep(20 * time.Millisecond)
	if n := len(h.dev.Started()); n != 1 {
		t.Errorf("%d sources started, want 1", n)
	}

	var stopped bool
	for _, ev := range drain(h.c) {
		stopped = stopped || ev.Kind == EventStopped
	}
	if !stopped {
		t.Error("no stopped event")
	}
}

func TestCoordinator_VolumeResetsWhenFinished(t *testing.T) {
	h := newHarness(t, audio.MockConfig{Manual: true})

	if err := h.c.Play("Just this."); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	waitFor(t, "volume", func() bool { return h.c.VolumeLevel() > 0 })

	h.dev.Live()[0].Finish()
	h.waitFinished(t, 1)

	if v := h.c.VolumeLevel(); v != 0 {
		t.Errorf("VolumeLevel() = %v after playback", v)
	}

	var finished bool
	for _, ev := range drain(h.c) {
		finished = finished || ev.Kind == EventFinished
	}
	if !finished {
		t.Error("no finished event")
	}
}

func TestCoordinator_Flush(t *testing.T) {
	h := newHarness(t, fast)

	if err := h.c.SpeakStream("No terminator here"); err != nil {
		t.Fatalf("SpeakStream failed: %v", err)
	}
	if calls := h.synth.Calls(); len(calls) != 0 {
		t.Fatalf("dispatched %q before flush", calls)
	}
	if !h.c.Idle() {
		t.Error("buffered text alone should leave the coordinator idle")
	}

	if err := h.c.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := h.c.Flush(); err != nil {
		t.Fatalf("second Flush failed: %v", err)
	}
	h.waitFinished(t, 1)

	if calls := h.synth.Calls(); !reflect.DeepEqual(calls, []string{"No terminator here"}) {
		t.Errorf("synthesized %q", calls)
	}
	waitFor(t, "idle", h.c.Idle)
}

func TestCoordinator_PlayInterrupts(t *testing.T) {
	h := newHarness(t, audio.MockConfig{Manual: true})

	if err := h.c.SpeakStream("Streaming along. Half"); err != nil {
		t.Fatalf("SpeakStream failed: %v", err)
	}
	waitFor(t, "stream playback", func() bool { return len(h.dev.Live()) == 1 })
	first := h.dev.Live()[0]

	if err := h.c.Play("Replacement text"); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if !first.WasStopped() {
		t.Error("Play did not stop the current source")
	}
	waitFor(t, "replacement playback", func() bool { return len(h.dev.Started()) == 2 })

	if got := h.dec.played(h.dev); !reflect.DeepEqual(got, []string{"Streaming along.", "Replacement text"}) {
		t.Errorf("played %q", got)
	}
	if h.c.Pending() != "" {
		t.Errorf("Play kept streamed text %q", h.c.Pending())
	}

	if err := h.c.Play("   "); err != nil {
		t.Errorf("Play of blank text returned %v", err)
	}
	if h.c.IsPlaying() {
		t.Error("blank Play should leave the coordinator idle")
	}
}

func TestCoordinator_DeviceUnavailable(t *testing.T) {
	synth := newFakeSynth()
	dec := newFakeDecoder()
	dev := audio.NewMockDevice(fast)

	attempts := 0
	config := DefaultConfig()
	config.SettleDelay = 0
	config.Logger = log.New(io.Discard)
	c := NewCoordinator(config, synth, dec, func() (ttypes.Device, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("no output devices")
		}
		return dev, nil
	})
	defer c.Close()

	// Nothing to dispatch means no device access.
	if err := c.SpeakStream("no sentence yet"); err != nil {
		t.Fatalf("SpeakStream failed: %v", err)
	}
	if attempts != 0 {
		t.Fatalf("device opened %d times before anything was ready", attempts)
	}

	err := c.SpeakStream(". Then more. ")
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	var te *TTSError
	if !errors.As(err, &te) || !te.IsFatal() {
		t.Errorf("expected a fatal TTSError, got %v", err)
	}
	if calls := synth.Calls(); len(calls) != 0 {
		t.Fatalf("dispatched %q without a device", calls)
	}
	if got := c.Pending(); got != "no sentence yet. Then more. " {
		t.Errorf("Pending() = %q, the undispatched text should be kept", got)
	}

	// The next call retries and speaks the kept text too.
	if err := c.SpeakStream("Second try. "); err != nil {
		t.Fatalf("SpeakStream failed: %v", err)
	}
	waitFor(t, "playback", func() bool { return len(dev.Started()) == 3 && !c.IsPlaying() })
	want := []string{"no sentence yet.", "Then more.", "Second try."}
	if got := dec.played(dev); !reflect.DeepEqual(got, want) {
		t.Errorf("played %q, want %q", got, want)
	}
	if attempts != 2 {
		t.Errorf("device opened %d times, want 2", attempts)
	}
}

func TestCoordinator_FlushKeepsTextWithoutDevice(t *testing.T) {
	dev := audio.NewMockDevice(fast)
	dec := newFakeDecoder()

	available := false
	config := DefaultConfig()
	config.SettleDelay = 0
	config.Logger = log.New(io.Discard)
	c := NewCoordinator(config, newFakeSynth(), dec, func() (ttypes.Device, error) {
		if !available {
			return nil, errors.New("device busy")
		}
		return dev, nil
	})
	defer c.Close()

	if err := c.SpeakStream("Trailing words"); err != nil {
		t.Fatalf("SpeakStream failed: %v", err)
	}
	if err := c.Flush(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if got := c.Pending(); got != "Trailing words" {
		t.Errorf("Pending() = %q after a failed flush", got)
	}

	available = true
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	waitFor(t, "playback", func() bool { return len(dev.Started()) == 1 && !c.IsPlaying() })
	if got := dec.played(dev); !reflect.DeepEqual(got, []string{"Trailing words"}) {
		t.Errorf("played %q", got)
	}
}

func TestCoordinator_DeviceRejectsBuffer(t *testing.T) {
	h := newHarness(t, fast)

	if err := h.c.SpeakStream("Warm up. "); err != nil {
		t.Fatalf("SpeakStream failed: %v", err)
	}
	h.waitFinished(t, 1)

	h.dev.FailStarts(errors.New("underrun"))
	if err := h.c.SpeakStream("Dropped. "); err != nil {
		t.Fatalf("SpeakStream failed: %v", err)
	}
	waitFor(t, "failure counted", func() bool {
		return h.counter(t, "speakstream.segments.failed") == 1
	})

	h.dev.FailStarts(nil)
	if err := h.c.SpeakStream("Recovered. "); err != nil {
		t.Fatalf("SpeakStream failed: %v", err)
	}
	h.waitFinished(t, 2)

	if got := h.dec.played(h.dev); !reflect.DeepEqual(got, []string{"Warm up.", "Recovered."}) {
		t.Errorf("played %q", got)
	}
}

func TestCoordinator_LongSegmentSplit(t *testing.T) {
	h := newHarness(t, fast)

	long := make([]byte, 0, MaxSegmentLength*2)
	for len(long) < MaxSegmentLength+100 {
		long = append(long, "word "...)
	}
	if err := h.c.Play(string(long)); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	h.waitFinished(t, 2)

	if calls := h.synth.Calls(); len(calls) != 2 {
		t.Errorf("long text sent as %d requests, want 2", len(calls))
	}
}

func TestCoordinator_Close(t *testing.T) {
	h := newHarness(t, audio.MockConfig{Manual: true})

	if err := h.c.SpeakStream("Closing soon. "); err != nil {
		t.Fatalf("SpeakStream failed: %v", err)
	}
	waitFor(t, "playback", func() bool { return len(h.dev.Live()) == 1 })

	if err := h.c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !h.dev.IsClosed() {
		t.Error("device not closed")
	}
	if err := h.c.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}

	if err := h.c.SpeakStream("More. "); !errors.Is(err, ErrClosed) {
		t.Errorf("SpeakStream after Close = %v, want ErrClosed", err)
	}
	if err := h.c.Flush(); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush after Close = %v, want ErrClosed", err)
	}
	if err := h.c.Play("x"); !errors.Is(err, ErrClosed) {
		t.Errorf("Play after Close = %v, want ErrClosed", err)
	}
	h.c.Stop()

	// Events channel is closed once drained.
	drain(h.c)
	if _, ok := <-h.c.Events(); ok {
		t.Error("events channel still open")
	}
}
