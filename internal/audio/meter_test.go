package audio

import (
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

func TestAnalyze(t *testing.T) {
	const n = 256
	fft := fourier.NewFFT(n)

	silence := make([]float64, n)
	if got := Analyze(fft, silence, 128); got != 0 {
		t.Errorf("silence level = %f, want 0", got)
	}

	tone := make([]float64, n)
	for i := range tone {
		tone[i] = math.Sin(2 * math.Pi * 16 * float64(i) / n)
	}
	loud := Analyze(fft, tone, 128)
	if loud <= 0 || loud > 1 {
		t.Errorf("tone level = %f, want (0, 1]", loud)
	}

	quiet := make([]float64, n)
	for i := range quiet {
		quiet[i] = tone[i] * 0.01
	}
	if q := Analyze(fft, quiet, 128); q >= loud {
		t.Errorf("quiet level %f not below loud level %f", q, loud)
	}

	if got := Analyze(fft, tone, 1); got != 1 {
		t.Errorf("low ceiling should clamp to 1, got %f", got)
	}
	if got := Analyze(fft, tone, 0); got != 0 {
		t.Errorf("zero ceiling should yield 0, got %f", got)
	}
}

func TestNewMeterDefaults(t *testing.T) {
	m := NewMeter(MeterConfig{})
	def := DefaultMeterConfig()
	if m.config != def {
		t.Errorf("config = %+v, want %+v", m.config, def)
	}
}

func TestMeter_AttachPublishesAndDetachResets(t *testing.T) {
	dev := NewMockDevice(MockConfig{Manual: true})
	src, err := dev.Start(sine(8000, 1, 440, time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer src.Stop()

	m := NewMeter(MeterConfig{FFTSize: 256, Interval: time.Millisecond, Ceiling: 128})
	m.Attach(src)

	deadline := time.Now().Add(2 * time.Second)
	for m.Level() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if m.Level() == 0 {
		t.Fatal("meter never published a level")
	}

	m.Detach()
	if m.Level() != 0 {
		t.Errorf("level after detach = %f, want 0", m.Level())
	}

	// Sampler has exited; the level must stay 0.
	time.Sleep(10 * time.Millisecond)
	if m.Level() != 0 {
		t.Errorf("level changed after detach: %f", m.Level())
	}
}

func TestMeter_StopsWhenSourceEnds(t *testing.T) {
	dev := NewMockDevice(MockConfig{Manual: true})
	src, _ := dev.Start(sine(8000, 1, 440, time.Second))

	m := NewMeter(MeterConfig{Interval: time.Millisecond})
	m.Attach(src)
	src.(*MockSource).Finish()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sampler still running after source ended")
	}
	m.Detach()
}

func TestMeter_ReattachReplacesSource(t *testing.T) {
	dev := NewMockDevice(MockConfig{Manual: true})
	first, _ := dev.Start(sine(8000, 1, 440, time.Second))
	second, _ := dev.Start(sine(8000, 1, 220, time.Second))
	defer first.Stop()
	defer second.Stop()

	m := NewMeter(MeterConfig{Interval: time.Millisecond})
	m.Attach(first)
	m.Attach(second)
	m.Detach()
	m.Detach()

	if m.Level() != 0 {
		t.Errorf("level = %f, want 0", m.Level())
	}
}
