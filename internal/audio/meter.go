package audio

import (
	"math"
	"math/cmplx"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/speakstream/internal/ttypes"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Analyser decibel range mapped onto 0..255, as browsers do for byte
// frequency data.
const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

// MeterConfig contains configuration for the volume meter.
type MeterConfig struct {
	FFTSize  int           // Analysis window in samples, power of two
	Interval time.Duration // Sampling cadence while attached
	Ceiling  float64       // Mean bin level that maps to 1.0
}

// DefaultMeterConfig returns the default meter configuration.
func DefaultMeterConfig() MeterConfig {
	return MeterConfig{
		FFTSize:  256,
		Interval: 16 * time.Millisecond, // ~60 updates per second
		Ceiling:  128,
	}
}

// Meter publishes a normalized amplitude in [0, 1] for the attached source.
// At most one source is attached at a time; detaching resets the level to 0.
type Meter struct {
	config MeterConfig
	level  atomic.Uint64 // float64 bits

	mu   sync.Mutex
	stop chan struct{}
	gen  uint64
	wg   sync.WaitGroup
}

// NewMeter creates a meter, filling zero config fields with defaults.
func NewMeter(config MeterConfig) *Meter {
	def := DefaultMeterConfig()
	if config.FFTSize <= 0 {
		config.FFTSize = def.FFTSize
	}
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Ceiling <= 0 {
		config.Ceiling = def.Ceiling
	}
	return &Meter{config: config}
}

// Level returns the latest published amplitude.
func (m *Meter) Level() float64 {
	return math.Float64frombits(m.level.Load())
}

// Attach starts sampling src. Any previously attached source is detached first.
func (m *Meter) Attach(src ttypes.Source) {
	m.Detach()

	m.mu.Lock()
	stop := make(chan struct{})
	m.stop = stop
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(src, stop, gen)
}

// Detach stops sampling, waits for the sampler to exit, and resets the level to 0.
func (m *Meter) Detach() {
	m.mu.Lock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.gen++
	m.level.Store(0)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Meter) run(src ttypes.Source, stop <-chan struct{}, gen uint64) {
	defer m.wg.Done()

	fft := fourier.NewFFT(m.config.FFTSize)
	window := make([]float64, m.config.FFTSize)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-src.Done():
			return
		case <-ticker.C:
			n := src.Window(window)
			for i := n; i < len(window); i++ {
				window[i] = 0
			}
			level := Analyze(fft, window, m.config.Ceiling)

			m.mu.Lock()
			if m.gen == gen {
				m.level.Store(math.Float64bits(level))
			}
			m.mu.Unlock()
		}
	}
}

// Analyze computes the normalized amplitude of one window of mono samples.
// Each of the len/2 frequency bins is scaled to 0..255 over the analyser
// decibel range; the mean is divided by ceiling and clamped to [0, 1].
func Analyze(fft *fourier.FFT, samples []float64, ceiling float64) float64 {
	n := len(samples)
	if n == 0 || ceiling <= 0 {
		return 0
	}

	windowed := make([]float64, n)
	for i, s := range samples {
		windowed[i] = s * blackman(i, n)
	}

	coeffs := fft.Coefficients(nil, windowed)
	bins := n / 2

	var sum float64
	for k := 0; k < bins; k++ {
		mag := cmplx.Abs(coeffs[k]) / float64(n)
		if mag <= 0 {
			continue
		}
		db := 20 * math.Log10(mag)
		b := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
		sum += math.Max(0, math.Min(255, b))
	}

	level := (sum / float64(bins)) / ceiling
	return math.Max(0, math.Min(1, level))
}

func blackman(i, n int) float64 {
	const a0, a1, a2 = 0.42, 0.5, 0.08
	x := 2 * math.Pi * float64(i) / float64(n)
	return a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
}
