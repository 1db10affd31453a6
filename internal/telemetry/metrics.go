// Package telemetry records speech pipeline metrics through OpenTelemetry
// and can expose them to Prometheus.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dgnsrekt/speakstream"

// Metrics holds the pipeline instruments. A nil *Metrics records nothing.
type Metrics struct {
	dispatched metric.Int64Counter
	failed     metric.Int64Counter
	stale      metric.Int64Counter
	played     metric.Int64Counter
	cacheHits  metric.Int64Counter
	latency    metric.Float64Histogram
}

// PlaybackState is observed by the gauges on every collection.
type PlaybackState func() (playing bool, volume float64)

// New creates the instruments on provider, or on the global provider when nil.
func New(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	m := &Metrics{}
	var err error

	if m.dispatched, err = meter.Int64Counter("speakstream.segments.dispatched",
		metric.WithDescription("Segments sent for synthesis")); err != nil {
		return nil, err
	}
	if m.failed, err = meter.Int64Counter("speakstream.segments.failed",
		metric.WithDescription("Segments skipped because synthesis, decoding or playback failed")); err != nil {
		return nil, err
	}
	if m.stale, err = meter.Int64Counter("speakstream.completions.stale",
		metric.WithDescription("Synthesis completions discarded after the session changed")); err != nil {
		return nil, err
	}
	if m.played, err = meter.Int64Counter("speakstream.segments.played",
		metric.WithDescription("Segments that played to their natural end")); err != nil {
		return nil, err
	}
	if m.cacheHits, err = meter.Int64Counter("speakstream.synthesis.cache_hits",
		metric.WithDescription("Synthesis requests answered from the memory cache")); err != nil {
		return nil, err
	}
	if m.latency, err = meter.Float64Histogram("speakstream.synthesis.latency",
		metric.WithDescription("Time from dispatch to decoded audio"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}

	return m, nil
}

// ObservePlayback registers gauges for the playing flag and volume level.
func ObservePlayback(provider metric.MeterProvider, state PlaybackState) error {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	playing, err := meter.Int64ObservableGauge("speakstream.playback.playing",
		metric.WithDescription("1 while speech is playing"))
	if err != nil {
		return err
	}
	volume, err := meter.Float64ObservableGauge("speakstream.playback.volume",
		metric.WithDescription("Current normalized output level"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		p, v := state()
		var flag int64
		if p {
			flag = 1
		}
		obs.ObserveInt64(playing, flag)
		obs.ObserveFloat64(volume, v)
		return nil
	}, playing, volume)
	return err
}

// SegmentDispatched counts a segment handed to the synthesizer.
func (m *Metrics) SegmentDispatched(ctx context.Context) {
	if m == nil {
		return
	}
	m.dispatched.Add(ctx, 1)
}

// SegmentFailed counts a skipped segment, labelled by stage.
func (m *Metrics) SegmentFailed(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// StaleCompletion counts a discarded completion.
func (m *Metrics) StaleCompletion(ctx context.Context) {
	if m == nil {
		return
	}
	m.stale.Add(ctx, 1)
}

// SegmentPlayed counts a segment that finished playing.
func (m *Metrics) SegmentPlayed(ctx context.Context) {
	if m == nil {
		return
	}
	m.played.Add(ctx, 1)
}

// CacheHit counts a synthesis served from cache.
func (m *Metrics) CacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.cacheHits.Add(ctx, 1)
}

// SynthesisLatency records dispatch-to-decoded time.
func (m *Metrics) SynthesisLatency(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Record(ctx, float64(d)/float64(time.Millisecond))
}
