package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/speakstream/internal/audio"
	"github.com/dgnsrekt/speakstream/internal/cache"
	"github.com/dgnsrekt/speakstream/internal/config"
	"github.com/dgnsrekt/speakstream/internal/telemetry"
	"github.com/dgnsrekt/speakstream/internal/tts"
	"github.com/dgnsrekt/speakstream/internal/tts/engines"
	"github.com/dgnsrekt/speakstream/internal/ttypes"
	"github.com/dustin/go-humanize"
)

// speech is the assembled pipeline for one command invocation.
type speech struct {
	coord    *tts.Coordinator
	engine   *engines.FishEngine
	cache    *cache.MemoryCache
	provider *telemetry.Provider
	cancel   context.CancelFunc
}

// newSpeech wires the synthesis backend, decoder, audio device and metrics
// into a coordinator.
func newSpeech(ctx context.Context, c config.Config) (*speech, error) {
	creds, err := config.LoadCredentials()
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials: %w", err)
	}
	if missing := creds.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("missing %s in the environment", strings.Join(missing, " and "))
	}

	s := &speech{}
	ctx, s.cancel = context.WithCancel(ctx)
	ready := false
	defer func() {
		if !ready {
			s.cancel()
		}
	}()

	var metrics *telemetry.Metrics
	if c.Metrics.Addr != "" {
		s.provider, err = telemetry.NewPrometheusProvider(Version)
		if err != nil {
			return nil, fmt.Errorf("unable to set up metrics: %w", err)
		}
		metrics, err = telemetry.New(s.provider)
		if err != nil {
			return nil, fmt.Errorf("unable to register metrics: %w", err)
		}
		go func() {
			if err := s.provider.Serve(ctx, c.Metrics.Addr); err != nil {
				log.Error("metrics server stopped", "err", err)
			}
		}()
	}

	s.cache = cache.NewMemoryCache(cache.CacheConfig{
		Capacity: int64(c.Cache.CapacityMB) * 1024 * 1024,
		TTL:      c.Cache.TTL,
	})

	s.engine, err = engines.NewFishEngine(engines.FishConfig{
		APIKey:            creds.APIKey,
		VoiceID:           creds.VoiceID,
		Endpoint:          c.Fish.Endpoint,
		Format:            strings.ToLower(c.Fish.Format),
		Latency:           c.Fish.Latency,
		RequestsPerMinute: c.Fish.RequestsPerMinute,
		Timeout:           c.Speech.SynthesisTimeout,
		Cache:             s.cache,
		Metrics:           metrics,
	})
	if err != nil {
		return nil, err
	}

	player := audio.DefaultPlayerConfig()
	player.SampleRate = c.Audio.SampleRate
	player.Channels = c.Audio.Channels
	player.BufferSize = c.Audio.BufferSize

	open := func() (ttypes.Device, error) {
		p, err := audio.NewPlayer(player)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	coordConfig := tts.DefaultConfig()
	coordConfig.SettleDelay = c.Speech.SettleDelay
	coordConfig.SynthesisTimeout = c.Speech.SynthesisTimeout
	coordConfig.Meter = audio.MeterConfig{
		FFTSize:  c.Audio.FFTSize,
		Interval: c.Audio.MeterInterval,
		Ceiling:  c.Audio.Ceiling,
	}
	coordConfig.Metrics = metrics

	s.coord = tts.NewCoordinator(coordConfig, s.engine, audio.NewDecoder(), open)

	if s.provider != nil {
		err := telemetry.ObservePlayback(s.provider, func() (bool, float64) {
			return s.coord.IsPlaying(), s.coord.VolumeLevel()
		})
		if err != nil {
			log.Warn("playback gauges unavailable", "err", err)
		}
	}

	ready = true
	return s, nil
}

// Close releases the audio device and reports what the session cost.
func (s *speech) Close() error {
	err := s.coord.Close()

	stats := s.engine.Stats()
	cs := s.cache.Stats()
	log.Info("speech closed",
		"requests", stats.Requests,
		"failures", stats.Failures,
		"downloaded", humanize.Bytes(stats.BytesIn),
		"cache_hits", stats.CacheHits,
		"cache_size", humanize.Bytes(uint64(cs.Size)), //nolint:gosec
	)

	if s.provider != nil {
		if serr := s.provider.Shutdown(context.Background()); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	s.cancel()
	return err
}
