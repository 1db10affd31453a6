package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/speakstream/internal/cache"
	"github.com/dgnsrekt/speakstream/internal/telemetry"
	"github.com/dgnsrekt/speakstream/internal/ttypes"
	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// DefaultFishEndpoint is the Fish Audio text-to-speech endpoint.
const DefaultFishEndpoint = "https://api.fish.audio/v1/tts"

// maxErrorBody caps how much of a failed response is kept for the error.
const maxErrorBody = 4 << 10

var (
	// ErrMissingCredentials is returned when no API key or voice is configured
	ErrMissingCredentials = errors.New("fish audio API key and voice ID are required")

	// ErrEmptyText is returned for blank input; no request is made
	ErrEmptyText = errors.New("text cannot be empty")
)

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("fish audio returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("fish audio returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// FishEngine implements ttypes.Synthesizer using the Fish Audio HTTP API.
type FishEngine struct {
	// Configuration
	apiKey   string
	voiceID  string
	endpoint string
	format   string
	latency  string
	client   *http.Client

	// Rate limiting to stay under the account quota
	rateLimiter *rate.Limiter

	// Caching
	cache ttypes.AudioCache

	log     *log.Logger
	metrics *telemetry.Metrics

	mu    sync.Mutex
	stats FishStats
}

// FishStats counts requests made by the engine.
type FishStats struct {
	Requests  int64
	CacheHits int64
	Failures  int64
	BytesIn   uint64
}

// FishConfig holds configuration for the Fish Audio engine.
type FishConfig struct {
	APIKey  string
	VoiceID string

	// Endpoint overrides DefaultFishEndpoint
	Endpoint string

	// Format is the requested audio encoding, "mp3" or "wav" (defaults to mp3)
	Format string

	// Latency is "normal" or "balanced" (defaults to normal)
	Latency string

	// Requests per minute (defaults to 120)
	RequestsPerMinute int

	// Timeout per request when the context has no deadline (defaults to 30s)
	Timeout time.Duration

	// Optional
	Cache   ttypes.AudioCache
	Client  *http.Client
	Logger  *log.Logger
	Metrics *telemetry.Metrics
}

// fishRequest is the JSON body of a synthesis request.
type fishRequest struct {
	Text        string `json:"text"`
	ReferenceID string `json:"reference_id"`
	Format      string `json:"format"`
	Latency     string `json:"latency"`
	Normalize   bool   `json:"normalize"`
}

// NewFishEngine creates a new Fish Audio engine.
func NewFishEngine(config FishConfig) (*FishEngine, error) {
	if config.APIKey == "" || config.VoiceID == "" {
		return nil, ErrMissingCredentials
	}

	if config.Endpoint == "" {
		config.Endpoint = DefaultFishEndpoint
	}
	if config.Format == "" {
		config.Format = "mp3"
	}
	if config.Format != "mp3" && config.Format != "wav" {
		return nil, fmt.Errorf("unsupported audio format %q", config.Format)
	}
	if config.Latency == "" {
		config.Latency = "normal"
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 120
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	// Allow a short burst so the first sentences of a reply go out together.
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 4)

	return &FishEngine{
		apiKey:      config.APIKey,
		voiceID:     config.VoiceID,
		endpoint:    config.Endpoint,
		format:      config.Format,
		latency:     config.Latency,
		client:      client,
		rateLimiter: limiter,
		cache:       config.Cache,
		log:         logger.WithPrefix("fish"),
		metrics:     config.Metrics,
	}, nil
}

// Synthesize implements ttypes.Synthesizer.
func (e *FishEngine) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	key := cache.Key{Voice: e.voiceID, Format: e.format, Text: text}.String()
	if e.cache != nil {
		if audio, ok := e.cache.Get(key); ok {
			e.record(func(s *FishStats) { s.CacheHits++ })
			e.metrics.CacheHit(ctx)
			e.log.Debug("cache hit", "chars", len(text), "size", humanize.Bytes(uint64(len(audio))))
			return audio, nil
		}
	}

	if err := e.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	start := time.Now()
	audio, err := e.request(ctx, text)
	if err != nil {
		e.record(func(s *FishStats) { s.Failures++ })
		return nil, err
	}

	e.record(func(s *FishStats) {
		s.Requests++
		s.BytesIn += uint64(len(audio))
	})
	e.log.Debug("synthesized",
		"chars", len(text),
		"size", humanize.Bytes(uint64(len(audio))),
		"took", time.Since(start).Round(time.Millisecond))

	if e.cache != nil {
		// Cache errors are non-fatal
		if err := e.cache.Put(key, audio); err != nil {
			e.log.Debug("not cached", "err", err)
		}
	}
	return audio, nil
}

func (e *FishEngine) request(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(fishRequest{
		Text:        text,
		ReferenceID: e.voiceID,
		Format:      e.format,
		Latency:     e.latency,
		Normalize:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("fish audio returned no audio")
	}
	return audio, nil
}

func (e *FishEngine) record(fn func(*FishStats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

// Stats returns a snapshot of engine activity.
func (e *FishEngine) Stats() FishStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Format returns the audio encoding requested from the service.
func (e *FishEngine) Format() string {
	return e.format
}
