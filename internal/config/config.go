// Package config loads speakstream settings from the config file,
// SPEAKSTREAM_* environment variables and command-line flags.
package config

import (
	"fmt"
	"math/bits"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// Config contains all speakstream configuration options.
type Config struct {
	Speech  SpeechConfig  `yaml:"speech" mapstructure:"speech"`
	Audio   AudioConfig   `yaml:"audio" mapstructure:"audio"`
	Fish    FishConfig    `yaml:"fish" mapstructure:"fish"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	NATS    NATSConfig    `yaml:"nats" mapstructure:"nats"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// SpeechConfig contains pipeline timing.
type SpeechConfig struct {
	SettleDelay      time.Duration `yaml:"settle_delay" mapstructure:"settle_delay"`
	SynthesisTimeout time.Duration `yaml:"synthesis_timeout" mapstructure:"synthesis_timeout"`
	TokenDelay       time.Duration `yaml:"token_delay" mapstructure:"token_delay"`
	FollowIdle       time.Duration `yaml:"follow_idle" mapstructure:"follow_idle"`
}

// AudioConfig contains output device and meter settings.
type AudioConfig struct {
	SampleRate    int           `yaml:"sample_rate" mapstructure:"sample_rate"`
	Channels      int           `yaml:"channels" mapstructure:"channels"`
	BufferSize    time.Duration `yaml:"buffer_size" mapstructure:"buffer_size"`
	MeterInterval time.Duration `yaml:"meter_interval" mapstructure:"meter_interval"`
	FFTSize       int           `yaml:"fft_size" mapstructure:"fft_size"`
	Ceiling       float64       `yaml:"ceiling" mapstructure:"ceiling"`
}

// FishConfig contains synthesis backend settings. Credentials are not part
// of it; see Credentials.
type FishConfig struct {
	Endpoint          string `yaml:"endpoint" mapstructure:"endpoint"`
	Format            string `yaml:"format" mapstructure:"format"`
	Latency           string `yaml:"latency" mapstructure:"latency"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// CacheConfig contains synthesis cache settings.
type CacheConfig struct {
	CapacityMB int           `yaml:"capacity_mb" mapstructure:"capacity_mb"`
	TTL        time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// NATSConfig contains settings for the listen command.
type NATSConfig struct {
	URL    string `yaml:"url" mapstructure:"url"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

// MetricsConfig contains the Prometheus endpoint address; empty disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// Credentials are read from the environment only.
type Credentials struct {
	APIKey  string `env:"FISH_API_KEY"`
	VoiceID string `env:"FISH_VOICE_ID"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Speech: SpeechConfig{
			SettleDelay:      100 * time.Millisecond,
			SynthesisTimeout: 30 * time.Second,
			TokenDelay:       30 * time.Millisecond,
			FollowIdle:       1500 * time.Millisecond,
		},
		Audio: AudioConfig{
			SampleRate:    44100,
			Channels:      2,
			BufferSize:    50 * time.Millisecond,
			MeterInterval: 16 * time.Millisecond,
			FFTSize:       256,
			Ceiling:       128,
		},
		Fish: FishConfig{
			Endpoint:          "https://api.fish.audio/v1/tts",
			Format:            "mp3",
			Latency:           "normal",
			RequestsPerMinute: 120,
		},
		Cache: CacheConfig{
			CapacityMB: 32,
			TTL:        time.Hour,
		},
		NATS: NATSConfig{
			URL:    "nats://127.0.0.1:4222",
			Prefix: "speakstream",
		},
	}
}

// SetDefaults registers every default on v so environment overrides and
// Unmarshal see all keys.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("speech.settle_delay", d.Speech.SettleDelay)
	v.SetDefault("speech.synthesis_timeout", d.Speech.SynthesisTimeout)
	v.SetDefault("speech.token_delay", d.Speech.TokenDelay)
	v.SetDefault("speech.follow_idle", d.Speech.FollowIdle)

	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.buffer_size", d.Audio.BufferSize)
	v.SetDefault("audio.meter_interval", d.Audio.MeterInterval)
	v.SetDefault("audio.fft_size", d.Audio.FFTSize)
	v.SetDefault("audio.ceiling", d.Audio.Ceiling)

	v.SetDefault("fish.endpoint", d.Fish.Endpoint)
	v.SetDefault("fish.format", d.Fish.Format)
	v.SetDefault("fish.latency", d.Fish.Latency)
	v.SetDefault("fish.requests_per_minute", d.Fish.RequestsPerMinute)

	v.SetDefault("cache.capacity_mb", d.Cache.CapacityMB)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.prefix", d.NATS.Prefix)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// BindEnv makes SPEAKSTREAM_SECTION_KEY variables override file values.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("speakstream")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadCredentials reads the Fish Audio key and voice from the environment.
func LoadCredentials() (Credentials, error) {
	creds, err := env.ParseAs[Credentials]()
	if err != nil {
		return Credentials{}, fmt.Errorf("error parsing credentials: %w", err)
	}
	return creds, nil
}

// Missing lists the unset credential variables.
func (c Credentials) Missing() []string {
	var out []string
	if c.APIKey == "" {
		out = append(out, "FISH_API_KEY")
	}
	if c.VoiceID == "" {
		out = append(out, "FISH_VOICE_ID")
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Speech.Validate(); err != nil {
		return fmt.Errorf("speech config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Fish.Validate(); err != nil {
		return fmt.Errorf("fish config: %w", err)
	}
	if c.Cache.CapacityMB < 0 || c.Cache.CapacityMB > 4096 {
		return fmt.Errorf("cache config: capacity_mb must be between 0 and 4096, got %d", c.Cache.CapacityMB)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache config: ttl cannot be negative, got %v", c.Cache.TTL)
	}
	if c.NATS.Prefix == "" || strings.ContainsAny(c.NATS.Prefix, " *>") {
		return fmt.Errorf("nats config: invalid subject prefix %q", c.NATS.Prefix)
	}
	return nil
}

// Validate checks if the speech timing is valid.
func (c *SpeechConfig) Validate() error {
	if c.SettleDelay < 0 || c.SettleDelay > 5*time.Second {
		return fmt.Errorf("settle_delay must be between 0 and 5s, got %v", c.SettleDelay)
	}
	if c.SynthesisTimeout < time.Second {
		return fmt.Errorf("synthesis_timeout must be at least 1 second, got %v", c.SynthesisTimeout)
	}
	if c.TokenDelay < 0 {
		return fmt.Errorf("token_delay cannot be negative, got %v", c.TokenDelay)
	}
	if c.FollowIdle < 0 {
		return fmt.Errorf("follow_idle cannot be negative, got %v", c.FollowIdle)
	}
	return nil
}

// Validate checks if the audio settings are valid.
func (c *AudioConfig) Validate() error {
	validSampleRates := []int{44100, 48000}
	if !slices.Contains(validSampleRates, c.SampleRate) {
		return fmt.Errorf("invalid sample rate %d: must be one of %v", c.SampleRate, validSampleRates)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.BufferSize < 10*time.Millisecond || c.BufferSize > time.Second {
		return fmt.Errorf("buffer_size must be between 10ms and 1s, got %v", c.BufferSize)
	}
	if c.MeterInterval < 5*time.Millisecond || c.MeterInterval > time.Second {
		return fmt.Errorf("meter_interval must be between 5ms and 1s, got %v", c.MeterInterval)
	}
	if c.FFTSize < 32 || c.FFTSize > 32768 || bits.OnesCount(uint(c.FFTSize)) != 1 {
		return fmt.Errorf("fft_size must be a power of two between 32 and 32768, got %d", c.FFTSize)
	}
	if c.Ceiling <= 0 || c.Ceiling > 255 {
		return fmt.Errorf("ceiling must be in (0, 255], got %g", c.Ceiling)
	}
	return nil
}

// Validate checks if the synthesis backend settings are valid.
func (c *FishConfig) Validate() error {
	c.Format = strings.ToLower(c.Format)
	if c.Format != "mp3" && c.Format != "wav" {
		return fmt.Errorf("invalid format %q: must be mp3 or wav", c.Format)
	}
	c.Latency = strings.ToLower(c.Latency)
	if c.Latency != "normal" && c.Latency != "balanced" {
		return fmt.Errorf("invalid latency %q: must be normal or balanced", c.Latency)
	}
	if c.RequestsPerMinute < 1 || c.RequestsPerMinute > 10000 {
		return fmt.Errorf("requests_per_minute must be between 1 and 10000, got %d", c.RequestsPerMinute)
	}
	if !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return fmt.Errorf("endpoint must be an http(s) URL, got %q", c.Endpoint)
	}
	return nil
}
