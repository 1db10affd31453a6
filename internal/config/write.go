package config

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// entry is one key of the generated config file.
type entry struct {
	key      string
	comment  string
	value    any
	children []entry
}

// WriteDefault writes c as a commented YAML config file.
func WriteDefault(w io.Writer, c Config) error {
	doc, err := mapping([]entry{
		{key: "speech", comment: "Speech pipeline timing", children: []entry{
			{key: "settle_delay", comment: "pause between one sentence ending and the next starting", value: c.Speech.SettleDelay},
			{key: "synthesis_timeout", comment: "give up on a sentence after this long", value: c.Speech.SynthesisTimeout},
			{key: "token_delay", comment: "delay between chunks when replaying text as a stream", value: c.Speech.TokenDelay},
			{key: "follow_idle", comment: "flush a followed file after this much quiet (0 disables)", value: c.Speech.FollowIdle},
		}},
		{key: "audio", comment: "Output device and volume meter", children: []entry{
			{key: "sample_rate", value: c.Audio.SampleRate},
			{key: "channels", value: c.Audio.Channels},
			{key: "buffer_size", comment: "device buffer length", value: c.Audio.BufferSize},
			{key: "meter_interval", value: c.Audio.MeterInterval},
			{key: "fft_size", value: c.Audio.FFTSize},
			{key: "ceiling", comment: "mean analyser level that counts as full volume", value: c.Audio.Ceiling},
		}},
		{key: "fish", comment: "Fish Audio synthesis; set FISH_API_KEY and FISH_VOICE_ID in the environment", children: []entry{
			{key: "endpoint", value: c.Fish.Endpoint},
			{key: "format", comment: "mp3 or wav", value: c.Fish.Format},
			{key: "latency", comment: "normal or balanced", value: c.Fish.Latency},
			{key: "requests_per_minute", value: c.Fish.RequestsPerMinute},
		}},
		{key: "cache", comment: "In-memory synthesis cache (0 disables)", children: []entry{
			{key: "capacity_mb", value: c.Cache.CapacityMB},
			{key: "ttl", value: c.Cache.TTL},
		}},
		{key: "nats", comment: "Text stream for the listen command", children: []entry{
			{key: "url", value: c.NATS.URL},
			{key: "prefix", comment: "subjects are <prefix>.chunk, .flush, .say and .stop", value: c.NATS.Prefix},
		}},
		{key: "metrics", comment: "Prometheus endpoint, e.g. \":9464\" (empty disables)", children: []entry{
			{key: "addr", value: c.Metrics.Addr},
		}},
	})
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("unable to write config: %w", err)
	}
	return enc.Close()
}

func mapping(entries []entry) (*yaml.Node, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range entries {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: e.key, HeadComment: e.comment}

		var val *yaml.Node
		var err error
		if e.children != nil {
			val, err = mapping(e.children)
		} else {
			val, err = scalar(e.value)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.key, err)
		}
		n.Content = append(n.Content, key, val)
	}
	return n, nil
}

// scalar encodes durations in their readable form, e.g. "100ms".
func scalar(v any) (*yaml.Node, error) {
	if d, ok := v.(time.Duration); ok {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: d.String()}, nil
	}
	n := &yaml.Node{}
	if err := n.Encode(v); err != nil {
		return nil, err
	}
	return n, nil
}
