package ui

import "time"

// Config contains TUI-specific configuration.
type Config struct {
	GlamourStyle   string `env:"GLAMOUR_STYLE"              envDefault:"auto"`
	GlamourEnabled bool   `env:"SPEAKSTREAM_ENABLE_GLAMOUR" envDefault:"true"`

	// Title is shown above the orb, usually the input name.
	Title string

	// Width caps the transcript width; zero follows the terminal.
	Width int

	// TickInterval is how often playback state is polled.
	TickInterval time.Duration
}

const defaultTickInterval = 33 * time.Millisecond
