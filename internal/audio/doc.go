// Package audio provides audio decoding, output and metering.
// Playback goes through oto/v3 on a process-wide context; MP3 and WAV
// are decoded to float samples; the meter turns the audible window of the
// current source into a 0..1 volume level.
package audio
