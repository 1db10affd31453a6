// Package engines contains speech synthesis backends.
// Each backend implements ttypes.Synthesizer and returns encoded audio
// (MP3 or WAV) for the audio package to decode.
package engines
