package tts

import (
	"errors"
	"fmt"
)

// Common speech errors
var (
	// ErrSynthesisFailed indicates the remote synthesizer failed or returned an error status
	ErrSynthesisFailed = errors.New("text synthesis failed")

	// ErrDecodeFailed indicates synthesized bytes could not be decoded
	ErrDecodeFailed = errors.New("audio decode failed")

	// ErrDeviceUnavailable indicates the audio output could not be acquired
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrStaleCompletion indicates a completion arrived for a superseded session
	ErrStaleCompletion = errors.New("completion belongs to a superseded session")

	// ErrClosed indicates the coordinator has been torn down
	ErrClosed = errors.New("speech coordinator is closed")

	// ErrNothingToSpeak indicates a segment normalized to empty text
	ErrNothingToSpeak = errors.New("segment has no speakable text")
)

// TTSError represents a speech error with additional context
type TTSError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *TTSError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *TTSError) Unwrap() error {
	return e.Cause
}

// ErrorCode identifies specific error types
type ErrorCode string

const (
	ErrorCodeSynthesisFailure  ErrorCode = "SYNTHESIS_FAILURE"
	ErrorCodeDecodeFailure     ErrorCode = "DECODE_FAILURE"
	ErrorCodeDeviceUnavailable ErrorCode = "DEVICE_UNAVAILABLE"
	ErrorCodeStaleCompletion   ErrorCode = "STALE_COMPLETION"
	ErrorCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorCodeTimeout           ErrorCode = "TIMEOUT"
	ErrorCodeCanceled          ErrorCode = "CANCELED"
)

// NewTTSError creates a new speech error with context
func NewTTSError(code ErrorCode, message string, cause error) *TTSError {
	return &TTSError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context to the error
func (e *TTSError) WithContext(key string, value interface{}) *TTSError {
	e.Context[key] = value
	return e
}

// IsFatal returns true if the error should stop the session
func (e *TTSError) IsFatal() bool {
	return e.Code == ErrorCodeDeviceUnavailable
}

// IsRetryable returns true if the operation can be retried
func (e *TTSError) IsRetryable() bool {
	switch e.Code {
	case ErrorCodeTimeout, ErrorCodeDeviceUnavailable:
		return true
	default:
		return false
	}
}

// stageOf names the pipeline stage an error came from, for logs and metrics.
func stageOf(err error) string {
	var te *TTSError
	if errors.As(err, &te) {
		switch te.Code {
		case ErrorCodeSynthesisFailure:
			return "synthesis"
		case ErrorCodeDecodeFailure:
			return "decode"
		case ErrorCodeDeviceUnavailable:
			return "device"
		case ErrorCodeInvalidInput:
			return "input"
		case ErrorCodeTimeout:
			return "timeout"
		case ErrorCodeCanceled:
			return "canceled"
		}
	}
	return "unknown"
}
