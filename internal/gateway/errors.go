// Package gateway holds the speech and language provider clients. Each
// client wraps one hosted API behind a narrow interface so the call
// pipeline never sees provider types.
package gateway

import (
	"errors"
	"fmt"
)

// ErrNoSpeech reports that transcription succeeded but produced no usable
// text. Callers treat it as a silent turn, not a provider failure.
var ErrNoSpeech = errors.New("no speech detected")

// TranscriptionError wraps a speech-to-text failure after retries.
type TranscriptionError struct {
	Provider string
	Status   int
	Err      error
}

func (e *TranscriptionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transcription failed: provider=%s status=%d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("transcription failed: provider=%s: %v", e.Provider, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// CompletionError wraps a language-model failure after retries.
type CompletionError struct {
	Provider string
	Status   int
	Err      error
}

func (e *CompletionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("completion failed: provider=%s status=%d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("completion failed: provider=%s: %v", e.Provider, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// SynthesisError wraps a text-to-speech failure. Synthesis is best effort;
// the pipeline logs this error and still returns the answer text.
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed: provider=%s: %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// retryableStatus reports whether an HTTP status is worth another attempt.
// Client errors other than 429 are permanent.
func retryableStatus(status int) bool {
	return status == 429 || status >= 500
}
