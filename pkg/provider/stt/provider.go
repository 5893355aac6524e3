// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider turns a finished (or growing) utterance into text. Every
// backend accepts the same input, mono float32 samples in [-1, 1] at 16 kHz,
// and returns plain text, so the segmentation engine can swap an
// accuracy-optimised local model for a latency-optimised one or a remote
// server without changing anything else.
//
// None of the backends stream: each call decodes the whole buffer it is given.
// Callers that want a live preview simply call Transcribe again as the buffer
// grows.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

var (
	// ErrBackendLoad is wrapped by constructor errors when a backend cannot be
	// initialised (missing model file, unreachable server, bad credentials).
	// It is fatal to pipeline start-up.
	ErrBackendLoad = errors.New("stt: backend load failed")

	// ErrTranscription is wrapped by Transcribe errors when a single decode
	// fails. It is non-fatal: the caller skips the cycle and keeps the audio.
	ErrTranscription = errors.New("stt: transcription failed")
)

// SampleRate is the sample rate every provider expects, in Hz.
const SampleRate = 16000

// Params carries per-call decoding hints. Zero values select the provider's
// configured defaults.
type Params struct {
	// Language is the ISO-639-1 language hint (e.g., "en", "de"). Empty lets
	// the provider use its configured default or auto-detect.
	Language string

	// Prompt is optional context text that biases the decoder towards
	// domain vocabulary.
	Prompt string

	// Temperature is the sampling temperature. Zero means deterministic
	// decoding.
	Temperature float32

	// BeamSize overrides the beam width for providers that support beam
	// search. Zero keeps the provider default.
	BeamSize int
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe decodes samples (mono, [-1, 1], 16 kHz) to text. Returned
	// errors wrap [ErrTranscription]. An empty Result with a nil error means
	// the audio contained no recognisable speech.
	Transcribe(ctx context.Context, samples []float32, params Params) (Result, error)

	// Name returns the backend identifier used in logs and metrics.
	Name() string

	// Close releases the backend's resources (model memory, connections).
	// Calling Close more than once is safe.
	Close() error
}
