// Package vad defines the Engine interface for Voice Activity Detection.
//
// A VAD engine classifies short fixed-size PCM frames as speech or silence.
// Sessions carry per-stream state (hysteresis counters, smoothing history),
// so one engine can serve several independent streams.
//
// ProcessFrame is synchronous and returns immediately; it is cheap enough to
// run inline before a decode to strip silent stretches from a buffer.
//
// Engines must be safe for concurrent use. A SessionHandle must not be shared
// across goroutines.
package vad

// Config holds the parameters for a VAD session. Threshold scales are
// engine-specific; see each Engine's documentation.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each frame in milliseconds.
	FrameSizeMs int

	// SpeechThreshold is the level at or above which a frame counts as speech.
	SpeechThreshold float64

	// SilenceThreshold is the level below which an active speech segment is
	// considered to be fading out. Must be <= SpeechThreshold.
	SilenceThreshold float64
}

// FrameSamples returns the number of samples in one frame of cfg.
func (c Config) FrameSamples() int {
	return c.SampleRate * c.FrameSizeMs / 1000
}

// SessionHandle is the detection state for a single audio stream.
type SessionHandle interface {
	// ProcessFrame classifies one frame of 16-bit little-endian mono PCM.
	// It returns an error when the frame length does not match the session
	// configuration.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine creates VAD sessions.
type Engine interface {
	// NewSession returns a session ready for frames, or an error when cfg is
	// invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
