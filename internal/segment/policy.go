package segment

import (
	"errors"
	"fmt"
	"time"
)

// Defaults for [Policy].
const (
	DefaultSilenceThreshold  = 0.01
	DefaultPhraseTimeout     = 3 * time.Second
	DefaultMaxPhraseDuration = 15 * time.Second
	DefaultMinAudioLength    = 500 * time.Millisecond
)

// Policy holds the thresholds that decide what counts as speech, when a
// preview is worth decoding, and when an utterance is complete.
type Policy struct {
	// SilenceThreshold is the RMS level in [0, 1] a chunk must exceed to
	// count as speech.
	SilenceThreshold float64

	// PhraseTimeout is how long without speech finalizes an utterance.
	PhraseTimeout time.Duration

	// MaxPhraseDuration caps an utterance regardless of ongoing speech.
	MaxPhraseDuration time.Duration

	// MinAudioLength is the buffered audio needed before a preview decode.
	MinAudioLength time.Duration
}

// DefaultPolicy returns the default thresholds.
func DefaultPolicy() Policy {
	return Policy{
		SilenceThreshold:  DefaultSilenceThreshold,
		PhraseTimeout:     DefaultPhraseTimeout,
		MaxPhraseDuration: DefaultMaxPhraseDuration,
		MinAudioLength:    DefaultMinAudioLength,
	}
}

// Validate reports every invalid field.
func (p Policy) Validate() error {
	var errs []error
	if p.SilenceThreshold < 0 || p.SilenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("silence threshold %.4f must be in [0, 1)", p.SilenceThreshold))
	}
	if p.PhraseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("phrase timeout %v must be positive", p.PhraseTimeout))
	}
	if p.MaxPhraseDuration <= 0 {
		errs = append(errs, fmt.Errorf("max phrase duration %v must be positive", p.MaxPhraseDuration))
	}
	if p.MinAudioLength < 0 {
		errs = append(errs, fmt.Errorf("min audio length %v must not be negative", p.MinAudioLength))
	}
	if p.MaxPhraseDuration > 0 && p.MinAudioLength > p.MaxPhraseDuration {
		errs = append(errs, fmt.Errorf("min audio length %v exceeds max phrase duration %v", p.MinAudioLength, p.MaxPhraseDuration))
	}
	return errors.Join(errs...)
}

// IsSpeech reports whether a chunk with the given level carries speech.
func (p Policy) IsSpeech(level float64) bool {
	return level > p.SilenceThreshold
}

// ShouldPreview reports whether b holds enough audio for a preview decode.
func (p Policy) ShouldPreview(b *Buffer) bool {
	return !b.Empty() && b.Duration() >= p.MinAudioLength
}

// Reason says why an utterance was finalized.
type Reason int

const (
	// Continue means the utterance is still open.
	Continue Reason = iota

	// MaxDuration means the utterance hit MaxPhraseDuration.
	MaxDuration

	// Silence means no speech arrived for PhraseTimeout.
	Silence
)

// String returns the metric/log label of the reason.
func (r Reason) String() string {
	switch r {
	case MaxDuration:
		return "max_duration"
	case Silence:
		return "silence"
	default:
		return "continue"
	}
}

// Evaluate decides whether b is complete at now. The max-duration cutoff
// takes priority over the silence cutoff. An empty buffer never finalizes.
func (p Policy) Evaluate(b *Buffer, now time.Time) Reason {
	if b.Empty() {
		return Continue
	}
	if now.Sub(b.StartedAt()) >= p.MaxPhraseDuration {
		return MaxDuration
	}
	if now.Sub(b.LastSpeechAt()) >= p.PhraseTimeout {
		return Silence
	}
	return Continue
}
