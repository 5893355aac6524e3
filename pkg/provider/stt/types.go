package stt

import (
	"strings"
	"time"
)

// Result is the text produced for one decode. It is not retained by the
// provider.
type Result struct {
	// Text is the transcribed speech content, trimmed of surrounding space.
	Text string

	// Language is the language the provider detected or used, when reported.
	Language string

	// Duration is how long the decode took.
	Duration time.Duration
}

// Empty reports whether the result carries no text.
func (r Result) Empty() bool { return strings.TrimSpace(r.Text) == "" }

// AudioDuration returns the playback length of n samples at [SampleRate].
func AudioDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}
