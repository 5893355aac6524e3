// Package segment turns a stream of audio chunks into finished utterances.
//
// The [Engine] drains the capture queue, appends speech-bearing chunks to a
// [Buffer], asks the transcription backend for a running preview of the whole
// buffer, and applies a [Policy] to decide when the utterance is complete.
// Completed utterances are delivered to a callback as text.
//
// All buffer state is owned by the goroutine running the engine. Other
// goroutines influence it only through [Engine.Pause], [Engine.Resume] and
// [Engine.SetPolicy], which are applied at the start of the next iteration.
package segment

import (
	"time"

	"github.com/MrWong99/callscribe/pkg/audio"
)

// Buffer accumulates the speech of one utterance as float samples in [-1, 1]
// at 16 kHz.
//
// Invariant: StartedAt is non-zero if and only if the buffer holds samples.
// Buffer is not safe for concurrent use.
type Buffer struct {
	samples      []float32
	startedAt    time.Time
	lastSpeechAt time.Time
}

// Append adds a speech chunk. The first chunk after a reset sets StartedAt;
// every chunk moves LastSpeechAt to its timestamp. Empty chunks are ignored.
func (b *Buffer) Append(c audio.Chunk) {
	if len(c.Samples) == 0 {
		return
	}
	if len(b.samples) == 0 {
		b.startedAt = c.Timestamp
	}
	b.samples = audio.AppendFloat32(b.samples, c.Samples)
	if c.Timestamp.After(b.lastSpeechAt) {
		b.lastSpeechAt = c.Timestamp
	}
}

// Samples returns the accumulated samples. The slice is only valid until the
// next Append or Reset and must not be modified.
func (b *Buffer) Samples() []float32 { return b.samples }

// Len returns the number of buffered samples.
func (b *Buffer) Len() int { return len(b.samples) }

// Empty reports whether the buffer holds no audio.
func (b *Buffer) Empty() bool { return len(b.samples) == 0 }

// Duration returns the playback length of the buffered audio.
func (b *Buffer) Duration() time.Duration {
	return audio.SamplesDuration(len(b.samples), audio.TargetSampleRate)
}

// StartedAt returns when the utterance began, or the zero time when empty.
func (b *Buffer) StartedAt() time.Time { return b.startedAt }

// LastSpeechAt returns the timestamp of the most recent speech chunk, or the
// zero time when empty.
func (b *Buffer) LastSpeechAt() time.Time { return b.lastSpeechAt }

// Reset empties the buffer and clears both timestamps. The backing array is
// kept for reuse.
func (b *Buffer) Reset() {
	clear(b.samples)
	b.samples = b.samples[:0]
	b.startedAt = time.Time{}
	b.lastSpeechAt = time.Time{}
}
