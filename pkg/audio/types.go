// Package audio defines the PCM data types that flow through the capture
// pipeline and the conversions between them.
//
// A capture device produces [Frame] values in its native format. The capture
// loop converts each one with a [FormatConverter] into a mono, 16 kHz [Chunk]
// annotated with its RMS level and pushes it onto a [ChunkQueue], which the
// segmentation engine drains in FIFO order.
package audio

import "time"

// TargetSampleRate is the rate every [Chunk] is resampled to. Whisper-family
// transcription backends expect 16 kHz mono input.
const TargetSampleRate = 16000

// Frame is one raw read from a capture device: interleaved signed 16-bit PCM
// at the device's native sample rate and channel count. Frames are owned by
// the capture loop and never cross the queue.
type Frame struct {
	// Samples holds Channels interleaved values per sample instant.
	Samples []int16

	// SampleRate in Hz (e.g., 44100, 48000).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo, more for multichannel devices.
	Channels int

	// Timestamp marks when the frame was read.
	Timestamp time.Time
}

// Chunk is the unit handed from the capture loop to the segmentation engine.
// Ownership transfers to the [ChunkQueue] on push and to the consumer on
// drain; the producer must not touch Samples afterwards.
type Chunk struct {
	// Samples is mono PCM at [TargetSampleRate].
	Samples []int16

	// Level is the RMS of the normalised samples, in [0, 1].
	Level float64

	// Timestamp is the monotonic capture instant of the source frame.
	Timestamp time.Time
}

// Duration returns the playback length of the chunk at [TargetSampleRate].
func (c Chunk) Duration() time.Duration {
	return SamplesDuration(len(c.Samples), TargetSampleRate)
}

// SamplesDuration converts a sample count at rate Hz to a duration.
// Returns 0 for a non-positive rate.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}
