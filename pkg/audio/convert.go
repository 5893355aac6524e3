package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// FormatConverter turns native [Frame] values into mono [Chunk] values at a
// target rate. It logs once on the first format mismatch and once on the first
// misaligned frame. Create one per capture session; not designed for shared
// use across goroutines.
type FormatConverter struct {
	// TargetRate is the output sample rate. Zero means [TargetSampleRate].
	TargetRate int

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert downmixes frame to mono, resamples it to the target rate and
// measures its RMS level. Frames whose sample count is not a multiple of the
// channel count are truncated to the last whole sample instant.
func (c *FormatConverter) Convert(frame Frame) Chunk {
	target := c.TargetRate
	if target <= 0 {
		target = TargetSampleRate
	}
	channels := max(frame.Channels, 1)

	samples := frame.Samples
	if rem := len(samples) % channels; rem != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: sample count not aligned to channel count, truncating",
				"samples", len(samples),
				"channels", channels,
			)
		})
		samples = samples[:len(samples)-rem]
	}

	if frame.SampleRate != target || channels != 1 {
		c.warnedMismatch.Do(func() {
			slog.Info("audio format converter: converting capture format",
				"from", formatString(frame.SampleRate, channels),
				"to", formatString(target, 1),
			)
		})
	}

	mono := Downmix(samples, channels)
	mono = ResampleLinear(mono, frame.SampleRate, target)

	return Chunk{
		Samples:   mono,
		Level:     RMS(mono),
		Timestamp: frame.Timestamp,
	}
}

// Downmix averages interleaved channels into a single mono channel. The input
// is returned unchanged when channels <= 1. Uses int32 accumulation so that
// loud multichannel input cannot overflow.
func Downmix(interleaved []int16, channels int) []int16 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		base := i * channels
		for ch := range channels {
			sum += int32(interleaved[base+ch])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// ResampledLength returns the number of output samples produced when n
// samples at srcRate are resampled to dstRate: round(n * dst / src).
func ResampledLength(n, srcRate, dstRate int) int {
	if srcRate <= 0 || dstRate <= 0 {
		return n
	}
	return int(math.Round(float64(n) * float64(dstRate) / float64(srcRate)))
}

// ResampleLinear resamples mono PCM from srcRate to dstRate by linear
// interpolation. The output has [ResampledLength] samples placed at evenly
// spaced positions over the source index axis, so the first and last output
// samples coincide with the first and last input samples. The input is
// returned unchanged when the rates match or either rate is invalid.
func ResampleLinear(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := len(samples)
	m := ResampledLength(n, srcRate, dstRate)
	if m <= 0 {
		return nil
	}
	out := make([]int16, m)
	if m == 1 || n == 1 {
		for i := range out {
			out[i] = samples[0]
		}
		return out
	}

	step := float64(n-1) / float64(m-1)
	for i := range m {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= n-1 {
			out[i] = samples[n-1]
			continue
		}
		frac := pos - float64(idx)
		s0 := float64(samples[idx])
		s1 := float64(samples[idx+1])
		out[i] = int16(math.Round(s0 + (s1-s0)*frac))
	}
	return out
}

// RMS returns the root-mean-square amplitude of samples after normalising
// them to [-1, 1]. Returns 0 for an empty slice.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// AppendFloat32 normalises samples to [-1, 1] and appends them to dst.
func AppendFloat32(dst []float32, samples []int16) []float32 {
	for _, s := range samples {
		dst = append(dst, float32(s)/32768.0)
	}
	return dst
}

// Float32ToPCM16 converts normalised float samples back to 16-bit PCM,
// clamping values outside [-1, 1].
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		switch {
		case s >= 1:
			out[i] = math.MaxInt16
		case s <= -1:
			out[i] = math.MinInt16
		default:
			out[i] = int16(s * 32767)
		}
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
