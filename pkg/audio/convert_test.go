package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/callscribe/pkg/audio"
)

func constant(n int, v int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestDownmix_Stereo(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	got := audio.Downmix([]int16{100, 200, -100, -200}, 2)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix_NoOverflow(t *testing.T) {
	got := audio.Downmix([]int16{32767, 32767, 32767, -32768, -32768, -32768}, 3)
	want := []int16{32767, -32768}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownmix_MonoPassthrough(t *testing.T) {
	in := []int16{1, 2, 3}
	got := audio.Downmix(in, 1)
	if &got[0] != &in[0] {
		t.Error("expected mono input to be returned unchanged")
	}
}

func TestResampleLinear_Length(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		src, dst int
	}{
		{"48k to 16k", 1024, 48000, 16000},
		{"44.1k to 16k", 1024, 44100, 16000},
		{"8k to 16k", 160, 8000, 16000},
		{"22.05k to 16k", 999, 22050, 16000},
		{"96k to 16k", 4096, 96000, 16000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := audio.ResampleLinear(constant(tc.n, 1000), tc.src, tc.dst)
			want := int(math.Round(float64(tc.n) * float64(tc.dst) / float64(tc.src)))
			if diff := len(out) - want; diff < -1 || diff > 1 {
				t.Errorf("len = %d, want %d ±1", len(out), want)
			}
		})
	}
}

func TestResampleLinear_SameRate(t *testing.T) {
	in := []int16{100, 200, 300}
	out := audio.ResampleLinear(in, 16000, 16000)
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
}

func TestResampleLinear_InvalidRates(t *testing.T) {
	in := []int16{100, 200, 300}
	if out := audio.ResampleLinear(in, 0, 16000); len(out) != len(in) {
		t.Errorf("srcRate=0: len = %d, want %d", len(out), len(in))
	}
	if out := audio.ResampleLinear(in, 16000, -1); len(out) != len(in) {
		t.Errorf("dstRate=-1: len = %d, want %d", len(out), len(in))
	}
}

func TestResampleLinear_EndpointsAndRamp(t *testing.T) {
	// A linear ramp must stay a linear ramp after linear interpolation.
	in := make([]int16, 301)
	for i := range in {
		in[i] = int16(i * 10)
	}
	out := audio.ResampleLinear(in, 48000, 16000) // 100.33 → 100 samples
	if len(out) != 100 {
		t.Fatalf("len = %d, want 100", len(out))
	}
	if out[0] != in[0] {
		t.Errorf("first = %d, want %d", out[0], in[0])
	}
	if out[len(out)-1] != in[len(in)-1] {
		t.Errorf("last = %d, want %d", out[len(out)-1], in[len(in)-1])
	}
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Fatalf("ramp not monotonic at %d: %d < %d", i, out[i], out[i-1])
		}
	}
}

func TestResampleLinear_Upsample(t *testing.T) {
	out := audio.ResampleLinear([]int16{0, 100}, 8000, 16000)
	want := []int16{0, 33, 67, 100}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, out[i], want[i])
		}
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", constant(512, 0), 0},
		{"half scale", constant(512, 16384), 0.5},
		{"alternating half scale", []int16{16384, -16384, 16384, -16384}, 0.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := audio.RMS(tc.samples)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("RMS = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestRMS_FullScaleWithinUnitRange(t *testing.T) {
	got := audio.RMS(constant(64, -32768))
	if got < 0.999 || got > 1.0 {
		t.Errorf("RMS = %f, want in [0.999, 1]", got)
	}
}

func TestAppendFloat32_Normalises(t *testing.T) {
	got := audio.AppendFloat32(nil, []int16{0, 16384, -32768})
	want := []float32{0, 0.5, -1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %f, want %f", i, got[i], want[i])
		}
	}
}

func TestFloat32ToPCM16_Clamps(t *testing.T) {
	got := audio.Float32ToPCM16([]float32{2, -2, 0})
	want := []int16{32767, -32768, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFormatConverter_StereoToTarget(t *testing.T) {
	ts := time.Now()
	conv := audio.FormatConverter{}
	chunk := conv.Convert(audio.Frame{
		Samples:    constant(2048, 16384), // 1024 stereo frames
		SampleRate: 48000,
		Channels:   2,
		Timestamp:  ts,
	})
	if len(chunk.Samples) != 341 {
		t.Errorf("len = %d, want 341", len(chunk.Samples))
	}
	if math.Abs(chunk.Level-0.5) > 1e-9 {
		t.Errorf("level = %f, want 0.5", chunk.Level)
	}
	if !chunk.Timestamp.Equal(ts) {
		t.Errorf("timestamp changed: got %v, want %v", chunk.Timestamp, ts)
	}
}

func TestFormatConverter_TruncatesMisalignedFrame(t *testing.T) {
	conv := audio.FormatConverter{TargetRate: 16000}
	chunk := conv.Convert(audio.Frame{
		Samples:    constant(5, 100), // 2 whole stereo frames + 1 stray sample
		SampleRate: 16000,
		Channels:   2,
	})
	if len(chunk.Samples) != 2 {
		t.Errorf("len = %d, want 2", len(chunk.Samples))
	}
}

func TestChunk_Duration(t *testing.T) {
	c := audio.Chunk{Samples: make([]int16, 8000)}
	if got := c.Duration(); got != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", got)
	}
}

func TestFormat_String(t *testing.T) {
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tc := range tests {
		if got := tc.f.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}
