package segment_test

import (
	"testing"
	"time"

	"github.com/MrWong99/callscribe/internal/segment"
	"github.com/MrWong99/callscribe/pkg/audio"
)

func TestBuffer_AppendTracksTimestamps(t *testing.T) {
	var b segment.Buffer
	if !b.Empty() || !b.StartedAt().IsZero() || !b.LastSpeechAt().IsZero() {
		t.Fatal("zero Buffer is not empty")
	}

	b.Append(chunk(time.Second, 100*time.Millisecond, 0.3))
	b.Append(chunk(2*time.Second, 100*time.Millisecond, 0.3))

	if got := b.StartedAt(); !got.Equal(t0.Add(time.Second)) {
		t.Errorf("StartedAt = %v, want %v", got, t0.Add(time.Second))
	}
	if got := b.LastSpeechAt(); !got.Equal(t0.Add(2 * time.Second)) {
		t.Errorf("LastSpeechAt = %v, want %v", got, t0.Add(2*time.Second))
	}
	if b.Len() != 3200 {
		t.Errorf("Len = %d, want 3200", b.Len())
	}
	if b.Duration() != 200*time.Millisecond {
		t.Errorf("Duration = %v, want 200ms", b.Duration())
	}
}

func TestBuffer_SamplesNormalised(t *testing.T) {
	var b segment.Buffer
	b.Append(audio.Chunk{Samples: []int16{32767, -32768, 0}, Timestamp: t0})
	s := b.Samples()
	if len(s) != 3 {
		t.Fatalf("len = %d, want 3", len(s))
	}
	for i, v := range s {
		if v < -1 || v > 1 {
			t.Errorf("sample %d = %f, outside [-1, 1]", i, v)
		}
	}
	if s[2] != 0 {
		t.Errorf("sample 2 = %f, want 0", s[2])
	}
}

func TestBuffer_EmptyChunkIgnored(t *testing.T) {
	var b segment.Buffer
	b.Append(audio.Chunk{Timestamp: t0})
	if !b.Empty() || !b.StartedAt().IsZero() {
		t.Error("empty chunk started an utterance")
	}
}

func TestBuffer_Reset(t *testing.T) {
	var b segment.Buffer
	b.Append(chunk(0, time.Second, 0.3))
	b.Reset()
	if !b.Empty() || !b.StartedAt().IsZero() || !b.LastSpeechAt().IsZero() {
		t.Error("Reset left state behind")
	}
	b.Reset()
	if !b.Empty() {
		t.Error("second Reset changed state")
	}

	b.Append(chunk(5*time.Second, 100*time.Millisecond, 0.3))
	if got := b.StartedAt(); !got.Equal(t0.Add(5 * time.Second)) {
		t.Errorf("StartedAt after reset = %v, want %v", got, t0.Add(5*time.Second))
	}
}
