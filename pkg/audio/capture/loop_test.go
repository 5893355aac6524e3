package capture_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/audio/capture"
	"github.com/MrWong99/callscribe/pkg/audio/mock"
)

func stereo48k(n int, v int16) audio.Frame {
	s := make([]int16, n*2)
	for i := range s {
		s[i] = v
	}
	return audio.Frame{Samples: s, SampleRate: 48000, Channels: 2, Timestamp: time.Now()}
}

// runLoop runs l until it returns or timeout elapses, then cancels it.
func runLoop(t *testing.T, l *capture.Loop, until func() bool) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for !until() {
		select {
		case err := <-done:
			return err
		case <-deadline:
			t.Fatal("condition not reached before deadline")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
		return nil
	}
}

func TestLoop_ConvertsFrames(t *testing.T) {
	src := &mock.Source{Frames: []audio.Frame{stereo48k(1024, 16384), stereo48k(1024, 0)}}
	q := audio.NewChunkQueue(8)
	l := capture.NewLoop(src, q)

	if err := runLoop(t, l, func() bool { return q.Len() == 2 }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	chunks := q.DrainAll()
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if n := len(chunks[0].Samples); n != 341 {
		t.Errorf("chunk length = %d, want 341 (1024 @ 48k → 16k)", n)
	}
	if math.Abs(chunks[0].Level-0.5) > 1e-9 {
		t.Errorf("loud chunk level = %f, want 0.5", chunks[0].Level)
	}
	if chunks[1].Level != 0 {
		t.Errorf("silent chunk level = %f, want 0", chunks[1].Level)
	}
	if got := l.Stats().Captured; got != 2 {
		t.Errorf("Captured = %d, want 2", got)
	}
}

func TestLoop_DeviceReadErrorIsFatal(t *testing.T) {
	src := &mock.Source{ReadErr: errors.New("device unplugged")}
	q := audio.NewChunkQueue(8)
	l := capture.NewLoop(src, q)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	select {
	case err := <-done:
		if !errors.Is(err, capture.ErrDeviceRead) {
			t.Errorf("err = %v, want ErrDeviceRead", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit on read error")
	}
}

func TestLoop_OverflowTolerated(t *testing.T) {
	src := &mock.Source{
		Frames:   []audio.Frame{stereo48k(256, 100), stereo48k(256, 100)},
		Overflow: map[int]bool{0: true},
	}
	q := audio.NewChunkQueue(8)
	l := capture.NewLoop(src, q)

	if err := runLoop(t, l, func() bool { return q.Len() == 2 }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := l.Stats().Overflows; got != 1 {
		t.Errorf("Overflows = %d, want 1", got)
	}
}

func TestLoop_FullQueueDropsOldest(t *testing.T) {
	var frames []audio.Frame
	for i := range 5 {
		f := stereo48k(64, int16(1000*(i+1)))
		frames = append(frames, f)
	}
	src := &mock.Source{Frames: frames}
	q := audio.NewChunkQueue(2)
	l := capture.NewLoop(src, q, capture.WithPushRetry(1, time.Millisecond))

	if err := runLoop(t, l, func() bool { return src.Remaining() == 0 && l.Stats().Captured == 5 }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := l.Stats()
	if st.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", st.Dropped)
	}
	chunks := q.DrainAll()
	if len(chunks) != 2 {
		t.Fatalf("queue holds %d chunks, want 2", len(chunks))
	}
	if chunks[0].Level >= chunks[1].Level {
		t.Errorf("expected the two newest chunks in order, got levels %f, %f", chunks[0].Level, chunks[1].Level)
	}
}

func TestLoop_PausedProducesNothing(t *testing.T) {
	src := &mock.Source{Frames: []audio.Frame{stereo48k(256, 100)}}
	q := audio.NewChunkQueue(8)
	l := capture.NewLoop(src, q)
	l.SetPaused(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if q.Len() != 0 {
		t.Fatalf("paused loop produced %d chunks", q.Len())
	}
	if src.Remaining() != 1 {
		t.Fatal("paused loop should not read the device")
	}

	l.SetPaused(false)
	deadline := time.Now().Add(2 * time.Second)
	for q.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if q.Len() != 1 {
		t.Errorf("resumed loop produced %d chunks, want 1", q.Len())
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v after cancel, want nil", err)
	}
}

func TestLoop_StopsPromptlyOnCancel(t *testing.T) {
	src := &mock.Source{Idle: 5 * time.Millisecond}
	l := capture.NewLoop(src, audio.NewChunkQueue(8))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
		if time.Since(start) > 500*time.Millisecond {
			t.Errorf("Run took %v to observe cancellation", time.Since(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
