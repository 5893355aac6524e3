// Package mock provides in-memory implementations of [capture.Source] and
// [device.Resolver] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Frames: []audio.Frame{frame1, frame2}}
//	res := &mock.Resolver{Result: device.Descriptor{Name: "sink.monitor"}}
//	p := pipeline.New(res, func() capture.Source { return src }, backends, cfg)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/audio/capture"
	"github.com/MrWong99/callscribe/pkg/audio/device"
)

// ─── Resolver ────────────────────────────────────────────────────────────────

// Compile-time assertion that Resolver satisfies device.Resolver.
var _ device.Resolver = (*Resolver)(nil)

// Resolver is a mock implementation of [device.Resolver].
type Resolver struct {
	mu sync.Mutex

	// Result is returned by [Resolver.Resolve] when Err is nil.
	Result device.Descriptor

	// Err is returned by [Resolver.Resolve].
	Err error

	// CallCount records how many times Resolve was called.
	CallCount int
}

// Resolve implements [device.Resolver].
func (r *Resolver) Resolve(_ context.Context) (device.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCount++
	if r.Err != nil {
		return device.Descriptor{}, r.Err
	}
	return r.Result, nil
}

// Calls returns how many times Resolve was called.
func (r *Resolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CallCount
}

// ─── Source ──────────────────────────────────────────────────────────────────

// Compile-time assertion that Source satisfies capture.Source.
var _ capture.Source = (*Source)(nil)

// Source is a scripted mock implementation of [capture.Source]. Read returns
// Frames in order; once they are exhausted it returns ReadErr when set, or
// [capture.ErrNoFrame] after sleeping Idle (default 1ms).
type Source struct {
	mu sync.Mutex

	// Frames is the script of frames returned by Read.
	Frames []audio.Frame

	// Overflow, when set, makes the frame at each listed position come back
	// with [capture.ErrInputOverflow].
	Overflow map[int]bool

	// ReadErr is returned once Frames are exhausted. Nil means "no data".
	ReadErr error

	// OpenErr is returned by Open.
	OpenErr error

	// CloseErr is returned by Close.
	CloseErr error

	// Idle is how long Read blocks when no frame is scripted.
	Idle time.Duration

	// BlockRead, when set, makes Read ignore ctx and block until the channel
	// is closed. It simulates a wedged device driver.
	BlockRead chan struct{}

	// OpenedWith records the descriptor passed to the last Open call.
	OpenedWith device.Descriptor

	// FrameSize records the frame size passed to the last Open call.
	FrameSize int

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// CallCountRead records how many times Read was called.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	next int
	open bool
}

// Open implements [capture.Source].
func (s *Source) Open(_ context.Context, d device.Descriptor, frameSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	s.OpenedWith = d
	s.FrameSize = frameSize
	if s.OpenErr != nil {
		return s.OpenErr
	}
	s.open = true
	return nil
}

// Read implements [capture.Source].
func (s *Source) Read(ctx context.Context) (audio.Frame, error) {
	s.mu.Lock()
	s.CallCountRead++
	block := s.BlockRead
	if s.next < len(s.Frames) {
		i := s.next
		f := s.Frames[i]
		s.next++
		overflow := s.Overflow[i]
		s.mu.Unlock()
		if overflow {
			return f, capture.ErrInputOverflow
		}
		return f, nil
	}
	readErr := s.ReadErr
	idle := s.Idle
	s.mu.Unlock()

	if block != nil {
		<-block
		return audio.Frame{}, capture.ErrNoFrame
	}
	if readErr != nil {
		return audio.Frame{}, readErr
	}
	if idle <= 0 {
		idle = time.Millisecond
	}
	t := time.NewTimer(idle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	case <-t.C:
	}
	return audio.Frame{}, capture.ErrNoFrame
}

// Close implements [capture.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.open = false
	return s.CloseErr
}

// IsOpen reports whether Open succeeded and Close has not been called since.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Closes returns how many times Close was called.
func (s *Source) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// Push appends frames to the script while the source is in use.
func (s *Source) Push(frames ...audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, frames...)
}

// Remaining returns how many scripted frames have not been read yet.
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames) - s.next
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// ToneFrame returns a mono 16 kHz frame of n samples at constant amplitude.
// An amplitude of 0 yields silence.
func ToneFrame(n int, amplitude int16, ts time.Time) audio.Frame {
	samples := make([]int16, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	return audio.Frame{
		Samples:    samples,
		SampleRate: audio.TargetSampleRate,
		Channels:   1,
		Timestamp:  ts,
	}
}
