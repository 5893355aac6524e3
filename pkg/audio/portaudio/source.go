// Package portaudio captures from PortAudio input devices. It is the only
// package that links the PortAudio C library; everything else talks to it
// through [capture.Source] and [device.Resolver].
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/audio/capture"
	"github.com/MrWong99/callscribe/pkg/audio/device"
)

// DefaultPollInterval is how long [Source.Read] sleeps when less
// than one frame is buffered by the device.
const DefaultPollInterval = 10 * time.Millisecond

// Compile-time assertion that Source satisfies capture.Source.
var _ capture.Source = (*Source)(nil)

// Source captures from a PortAudio input stream using polled reads,
// so a stop request is observed within one poll interval even when the
// device delivers nothing.
type Source struct {
	mu           sync.Mutex
	stream       *pa.Stream
	buf          []int16
	frameSize    int
	channels     int
	sampleRate   int
	pollInterval time.Duration
	initialized  bool
}

// NewSource returns an unopened PortAudio source.
func NewSource() *Source {
	return &Source{pollInterval: DefaultPollInterval}
}

// Open initializes PortAudio and starts an input stream on d. Sound-server
// monitor sources are selected through the PULSE_SOURCE environment
// variable before the stream is opened.
func (s *Source) Open(_ context.Context, d device.Descriptor, frameSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return fmt.Errorf("portaudio: source already open")
	}
	if frameSize <= 0 {
		return fmt.Errorf("portaudio: frame size must be positive, got %d", frameSize)
	}

	if d.PulseSource != "" {
		if err := os.Setenv("PULSE_SOURCE", d.PulseSource); err != nil {
			return fmt.Errorf("portaudio: route pulse source: %w", err)
		}
	}

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize portaudio: %w", err)
	}
	s.initialized = true

	devices, err := pa.Devices()
	if err != nil {
		s.terminate()
		return fmt.Errorf("portaudio: enumerate devices: %w", err)
	}
	if d.Index < 0 || d.Index >= len(devices) {
		s.terminate()
		return fmt.Errorf("portaudio: device index %d out of range: %w", d.Index, device.ErrDeviceNotFound)
	}
	info := devices[d.Index]

	channels := max(d.Channels, 1)
	rate := d.SampleRate
	if rate <= 0 {
		rate = info.DefaultSampleRate
	}

	params := pa.LowLatencyParameters(info, nil)
	params.Input.Channels = channels
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = rate
	params.FramesPerBuffer = frameSize

	buf := make([]int16, frameSize*channels)
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		s.terminate()
		return fmt.Errorf("portaudio: open stream on %q: %w", d.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		s.terminate()
		return fmt.Errorf("portaudio: start stream on %q: %w", d.Name, err)
	}

	s.stream = stream
	s.buf = buf
	s.frameSize = frameSize
	s.channels = channels
	s.sampleRate = int(rate)
	slog.Debug("capture stream started", "device", d.Name, "channels", channels, "rate", rate, "frame_size", frameSize)
	return nil
}

// Read returns one frame once the device has buffered a full frame. When
// fewer samples are available it waits one poll interval and returns
// [capture.ErrNoFrame].
func (s *Source) Read(ctx context.Context) (audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return audio.Frame{}, fmt.Errorf("%w: source not open", capture.ErrDeviceRead)
	}

	avail, err := s.stream.AvailableToRead()
	if err != nil {
		return audio.Frame{}, fmt.Errorf("%w: %w", capture.ErrDeviceRead, err)
	}
	if avail < s.frameSize {
		t := time.NewTimer(s.pollInterval)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return audio.Frame{}, ctx.Err()
		case <-t.C:
		}
		return audio.Frame{}, capture.ErrNoFrame
	}

	readErr := s.stream.Read()
	if readErr != nil && !errors.Is(readErr, pa.InputOverflowed) {
		return audio.Frame{}, fmt.Errorf("%w: %w", capture.ErrDeviceRead, readErr)
	}

	frame := audio.Frame{
		Samples:    make([]int16, len(s.buf)),
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Timestamp:  time.Now(),
	}
	copy(frame.Samples, s.buf)
	if readErr != nil {
		return frame, capture.ErrInputOverflow
	}
	return frame, nil
}

// Close stops the stream and releases PortAudio.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
		}
		s.stream = nil
	}
	if err := s.terminate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Source) terminate() error {
	if !s.initialized {
		return nil
	}
	s.initialized = false
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate portaudio: %w", err)
	}
	return nil
}
