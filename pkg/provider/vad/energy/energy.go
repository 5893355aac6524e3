// Package energy implements a pure-Go [vad.Engine] based on frame RMS energy
// with hysteresis. It needs no model files, which makes it a good pre-filter
// in front of a latency-optimised decoder.
//
// Thresholds are RMS levels normalised to [0, 1] (full-scale 16-bit = 1.0).
package energy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/callscribe/pkg/provider/vad"
)

const (
	// DefaultSpeechThreshold starts a speech segment.
	DefaultSpeechThreshold = 0.015

	// DefaultSilenceThreshold ends a speech segment after hangover frames.
	DefaultSilenceThreshold = 0.008

	// DefaultFrameSizeMs is the frame length used when a Config leaves it 0.
	DefaultFrameSizeMs = 20
)

// Compile-time assertion that Engine satisfies vad.Engine.
var _ vad.Engine = (*Engine)(nil)

// Engine creates energy-based VAD sessions.
type Engine struct {
	// StartFrames is how many consecutive loud frames open a segment.
	StartFrames int

	// HangoverFrames is how many consecutive quiet frames close a segment.
	HangoverFrames int
}

// New returns an Engine with ~40 ms attack and ~300 ms hangover at 20 ms
// frames.
func New() *Engine {
	return &Engine{StartFrames: 2, HangoverFrames: 15}
}

// NewSession validates cfg and returns a fresh session. Zero thresholds and
// frame size take the package defaults.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs == 0 {
		cfg.FrameSizeMs = DefaultFrameSizeMs
	}
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = DefaultSpeechThreshold
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = min(DefaultSilenceThreshold, cfg.SpeechThreshold)
	}
	if cfg.FrameSizeMs < 0 || cfg.FrameSamples() == 0 {
		return nil, fmt.Errorf("energy vad: invalid frame size %d ms", cfg.FrameSizeMs)
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy vad: silence threshold %.4f above speech threshold %.4f",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	return &session{
		cfg:        cfg,
		frameBytes: cfg.FrameSamples() * 2,
		start:      max(e.StartFrames, 1),
		hangover:   max(e.HangoverFrames, 1),
	}, nil
}

// session tracks hysteresis state for one stream.
type session struct {
	cfg        vad.Config
	frameBytes int
	start      int
	hangover   int

	inSpeech bool
	loudRun  int
	quietRun int
	closed   bool
}

var errClosed = errors.New("energy vad: session closed")

// ProcessFrame classifies frame.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, errClosed
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	level := frameRMS(frame)
	prob := math.Min(level/(2*s.cfg.SpeechThreshold), 1)

	if s.inSpeech {
		if level < s.cfg.SilenceThreshold {
			s.quietRun++
			if s.quietRun >= s.hangover {
				s.inSpeech = false
				s.quietRun = 0
				return vad.VADEvent{Type: vad.VADSpeechEnd, Probability: prob}, nil
			}
		} else {
			s.quietRun = 0
		}
		return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: prob}, nil
	}

	if level >= s.cfg.SpeechThreshold {
		s.loudRun++
		if s.loudRun >= s.start {
			s.inSpeech = true
			s.loudRun = 0
			return vad.VADEvent{Type: vad.VADSpeechStart, Probability: prob}, nil
		}
	} else {
		s.loudRun = 0
	}
	return vad.VADEvent{Type: vad.VADSilence, Probability: prob}, nil
}

// Reset clears hysteresis state.
func (s *session) Reset() {
	s.inSpeech = false
	s.loudRun = 0
	s.quietRun = 0
}

// Close marks the session closed.
func (s *session) Close() error {
	s.closed = true
	return nil
}

func frameRMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(frame[i*2:]))) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
