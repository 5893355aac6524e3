// Package device discovers the audio input that captures what the system is
// currently playing: a loopback or monitor source, never a physical
// microphone.
//
// Discovery is split in two. A [Resolver] enumerates platform devices into
// [Candidate] values; [Select] applies the selection policy to them. Keeping
// the policy a pure function lets it be tested without audio hardware.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrDeviceNotFound is returned when no usable capture device exists. It is
// fatal to pipeline start-up.
var ErrDeviceNotFound = errors.New("device: no capture device found")

// State is the activity state reported by the sound server for a source.
type State int

const (
	// StateUnknown means the platform does not report activity.
	StateUnknown State = iota

	// StateRunning means the source is currently carrying audio.
	StateRunning

	// StateIdle means the source is open but nothing is playing.
	StateIdle

	// StateSuspended means the sound server has suspended the source.
	StateSuspended
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateIdle:
		return "IDLE"
	case StateSuspended:
		return "SUSPENDED"
	default:
		return "UNKNOWN"
	}
}

// Descriptor identifies a resolved capture device. It is resolved once per
// pipeline start and is immutable for the lifetime of that session.
type Descriptor struct {
	// Index is the position of the device in the host enumeration.
	Index int

	// Name is the display name of the device or sound-server source.
	Name string

	// Channels is the native channel count the device is opened with.
	Channels int

	// SampleRate is the native sample rate in Hz.
	SampleRate float64

	// Monitor reports whether the device is a loopback/monitor source.
	Monitor bool

	// PulseSource, when non-empty, names the PulseAudio/PipeWire source the
	// generic "pulse" device must be routed to before opening it.
	PulseSource string
}

// String returns a compact description for logs.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s (#%d, %dch, %.0fHz)", d.Name, d.Index, d.Channels, d.SampleRate)
}

// Candidate is a device considered by [Select].
type Candidate struct {
	Descriptor

	// State is the activity state, when the platform reports it.
	State State

	// Default marks the system default input device.
	Default bool
}

// Resolver finds the device to capture from.
type Resolver interface {
	// Resolve returns the selected device or an error wrapping
	// [ErrDeviceNotFound].
	Resolve(ctx context.Context) (Descriptor, error)
}

// loopbackPatterns are lower-case name fragments of known loopback/monitor
// inputs across PulseAudio/PipeWire, macOS and Windows.
var loopbackPatterns = []string{
	".monitor",
	"monitor of",
	"loopback",
	"stereo mix",
	"wave out mix",
	"what u hear",
	"blackhole",
	"soundflower",
	"cable output",
	"vb-audio",
	"voicemeeter",
}

// IsLoopbackName reports whether name looks like a loopback/monitor source.
func IsLoopbackName(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range loopbackPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Select applies the capture-device policy to candidates:
//
//  1. A non-empty hint selects the first candidate whose name contains it
//     (case-insensitive). A hint that matches nothing is an error.
//  2. Otherwise only loopback/monitor candidates are eligible. Among several,
//     one that is actively carrying audio wins over idle ones; ties keep
//     enumeration order.
//  3. With no loopback candidate, the system default input is used.
func Select(candidates []Candidate, hint string) (Descriptor, error) {
	if hint != "" {
		h := strings.ToLower(hint)
		for _, c := range candidates {
			if strings.Contains(strings.ToLower(c.Name), h) {
				return c.Descriptor, nil
			}
		}
		return Descriptor{}, fmt.Errorf("%w: no source matches %q", ErrDeviceNotFound, hint)
	}

	var loopback []Candidate
	for _, c := range candidates {
		if c.Monitor || IsLoopbackName(c.Name) {
			c.Monitor = true
			loopback = append(loopback, c)
		}
	}
	if len(loopback) > 0 {
		for _, c := range loopback {
			if c.State == StateRunning {
				return c.Descriptor, nil
			}
		}
		return loopback[0].Descriptor, nil
	}

	for _, c := range candidates {
		if c.Default {
			slog.Warn("no loopback source found, falling back to the default input", "device", c.Name)
			return c.Descriptor, nil
		}
	}
	return Descriptor{}, ErrDeviceNotFound
}
