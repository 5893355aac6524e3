// Package capture reads raw frames from a capture device, converts them to
// 16 kHz mono chunks and feeds them into an [audio.ChunkQueue].
//
// The device side is abstracted behind [Source] so the loop can run against
// PortAudio in production and against scripted sources in tests.
package capture

import (
	"context"
	"errors"

	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/audio/device"
)

var (
	// ErrDeviceRead is returned by [Loop.Run] when the device stops delivering
	// audio. It is not retried: the owning pipeline is considered dead.
	ErrDeviceRead = errors.New("capture: device read failed")

	// ErrNoFrame is returned by [Source.Read] when no full frame was available
	// within one poll interval. Callers should simply read again.
	ErrNoFrame = errors.New("capture: no frame available")

	// ErrInputOverflow is returned by [Source.Read] together with a valid
	// frame when the device dropped input because it was not read in time.
	ErrInputOverflow = errors.New("capture: input overflowed")
)

// Source is an open-able capture device.
//
// Read must return within a short, bounded time so that a cancelled context
// is observed promptly. Implementations need not be safe for concurrent use;
// the capture loop is the only caller of Read.
type Source interface {
	// Open acquires the device described by d and prepares it to deliver
	// frames of frameSize sample instants.
	Open(ctx context.Context, d device.Descriptor, frameSize int) error

	// Read returns the next frame, [ErrNoFrame] when none is ready yet, or
	// [ErrInputOverflow] alongside a usable frame.
	Read(ctx context.Context) (audio.Frame, error)

	// Close releases the device. It is safe to call more than once.
	Close() error
}
