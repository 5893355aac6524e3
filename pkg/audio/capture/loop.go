package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/callscribe/pkg/audio"
)

const (
	// DefaultPushRetries is how many times a chunk is retried against a full
	// queue before the oldest queued chunk is evicted.
	DefaultPushRetries = 3

	// DefaultPushBackoff is the pause between push retries.
	DefaultPushBackoff = 5 * time.Millisecond

	// pauseWait bounds how long a paused loop sleeps before re-checking.
	pauseWait = 100 * time.Millisecond
)

// Stats is a snapshot of the loop's counters.
type Stats struct {
	// Captured counts chunks delivered to the queue.
	Captured uint64

	// Dropped counts chunks evicted from a full queue.
	Dropped uint64

	// Overflows counts device input overflows.
	Overflows uint64
}

// Loop moves audio from a [Source] into a [audio.ChunkQueue]. Pushes never
// block: when the consumer falls behind, the loop retries briefly and then
// evicts the oldest queued chunk so the freshest audio always gets through.
//
// Run is the only method that must be called from the capture goroutine; the
// remaining methods are safe for concurrent use.
type Loop struct {
	src   Source
	queue *audio.ChunkQueue
	conv  audio.FormatConverter

	pushRetries int
	pushBackoff time.Duration

	paused atomic.Bool
	wake   chan struct{}

	captured  atomic.Uint64
	dropped   atomic.Uint64
	overflows atomic.Uint64
}

// LoopOption configures a [Loop].
type LoopOption func(*Loop)

// WithTargetRate sets the output sample rate. Defaults to
// [audio.TargetSampleRate].
func WithTargetRate(hz int) LoopOption {
	return func(l *Loop) { l.conv.TargetRate = hz }
}

// WithPushRetry sets how often and how long the loop retries a full queue
// before evicting.
func WithPushRetry(retries int, backoff time.Duration) LoopOption {
	return func(l *Loop) {
		l.pushRetries = retries
		l.pushBackoff = backoff
	}
}

// NewLoop returns a loop reading from src into queue. src must already be
// open.
func NewLoop(src Source, queue *audio.ChunkQueue, opts ...LoopOption) *Loop {
	l := &Loop{
		src:         src,
		queue:       queue,
		pushRetries: DefaultPushRetries,
		pushBackoff: DefaultPushBackoff,
		wake:        make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run reads frames until ctx is cancelled or the source fails. It returns nil
// on cancellation and an error wrapping [ErrDeviceRead] on a device failure.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if l.paused.Load() {
			l.waitResume(ctx)
			continue
		}

		frame, err := l.src.Read(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrInputOverflow):
			n := l.overflows.Add(1)
			slog.Debug("capture input overflow", "total", n)
		case errors.Is(err, ErrNoFrame):
			continue
		case ctx.Err() != nil:
			return nil
		default:
			slog.Error("capture device read failed", "err", err)
			if errors.Is(err, ErrDeviceRead) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrDeviceRead, err)
		}

		if len(frame.Samples) == 0 {
			continue
		}
		// A pause requested during the read discards the frame.
		if l.paused.Load() {
			continue
		}
		l.push(ctx, l.conv.Convert(frame))
	}
}

// push enqueues c without ever blocking indefinitely.
func (l *Loop) push(ctx context.Context, c audio.Chunk) {
	for attempt := 0; ; attempt++ {
		if l.queue.TryPush(c) {
			l.captured.Add(1)
			return
		}
		if attempt >= l.pushRetries || !sleepCtx(ctx, l.pushBackoff) {
			break
		}
	}
	if l.queue.PushDropOldest(c) {
		n := l.dropped.Add(1)
		slog.Warn("capture queue full, dropped oldest chunk", "dropped_total", n)
	}
	l.captured.Add(1)
}

// SetPaused pauses or resumes capture. A paused loop does not read the
// device and produces no chunks.
func (l *Loop) SetPaused(paused bool) {
	l.paused.Store(paused)
	if !paused {
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
}

// Paused reports whether the loop is paused.
func (l *Loop) Paused() bool { return l.paused.Load() }

// Stats returns a snapshot of the loop's counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Captured:  l.captured.Load(),
		Dropped:   l.dropped.Load(),
		Overflows: l.overflows.Load(),
	}
}

func (l *Loop) waitResume(ctx context.Context) {
	t := time.NewTimer(pauseWait)
	defer t.Stop()
	select {
	case <-l.wake:
	case <-t.C:
	case <-ctx.Done():
	}
}

// sleepCtx sleeps for d and reports whether ctx is still live afterwards.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
