// Package pipeline owns the lifecycle of one capture session: it resolves
// the input device, loads the transcription backend, and runs the capture
// loop and the segmentation engine on two goroutines joined by a bounded
// chunk queue.
//
// The control surface is Start, Pause, Resume and Stop. All exported methods
// are safe for concurrent use. A worker failure after Start (for example the
// device disappearing) moves the pipeline to [StateStopped], releases the
// device, and closes [Pipeline.Done]; restarting is the caller's decision.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/internal/segment"
	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/audio/capture"
	"github.com/MrWong99/callscribe/pkg/audio/device"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
)

// Defaults for [Config].
const (
	DefaultFrameSize   = 1024
	DefaultStopTimeout = 2 * time.Second

	// statsInterval is how often capture counters are flushed to metrics.
	statsInterval = time.Second
)

var (
	// ErrAlreadyRunning is returned by Start when the pipeline is not stopped.
	ErrAlreadyRunning = errors.New("pipeline: already running")

	// ErrNotRunning is returned by Pause and Resume on a stopped pipeline.
	ErrNotRunning = errors.New("pipeline: not running")

	// ErrStartAborted is returned by Start when Stop was called while the
	// device was being resolved or the backend loaded.
	ErrStartAborted = errors.New("pipeline: start aborted")

	// ErrUncleanShutdown is returned by Stop when the workers did not exit
	// within the stop timeout. Device and backend are released regardless.
	ErrUncleanShutdown = errors.New("pipeline: unclean shutdown")
)

// State is the lifecycle state of a [Pipeline].
type State int

const (
	// StateStopped means no workers run and no device is held.
	StateStopped State = iota

	// StateRunning means audio is captured and segmented.
	StateRunning

	// StatePaused means the device is held but audio is discarded.
	StatePaused

	// StateStarting means Start is resolving the device or loading the
	// backend. No workers run yet.
	StateStarting
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStarting:
		return "starting"
	default:
		return "stopped"
	}
}

// BackendLoader constructs the transcription backend for one session.
// Errors should wrap [stt.ErrBackendLoad].
type BackendLoader func(ctx context.Context) (stt.Provider, error)

// Config holds the dependencies and tuning of a [Pipeline].
type Config struct {
	// Resolver picks the input device at Start. Required.
	Resolver device.Resolver

	// NewSource returns the capture source opened at Start. Required.
	NewSource func() capture.Source

	// LoadBackend builds the transcription backend at Start. Required. The
	// pipeline closes the backend on Stop.
	LoadBackend BackendLoader

	// Policy holds the segmentation thresholds. Zero value means
	// [segment.DefaultPolicy].
	Policy segment.Policy

	// Params are the decoding hints passed to every transcription.
	Params stt.Params

	// FrameSize is the device read size in frames. Defaults to
	// [DefaultFrameSize].
	FrameSize int

	// QueueSize caps the chunk queue. Defaults to [audio.DefaultQueueSize].
	QueueSize int

	// StopTimeout bounds how long Stop waits for the workers. Defaults to
	// [DefaultStopTimeout].
	StopTimeout time.Duration

	// OnPhrase receives every finalized utterance with non-empty text. It
	// runs on the segmentation goroutine; slow work should pause the
	// pipeline first.
	OnPhrase func(segment.Phrase)

	// OnPreview receives interim transcriptions. Optional.
	OnPreview func(segment.Preview)

	// Metrics records pipeline metrics. Nil disables metrics.
	Metrics *observe.Metrics
}

// Pipeline is the lifecycle controller for one capture session.
type Pipeline struct {
	cfg Config

	mu      sync.Mutex
	state   State
	policy  segment.Policy
	current *session
	lastErr error
	done    chan struct{}

	// startSeq identifies the Start call in flight. Stop bumps it to abort.
	startSeq uint64
}

// session holds everything created by one successful Start.
type session struct {
	device  device.Descriptor
	src     capture.Source
	backend stt.Provider
	queue   *audio.ChunkQueue
	loop    *capture.Loop
	engine  *segment.Engine
	reg     metric.Registration

	cancel  context.CancelFunc
	exited  chan struct{}
	err     error
	release sync.Once

	statsMu  sync.Mutex
	reported capture.Stats
}

// swapReported stores cur as the last flushed counters and returns the
// previous value.
func (s *session) swapReported(cur capture.Stats) capture.Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	prev := s.reported
	s.reported = cur
	return prev
}

// New validates cfg and returns a stopped pipeline.
func New(cfg Config) (*Pipeline, error) {
	var errs []error
	if cfg.Resolver == nil {
		errs = append(errs, errors.New("resolver is required"))
	}
	if cfg.NewSource == nil {
		errs = append(errs, errors.New("source factory is required"))
	}
	if cfg.LoadBackend == nil {
		errs = append(errs, errors.New("backend loader is required"))
	}
	if cfg.Policy == (segment.Policy{}) {
		cfg.Policy = segment.DefaultPolicy()
	}
	if err := cfg.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("pipeline: invalid config: %w", err)
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Pipeline{cfg: cfg, policy: cfg.Policy, done: closedChan()}, nil
}

// Start resolves the device, loads the backend and spawns the workers.
// Any failure is returned before a goroutine is started, and everything
// acquired so far is released. Start on a starting, running or paused
// pipeline returns [ErrAlreadyRunning].
//
// Resolving and loading run without holding the pipeline lock, so the
// other methods stay responsive while a model loads; the pipeline reports
// [StateStarting] meanwhile. A Stop during that window makes Start release
// what it acquired and return [ErrStartAborted].
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateStopped {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.startSeq++
	seq := p.startSeq
	p.state = StateStarting
	p.mu.Unlock()

	desc, src, backend, err := p.acquire(ctx)
	if err != nil {
		p.mu.Lock()
		if p.state == StateStarting && p.startSeq == seq {
			p.state = StateStopped
		}
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateStarting || p.startSeq != seq {
		_ = src.Close()
		_ = backend.Close()
		slog.Info("pipeline start aborted by stop", "device", desc.Name)
		return ErrStartAborted
	}

	s := &session{
		device:  desc,
		src:     src,
		backend: backend,
		queue:   audio.NewChunkQueue(p.cfg.QueueSize),
		exited:  make(chan struct{}),
	}
	s.loop = capture.NewLoop(src, s.queue)

	engineOpts := []segment.Option{
		segment.WithPolicy(p.policy),
		segment.WithParams(p.cfg.Params),
		segment.WithPhraseHandler(p.cfg.OnPhrase),
		segment.WithPreviewHandler(p.cfg.OnPreview),
	}
	if m := p.cfg.Metrics; m != nil {
		engineOpts = append(engineOpts, segment.WithMetrics(m))
		q := s.queue
		if s.reg, err = m.ObserveQueueDepth(func() int64 { return int64(q.Len()) }); err != nil {
			slog.Warn("pipeline: queue depth gauge unavailable", "err", err)
		}
	}
	s.engine = segment.New(s.queue, backend, engineOpts...)

	// The run context is detached from ctx: it lives until Stop or failure.
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.loop.Run(gctx) })
	g.Go(func() error { return s.engine.Run(gctx) })

	done := make(chan struct{})
	p.current = s
	p.state = StateRunning
	p.lastErr = nil
	p.done = done

	if m := p.cfg.Metrics; m != nil {
		m.PipelineRunning.Add(ctx, 1)
	}

	go func() {
		s.err = g.Wait()
		close(s.exited)
		p.onExit(s, done)
	}()
	go p.reportStats(runCtx, s)

	slog.Info("pipeline started",
		"device", desc.Name,
		"device_index", desc.Index,
		"backend", backend.Name(),
		"frame_size", p.cfg.FrameSize,
	)
	return nil
}

// Pause stops capture and discards the utterance in progress along with any
// queued audio. Pausing a paused pipeline is a no-op.
func (p *Pipeline) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateStopped, StateStarting:
		return ErrNotRunning
	case StatePaused:
		return nil
	}
	s := p.current
	s.loop.SetPaused(true)
	s.engine.Pause()
	n := s.queue.Clear()
	p.state = StatePaused
	slog.Debug("pipeline paused", "discarded_chunks", n)
	return nil
}

// Resume restarts capture with a clean utterance state. Resuming a running
// pipeline is a no-op.
func (p *Pipeline) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateStopped, StateStarting:
		return ErrNotRunning
	case StateRunning:
		return nil
	}
	s := p.current
	s.queue.Clear()
	s.engine.Resume()
	s.loop.SetPaused(false)
	p.state = StateRunning
	slog.Debug("pipeline resumed")
	return nil
}

// Stop signals both workers, waits up to the stop timeout for them to exit,
// and releases the device and backend. Stop on a stopped pipeline returns
// nil; on a starting one it makes the pending Start fail. When the workers
// do not exit in time the resources are released anyway and the returned
// error wraps [ErrUncleanShutdown].
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	s := p.current
	if s == nil {
		if p.state == StateStarting {
			p.startSeq++
			p.state = StateStopped
		}
		p.mu.Unlock()
		return nil
	}
	p.current = nil
	p.state = StateStopped
	p.mu.Unlock()

	s.cancel()

	timer := time.NewTimer(p.cfg.StopTimeout)
	defer timer.Stop()

	var stopErr error
	select {
	case <-s.exited:
	case <-timer.C:
		stopErr = fmt.Errorf("%w: workers still running after %v", ErrUncleanShutdown, p.cfg.StopTimeout)
	case <-ctx.Done():
		stopErr = fmt.Errorf("%w: %w", ErrUncleanShutdown, ctx.Err())
	}

	if err := p.releaseSession(s); err != nil {
		slog.Warn("pipeline: release resources", "err", err)
	}
	if stopErr != nil {
		slog.Warn("pipeline stopped uncleanly", "err", stopErr)
		return stopErr
	}
	slog.Info("pipeline stopped")
	return nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsRunning reports whether the pipeline holds the device, paused or not.
func (p *Pipeline) IsRunning() bool {
	st := p.State()
	return st == StateRunning || st == StatePaused
}

// IsPaused reports whether the pipeline is paused.
func (p *Pipeline) IsPaused() bool { return p.State() == StatePaused }

// Err returns the error that ended the last session on its own, or nil.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Done returns a channel that is closed when the current session ends for
// any reason. On a stopped pipeline it returns a closed channel.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Device returns the descriptor of the device held by the current session.
func (p *Pipeline) Device() (device.Descriptor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return device.Descriptor{}, false
	}
	return p.current.device, true
}

// SetPolicy swaps the segmentation thresholds. The running session picks
// them up on its next iteration; later sessions start with them.
func (p *Pipeline) SetPolicy(pol segment.Policy) error {
	if err := pol.Validate(); err != nil {
		return fmt.Errorf("pipeline: invalid policy: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = pol
	if p.current != nil {
		return p.current.engine.SetPolicy(pol)
	}
	return nil
}

// Stats returns the capture counters of the current session.
func (p *Pipeline) Stats() capture.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return capture.Stats{}
	}
	return p.current.loop.Stats()
}

// ---- internals --------------------------------------------------------------

// acquire resolves the device, loads the backend and opens the source.
// On failure nothing stays held.
func (p *Pipeline) acquire(ctx context.Context) (device.Descriptor, capture.Source, stt.Provider, error) {
	desc, err := p.cfg.Resolver.Resolve(ctx)
	if err != nil {
		return desc, nil, nil, fmt.Errorf("pipeline: resolve device: %w", err)
	}

	backend, err := p.cfg.LoadBackend(ctx)
	if err != nil {
		return desc, nil, nil, fmt.Errorf("pipeline: load backend: %w", err)
	}

	src := p.cfg.NewSource()
	if err := src.Open(ctx, desc, p.cfg.FrameSize); err != nil {
		_ = backend.Close()
		return desc, nil, nil, fmt.Errorf("pipeline: open %s: %w", desc, err)
	}
	return desc, src, backend, nil
}

// onExit runs once the workers of s have returned. When s is still the
// current session it died on its own and the pipeline moves to stopped.
func (p *Pipeline) onExit(s *session, done chan struct{}) {
	p.mu.Lock()
	selfDied := p.current == s
	if selfDied {
		p.current = nil
		p.state = StateStopped
		p.lastErr = s.err
		if p.lastErr == nil {
			p.lastErr = errors.New("pipeline: workers exited unexpectedly")
		}
	}
	p.mu.Unlock()

	if selfDied {
		slog.Error("pipeline died", "device", s.device.Name, "err", s.err)
		if m := p.cfg.Metrics; m != nil {
			m.PipelineFailures.Add(context.Background(), 1)
		}
		s.cancel()
		if err := p.releaseSession(s); err != nil {
			slog.Warn("pipeline: release resources", "err", err)
		}
	}
	close(done)
}

// releaseSession closes the device and the backend exactly once.
func (p *Pipeline) releaseSession(s *session) error {
	var err error
	s.release.Do(func() {
		var errs []error
		if e := s.src.Close(); e != nil {
			errs = append(errs, fmt.Errorf("close source: %w", e))
		}
		if e := s.backend.Close(); e != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", e))
		}
		if s.reg != nil {
			if e := s.reg.Unregister(); e != nil {
				errs = append(errs, fmt.Errorf("unregister gauge: %w", e))
			}
		}
		p.flushStats(context.Background(), s)
		if m := p.cfg.Metrics; m != nil {
			m.PipelineRunning.Add(context.Background(), -1)
		}
		err = errors.Join(errs...)
	})
	return err
}

// reportStats flushes capture counters to metrics until ctx is done.
func (p *Pipeline) reportStats(ctx context.Context, s *session) {
	if p.cfg.Metrics == nil {
		return
	}
	t := time.NewTicker(statsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.flushStats(ctx, s)
		}
	}
}

// flushStats adds the counter deltas since the previous flush.
func (p *Pipeline) flushStats(ctx context.Context, s *session) {
	m := p.cfg.Metrics
	if m == nil {
		return
	}
	cur := s.loop.Stats()
	prev := s.swapReported(cur)
	if d := cur.Captured - prev.Captured; d > 0 {
		m.ChunksCaptured.Add(ctx, int64(d))
	}
	if d := cur.Dropped - prev.Dropped; d > 0 {
		m.ChunksDropped.Add(ctx, int64(d))
	}
	if d := cur.Overflows - prev.Overflows; d > 0 {
		m.InputOverflows.Add(ctx, int64(d))
	}
}

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}
