package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
)

const (
	// DefaultIdleWait bounds how long Run waits for new chunks before
	// re-evaluating the silence cutoff.
	DefaultIdleWait = 50 * time.Millisecond

	// pausedWait bounds how long a paused Run sleeps before re-checking.
	pausedWait = 100 * time.Millisecond
)

// Phrase is a finalized utterance.
type Phrase struct {
	// Text is the transcription. Never empty.
	Text string

	// Reason is why the utterance was finalized.
	Reason Reason

	// StartedAt is the timestamp of the first speech chunk.
	StartedAt time.Time

	// EndedAt is the timestamp of the last speech chunk.
	EndedAt time.Time

	// Audio is the length of the speech that was decoded.
	Audio time.Duration
}

// Preview is an interim transcription of the utterance in progress.
type Preview struct {
	// Text is the transcription of the whole buffer so far. May be empty.
	Text string

	// Audio is the length of the buffer that was decoded.
	Audio time.Duration

	// StartedAt is the timestamp of the utterance's first speech chunk.
	StartedAt time.Time
}

// Inspection is a snapshot of the engine's utterance state, for tests and
// diagnostics. It must be taken on the goroutine that drives the engine.
type Inspection struct {
	Samples      int
	StartedAt    time.Time
	LastSpeechAt time.Time
	LastText     string
	Paused       bool
}

// Engine is the segmentation consumer. It is driven either by [Engine.Run]
// on a dedicated goroutine or, in tests, by calling [Engine.Step] directly.
type Engine struct {
	queue     *audio.ChunkQueue
	backend   stt.Provider
	params    stt.Params
	metrics   *observe.Metrics
	onPhrase  func(Phrase)
	onPreview func(Preview)
	idleWait  time.Duration
	now       func() time.Time

	policy atomic.Pointer[Policy]

	paused     atomic.Bool
	clearReq   atomic.Bool
	resumeReq  atomic.Bool
	wake       chan struct{}
	fenceMu    sync.Mutex
	resumeFrom time.Time

	// Owned by the goroutine driving Step.
	buf       Buffer
	lastText  string
	previewed bool
	dirty     bool
	fence     time.Time
}

// Option configures an [Engine].
type Option func(*Engine)

// WithPolicy sets the initial thresholds. Defaults to [DefaultPolicy].
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy.Store(&p) }
}

// WithParams sets the decoding hints passed to every Transcribe call.
func WithParams(p stt.Params) Option {
	return func(e *Engine) { e.params = p }
}

// WithPhraseHandler sets the callback invoked once per finalized utterance
// with non-empty text. It runs synchronously on the engine goroutine.
func WithPhraseHandler(fn func(Phrase)) Option {
	return func(e *Engine) { e.onPhrase = fn }
}

// WithPreviewHandler sets the callback invoked after every successful
// preview decode.
func WithPreviewHandler(fn func(Preview)) Option {
	return func(e *Engine) { e.onPreview = fn }
}

// WithMetrics records decode latency and phrase counts.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithIdleWait sets how long Run waits for chunks between evaluations.
func WithIdleWait(d time.Duration) Option {
	return func(e *Engine) { e.idleWait = d }
}

// WithClock replaces time.Now. The clock must agree with the timestamps on
// queued chunks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an engine consuming queue and decoding with backend.
func New(queue *audio.ChunkQueue, backend stt.Provider, opts ...Option) *Engine {
	e := &Engine{
		queue:    queue,
		backend:  backend,
		idleWait: DefaultIdleWait,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
	def := DefaultPolicy()
	e.policy.Store(&def)
	for _, o := range opts {
		o(e)
	}
	return e
}

// Policy returns the thresholds currently in effect.
func (e *Engine) Policy() Policy { return *e.policy.Load() }

// SetPolicy swaps the thresholds. It takes effect on the next iteration and
// does not disturb the utterance in progress.
func (e *Engine) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("segment: invalid policy: %w", err)
	}
	e.policy.Store(&p)
	return nil
}

// Pause stops processing and asks the engine goroutine to discard the
// utterance in progress. A decode already in flight finishes, but its result
// is dropped: no phrase or preview callback starts after Pause returns. The
// caller is expected to clear the queue as well.
func (e *Engine) Pause() {
	e.paused.Store(true)
	e.clearReq.Store(true)
}

// Resume restarts processing with a clean slate. Chunks captured before the
// call are never appended to a post-resume utterance.
func (e *Engine) Resume() {
	e.fenceMu.Lock()
	e.resumeFrom = e.now()
	e.fenceMu.Unlock()
	e.resumeReq.Store(true)
	e.paused.Store(false)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Paused reports whether the engine is paused.
func (e *Engine) Paused() bool { return e.paused.Load() }

// Run drives the engine until ctx is cancelled. It always returns nil;
// backend failures are logged and never end the loop.
func (e *Engine) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if e.paused.Load() {
			e.applyControl()
			e.waitResume(ctx)
			continue
		}
		e.queue.Wait(ctx, e.idleWait)
		if ctx.Err() != nil {
			break
		}
		e.Step(ctx, e.now())
	}
	return nil
}

// Step runs one iteration at time now: drain the queue, append speech,
// preview the buffer when it is long enough, and finalize when the policy
// says the utterance is complete.
func (e *Engine) Step(ctx context.Context, now time.Time) {
	e.applyControl()
	if e.paused.Load() {
		return
	}
	pol := e.Policy()

	for _, c := range e.queue.DrainAll() {
		if !e.fence.IsZero() && c.Timestamp.Before(e.fence) {
			continue
		}
		if !pol.IsSpeech(c.Level) {
			continue
		}
		e.buf.Append(c)
		e.dirty = true
	}

	if e.dirty && pol.ShouldPreview(&e.buf) {
		e.preview(ctx)
		if e.interrupted() {
			return
		}
	}

	if reason := pol.Evaluate(&e.buf, now); reason != Continue {
		e.finalize(ctx, reason)
	}
}

// Inspect returns the current utterance state. Call it only from the
// goroutine driving Step.
func (e *Engine) Inspect() Inspection {
	return Inspection{
		Samples:      e.buf.Len(),
		StartedAt:    e.buf.StartedAt(),
		LastSpeechAt: e.buf.LastSpeechAt(),
		LastText:     e.lastText,
		Paused:       e.paused.Load(),
	}
}

// ---- internals --------------------------------------------------------------

// applyControl applies pending pause/resume requests on the engine goroutine.
func (e *Engine) applyControl() {
	if e.clearReq.Swap(false) {
		e.reset()
	}
	if e.resumeReq.Swap(false) {
		e.reset()
		e.fenceMu.Lock()
		e.fence = e.resumeFrom
		e.fenceMu.Unlock()
	}
}

// interrupted reports whether Pause was called since the last applyControl.
// Results decoded across a pause boundary are dropped.
func (e *Engine) interrupted() bool {
	return e.clearReq.Load() || e.paused.Load()
}

func (e *Engine) reset() {
	e.buf.Reset()
	e.lastText = ""
	e.previewed = false
	e.dirty = false
}

func (e *Engine) preview(ctx context.Context) {
	res, err := e.transcribe(ctx, observe.KindPreview)
	if err != nil || e.interrupted() {
		return
	}
	e.lastText = res.Text
	e.previewed = true
	e.dirty = false
	if e.onPreview != nil {
		e.onPreview(Preview{Text: res.Text, Audio: e.buf.Duration(), StartedAt: e.buf.StartedAt()})
	}
}

func (e *Engine) finalize(ctx context.Context, reason Reason) {
	text := e.lastText
	if !e.previewed {
		// Shorter than MinAudioLength: nothing was decoded yet.
		res, err := e.transcribe(ctx, observe.KindFinal)
		if err != nil {
			return
		}
		text = res.Text
	}
	if e.interrupted() {
		slog.Debug("dropping utterance decoded across pause", "reason", reason.String())
		return
	}

	phrase := Phrase{
		Text:      text,
		Reason:    reason,
		StartedAt: e.buf.StartedAt(),
		EndedAt:   e.buf.LastSpeechAt(),
		Audio:     e.buf.Duration(),
	}
	e.reset()

	emitted := phrase.Text != ""
	if e.metrics != nil {
		e.metrics.RecordPhrase(ctx, reason.String(), emitted, phrase.Audio.Seconds())
	}
	if !emitted {
		slog.Debug("utterance produced no text", "reason", reason.String(), "audio", phrase.Audio)
		return
	}
	slog.Info("phrase finalized", "reason", reason.String(), "audio", phrase.Audio, "chars", len(phrase.Text))
	if e.onPhrase != nil {
		e.onPhrase(phrase)
	}
}

// transcribe decodes the whole buffer. Failures are logged and counted; the
// buffer is left untouched.
func (e *Engine) transcribe(ctx context.Context, kind string) (stt.Result, error) {
	ctx, span := observe.StartSpan(ctx, "stt.transcribe",
		trace.WithAttributes(
			attribute.String("backend", e.backend.Name()),
			attribute.String("kind", kind),
			attribute.Int("samples", e.buf.Len()),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := e.backend.Transcribe(ctx, e.buf.Samples(), e.params)
	elapsed := time.Since(start)
	if e.metrics != nil {
		e.metrics.RecordTranscription(ctx, e.backend.Name(), kind, elapsed.Seconds(), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, context.Canceled) {
			observe.Logger(ctx).Warn("transcription failed, keeping audio",
				"backend", e.backend.Name(),
				"kind", kind,
				"audio", e.buf.Duration(),
				"err", err,
			)
		}
		return stt.Result{}, err
	}
	observe.Logger(ctx).Debug("transcription", "backend", e.backend.Name(), "kind", kind,
		"audio", e.buf.Duration(), "elapsed", elapsed, "text", res.Text)
	return res, nil
}

func (e *Engine) waitResume(ctx context.Context) {
	t := time.NewTimer(pausedWait)
	defer t.Stop()
	select {
	case <-e.wake:
	case <-t.C:
	case <-ctx.Done():
	}
}
