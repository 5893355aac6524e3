// Package app wires the callscribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New connects the backend registry,
// vocabulary corrector, transcript feed and capture pipeline; Run serves the
// HTTP surface and supervises the pipeline until the context is cancelled;
// Shutdown tears everything down in order.
//
// The platform pieces are injected through functional options
// (WithRegistry, WithResolver, WithSourceFactory) so that this package
// never links the audio or whisper.cpp C libraries; cmd/callscribe passes
// the PortAudio and whisper implementations and tests pass doubles.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/callscribe/internal/archive"
	"github.com/MrWong99/callscribe/internal/config"
	"github.com/MrWong99/callscribe/internal/feed"
	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/internal/pipeline"
	"github.com/MrWong99/callscribe/internal/resilience"
	"github.com/MrWong99/callscribe/internal/segment"
	"github.com/MrWong99/callscribe/internal/transcript"
	"github.com/MrWong99/callscribe/internal/transcript/phonetic"
	"github.com/MrWong99/callscribe/pkg/audio/capture"
	"github.com/MrWong99/callscribe/pkg/audio/device"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
)

const (
	defaultRestartDelay = 5 * time.Second
	feedHistory         = 20
)

// App owns all subsystem lifetimes.
type App struct {
	registry     *config.Registry
	metrics      *observe.Metrics
	newResolver  func(hint string) device.Resolver
	newSource    func() capture.Source
	levelVar     *slog.LevelVar
	restartDelay time.Duration

	corrector *transcript.Corrector
	hub       *feed.Hub
	handler   http.Handler
	archive   atomic.Pointer[archive.FileStore]

	mu       sync.Mutex
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	server   *http.Server
	addr     net.Addr

	// restart is signalled when a config change needs a fresh pipeline.
	restart chan struct{}

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry sets the backend registry. Required.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithResolver sets the device resolver constructor, called with the
// configured source hint each time a pipeline is built. Required.
func WithResolver(fn func(hint string) device.Resolver) Option {
	return func(a *App) { a.newResolver = fn }
}

// WithSourceFactory sets the capture source constructor. Required.
func WithSourceFactory(fn func() capture.Source) Option {
	return func(a *App) { a.newSource = fn }
}

// WithLevelVar lets hot reload change the level of the process logger.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithRestartDelay sets how long the supervisor waits before restarting a
// pipeline that stopped on its own. Default: 5s.
func WithRestartDelay(d time.Duration) Option {
	return func(a *App) { a.restartDelay = d }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. The pipeline is built but not started; call
// [App.Run] to start capturing.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:          cfg,
		restartDelay: defaultRestartDelay,
		restart:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(a)
	}
	var missing []error
	if a.registry == nil {
		missing = append(missing, errors.New("backend registry is required"))
	}
	if a.newResolver == nil {
		missing = append(missing, errors.New("device resolver is required"))
	}
	if a.newSource == nil {
		missing = append(missing, errors.New("capture source factory is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	a.corrector = transcript.NewCorrector(cfg.Vocabulary.Terms, vocabularyOptions(cfg.Vocabulary)...)
	a.hub = feed.NewHub(
		feed.WithMetrics(a.metrics),
		feed.WithHistory(feedHistory),
		feed.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	)
	a.setArchive(cfg.Archive.Path)

	p, err := a.buildPipeline(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.pipeline = p
	a.handler = a.buildHandler()
	return a, nil
}

// buildPipeline assembles a pipeline for cfg.
func (a *App) buildPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	tr := cfg.Transcription
	return pipeline.New(pipeline.Config{
		Resolver:    a.newResolver(cfg.Audio.Source),
		NewSource:   a.newSource,
		LoadBackend: a.backendLoader(tr),
		Policy:      cfg.Segmentation.Policy(),
		Params:      tr.Params(),
		FrameSize:   cfg.Audio.FrameSize,
		QueueSize:   cfg.Audio.QueueSize,
		StopTimeout: cfg.Segmentation.StopTimeout,
		OnPhrase:    a.handlePhrase,
		OnPreview:   a.handlePreview,
		Metrics:     a.metrics,
	})
}

// backendLoader returns a loader that builds the primary backend and, when
// fallbacks are configured, wraps them in a failover chain.
func (a *App) backendLoader(tr config.TranscriptionConfig) pipeline.BackendLoader {
	return func(ctx context.Context) (stt.Provider, error) {
		primary, err := a.registry.CreateSTT(tr.BackendEntry)
		if err != nil {
			return nil, err
		}
		if len(tr.Fallback) == 0 {
			return primary, nil
		}

		breaker := resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		}
		chain := resilience.NewSTTFallback(primary, tr.Backend, resilience.FallbackConfig{
			CircuitBreaker: breaker,
			OnAttempt:      a.recordAttempt,
		})
		for i, entry := range tr.Fallback {
			fb, err := a.registry.CreateSTT(entry)
			if err != nil {
				return nil, errors.Join(fmt.Errorf("fallback[%d]: %w", i, err), chain.Close())
			}
			chain.AddFallback(fmt.Sprintf("%s#%d", entry.Backend, i+1), fb)
		}
		observe.Logger(ctx).Info("transcription failover enabled", "backends", chain.Name())
		return chain, nil
	}
}

// recordAttempt counts one backend attempt inside the failover chain.
func (a *App) recordAttempt(name string, err error) {
	ctx := context.Background()
	switch {
	case err == nil:
		a.metrics.RecordProviderRequest(ctx, name, "attempt", "ok")
	case errors.Is(err, resilience.ErrCircuitOpen):
		a.metrics.RecordProviderRequest(ctx, name, "attempt", "skipped")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		a.metrics.RecordProviderRequest(ctx, name, "attempt", "cancelled")
	default:
		a.metrics.RecordProviderRequest(ctx, name, "attempt", "error")
		a.metrics.RecordProviderError(ctx, name, "attempt")
	}
}

func vocabularyOptions(v config.VocabularyConfig) []phonetic.Option {
	return []phonetic.Option{
		phonetic.WithPhoneticThreshold(v.PhoneticThreshold),
		phonetic.WithFuzzyThreshold(v.FuzzyThreshold),
	}
}

// ─── Phrase handling ─────────────────────────────────────────────────────────

func (a *App) handlePhrase(p segment.Phrase) {
	res := a.corrector.Correct(p.Text)
	for _, c := range res.Corrections {
		slog.Debug("vocabulary correction",
			"original", c.Original,
			"corrected", c.Corrected,
			"confidence", c.Confidence,
			"method", c.Method,
		)
	}
	slog.Info("phrase",
		"text", res.Text,
		"reason", p.Reason.String(),
		"audio", p.Audio,
		"corrections", len(res.Corrections),
	)
	a.hub.Publish(feed.PhraseEvent(p, res.Text))

	if store := a.archive.Load(); store != nil {
		if err := store.Append(archive.NewRecord(p, res)); err != nil {
			slog.Warn("failed to archive phrase", "path", store.Path(), "err", err)
		}
	}
}

// setArchive points the phrase archive at path. Empty disables it.
func (a *App) setArchive(path string) {
	if path == "" {
		a.archive.Store(nil)
		return
	}
	a.archive.Store(archive.NewFileStore(path))
}

func (a *App) handlePreview(p segment.Preview) {
	slog.Debug("preview", "text", p.Text, "audio", p.Audio)
	a.hub.Publish(feed.PreviewEvent(p))
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP (when a listen address is configured), starts the pipeline
// and supervises it until ctx is cancelled. A pipeline that stops on its own
// is restarted after the restart delay. Run returns ctx.Err() on
// cancellation, or an error if the HTTP listener cannot be opened.
func (a *App) Run(ctx context.Context) error {
	if err := a.serve(); err != nil {
		return err
	}

	a.startPipeline(ctx)
	for {
		a.mu.Lock()
		done := a.pipeline.Done()
		a.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-a.restart:
			a.rebuild(ctx)

		case <-done:
			if err := a.Pipeline().Err(); err != nil {
				slog.Warn("pipeline stopped", "err", err, "restart_in", a.restartDelay)
			}
			timer := time.NewTimer(a.restartDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-a.restart:
				timer.Stop()
				a.rebuild(ctx)
			case <-timer.C:
				a.startPipeline(ctx)
			}
		}
	}
}

// startPipeline starts the current pipeline, logging rather than returning
// a failure so that the supervisor retries.
func (a *App) startPipeline(ctx context.Context) {
	p := a.Pipeline()
	err := p.Start(ctx)
	switch {
	case err == nil, errors.Is(err, pipeline.ErrAlreadyRunning):
	case errors.Is(err, pipeline.ErrStartAborted):
		slog.Info("pipeline start cancelled")
	default:
		slog.Error("failed to start pipeline", "err", err, "retry_in", a.restartDelay)
	}
}

// rebuild stops the running pipeline and starts a new one built from the
// current config.
func (a *App) rebuild(ctx context.Context) {
	a.mu.Lock()
	old, cfg := a.pipeline, a.cfg
	a.mu.Unlock()

	if err := old.Stop(ctx); err != nil {
		slog.Warn("pipeline did not stop cleanly", "err", err)
	}
	p, err := a.buildPipeline(cfg)
	if err != nil {
		slog.Error("failed to rebuild pipeline", "err", err)
		a.startPipeline(ctx)
		return
	}
	a.mu.Lock()
	a.pipeline = p
	a.mu.Unlock()
	slog.Info("pipeline restarting with new settings", "source", cfg.Audio.Source, "backend", cfg.Transcription.Backend)
	a.startPipeline(ctx)
}

// Pipeline returns the current pipeline.
func (a *App) Pipeline() *pipeline.Pipeline {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pipeline
}

// Corrector returns the vocabulary corrector.
func (a *App) Corrector() *transcript.Corrector { return a.corrector }

// Addr returns the address the HTTP server listens on, or nil when it is
// disabled or not yet started.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the differences between old and new. It has the
// signature expected by [config.NewWatcher].
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}

	a.mu.Lock()
	a.cfg = new
	p := a.pipeline
	a.mu.Unlock()

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PolicyChanged && !d.RestartRequired {
		if err := p.SetPolicy(d.NewPolicy); err != nil {
			slog.Warn("segmentation change rejected", "err", err)
		} else {
			slog.Info("segmentation thresholds updated",
				"silence_threshold", d.NewPolicy.SilenceThreshold,
				"phrase_timeout", d.NewPolicy.PhraseTimeout,
				"max_phrase_duration", d.NewPolicy.MaxPhraseDuration,
				"min_audio_length", d.NewPolicy.MinAudioLength,
			)
		}
	}
	if d.VocabularyChanged {
		a.corrector.Update(new.Vocabulary.Terms, vocabularyOptions(new.Vocabulary)...)
		slog.Info("vocabulary reloaded", "terms", len(new.Vocabulary.Terms))
	}
	if d.ArchiveChanged {
		a.setArchive(new.Archive.Path)
		slog.Info("phrase archive changed", "path", new.Archive.Path)
	}
	if d.ServerChanged {
		slog.Warn("server settings changed; restart the process to apply them")
	}
	if d.RestartRequired {
		slog.Info("config change requires a pipeline restart", "source_changed", d.SourceChanged)
		select {
		case a.restart <- struct{}{}:
		default:
		}
	}
}

// ParseLevel converts a config log level to a slog level. Unknown values map
// to info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the pipeline, disconnects feed clients and closes the HTTP
// server, in that order. It respects the context deadline; the first error
// of each step is joined into the result.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if err := a.Pipeline().Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop pipeline: %w", err))
		}
		a.hub.Close()

		a.mu.Lock()
		srv := a.server
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}
