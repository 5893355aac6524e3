package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/callscribe/internal/observe"
	"github.com/MrWong99/callscribe/internal/pipeline"
	"github.com/MrWong99/callscribe/internal/segment"
	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/audio/capture"
	"github.com/MrWong99/callscribe/pkg/audio/device"
	audiomock "github.com/MrWong99/callscribe/pkg/audio/mock"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/callscribe/pkg/provider/stt/mock"
)

var monitor = device.Descriptor{Index: 3, Name: "Monitor of Built-in Audio", Channels: 2, SampleRate: 48000, Monitor: true}

type fixture struct {
	resolver *audiomock.Resolver
	source   *audiomock.Source
	backend  *sttmock.Provider
	loads    int
	cfg      pipeline.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		resolver: &audiomock.Resolver{Result: monitor},
		source:   &audiomock.Source{},
		backend:  &sttmock.Provider{Default: stt.Result{Text: "hello"}},
	}
	pol := segment.DefaultPolicy()
	pol.PhraseTimeout = 100 * time.Millisecond
	pol.MinAudioLength = 0
	f.cfg = pipeline.Config{
		Resolver:  f.resolver,
		NewSource: func() capture.Source { return f.source },
		LoadBackend: func(context.Context) (stt.Provider, error) {
			f.loads++
			return f.backend, nil
		},
		Policy:      pol,
		FrameSize:   512,
		StopTimeout: 500 * time.Millisecond,
	}
	return f
}

func (f *fixture) build(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.New(f.cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := pipeline.New(pipeline.Config{}); err == nil {
		t.Fatal("New accepted an empty config")
	}
}

func TestStart_DeviceNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.resolver.Err = fmt.Errorf("%w: no loopback", device.ErrDeviceNotFound)
	p := f.build(t)

	err := p.Start(context.Background())
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Fatalf("Start error = %v, want ErrDeviceNotFound", err)
	}
	if p.IsRunning() {
		t.Error("pipeline running after failed start")
	}
	if f.loads != 0 {
		t.Errorf("backend loaded %d times, want 0", f.loads)
	}
	if f.source.CallCountOpen != 0 {
		t.Errorf("source opened %d times, want 0", f.source.CallCountOpen)
	}
}

func TestStart_BackendLoadFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.cfg.LoadBackend = func(context.Context) (stt.Provider, error) {
		return nil, fmt.Errorf("%w: model missing", stt.ErrBackendLoad)
	}
	p := f.build(t)

	if err := p.Start(context.Background()); !errors.Is(err, stt.ErrBackendLoad) {
		t.Fatalf("Start error = %v, want ErrBackendLoad", err)
	}
	if f.source.CallCountOpen != 0 {
		t.Error("source opened despite backend failure")
	}
	if p.State() != pipeline.StateStopped {
		t.Errorf("State = %v, want stopped", p.State())
	}
}

func TestStart_OpenFailureClosesBackend(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.source.OpenErr = errors.New("device busy")
	p := f.build(t)

	if err := p.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with failing source")
	}
	if n := f.backend.CloseCount(); n != 1 {
		t.Errorf("backend closed %d times, want 1", n)
	}
}

func TestStart_Twice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.build(t)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, pipeline.ErrAlreadyRunning) {
		t.Fatalf("second Start error = %v, want ErrAlreadyRunning", err)
	}
	if f.source.OpenedWith != monitor {
		t.Errorf("opened %+v, want %+v", f.source.OpenedWith, monitor)
	}
	if f.source.FrameSize != 512 {
		t.Errorf("FrameSize = %d, want 512", f.source.FrameSize)
	}
}

// slowLoad makes the fixture's backend loader block until release is closed.
func (f *fixture) slowLoad() (loading, release chan struct{}) {
	loading = make(chan struct{})
	release = make(chan struct{})
	f.cfg.LoadBackend = func(context.Context) (stt.Provider, error) {
		close(loading)
		<-release
		return f.backend, nil
	}
	return loading, release
}

// within fails the test when fn does not return in time.
func within(t *testing.T, name string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("%s blocked while the backend was loading", name)
	}
}

func TestStart_ResponsiveWhileLoading(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	loading, release := f.slowLoad()
	p := f.build(t)

	startErr := make(chan error, 1)
	go func() { startErr <- p.Start(context.Background()) }()
	<-loading

	within(t, "State", func() {
		if got := p.State(); got != pipeline.StateStarting {
			t.Errorf("State = %v, want starting", got)
		}
	})
	within(t, "IsRunning", func() {
		if p.IsRunning() {
			t.Error("IsRunning = true before the workers started")
		}
	})
	within(t, "Pause", func() {
		if err := p.Pause(); !errors.Is(err, pipeline.ErrNotRunning) {
			t.Errorf("Pause error = %v, want ErrNotRunning", err)
		}
	})
	within(t, "Start", func() {
		if err := p.Start(context.Background()); !errors.Is(err, pipeline.ErrAlreadyRunning) {
			t.Errorf("second Start error = %v, want ErrAlreadyRunning", err)
		}
	})

	close(release)
	if err := <-startErr; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := p.State(); got != pipeline.StateRunning {
		t.Errorf("State = %v, want running", got)
	}
}

func TestStop_AbortsPendingStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	loading, release := f.slowLoad()
	p := f.build(t)

	startErr := make(chan error, 1)
	go func() { startErr <- p.Start(context.Background()) }()
	<-loading

	within(t, "Stop", func() {
		if err := p.Stop(context.Background()); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	close(release)

	if err := <-startErr; !errors.Is(err, pipeline.ErrStartAborted) {
		t.Fatalf("Start error = %v, want ErrStartAborted", err)
	}
	if p.State() != pipeline.StateStopped {
		t.Errorf("State = %v, want stopped", p.State())
	}
	if f.source.IsOpen() {
		t.Error("source left open after aborted start")
	}
	if n := f.backend.CloseCount(); n != 1 {
		t.Errorf("backend closed %d times, want 1", n)
	}
}

func TestPipeline_DeliversPhrase(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	got := make(chan segment.Phrase, 4)
	f.cfg.OnPhrase = func(ph segment.Phrase) { got <- ph }
	now := time.Now()
	for i := range 5 {
		f.source.Frames = append(f.source.Frames, audiomock.ToneFrame(1600, 8000, now.Add(time.Duration(i)*100*time.Millisecond)))
	}
	p := f.build(t)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case ph := <-got:
		if ph.Text != "hello" {
			t.Errorf("Text = %q, want %q", ph.Text, "hello")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no phrase delivered")
	}
	if st := p.Stats(); st.Captured != 5 {
		t.Errorf("Captured = %d, want 5", st.Captured)
	}
}

func TestStop_ReleasesAndRestarts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.build(t)

	for round := 1; round <= 2; round++ {
		if err := p.Start(context.Background()); err != nil {
			t.Fatalf("round %d: Start: %v", round, err)
		}
		if !f.source.IsOpen() {
			t.Fatalf("round %d: source not open after Start", round)
		}
		if err := p.Stop(context.Background()); err != nil {
			t.Fatalf("round %d: Stop: %v", round, err)
		}
		if f.source.IsOpen() {
			t.Fatalf("round %d: source still open after Stop", round)
		}
		if n := f.backend.CloseCount(); n != round {
			t.Errorf("round %d: backend closed %d times, want %d", round, n, round)
		}
	}
	if p.State() != pipeline.StateStopped {
		t.Errorf("State = %v, want stopped", p.State())
	}
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.build(t)

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on fresh pipeline: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for range 2 {
		if err := p.Stop(context.Background()); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	if n := f.source.Closes(); n != 1 {
		t.Errorf("source closed %d times, want 1", n)
	}
}

func TestStop_UncleanShutdownStillReleases(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	f.source.BlockRead = block
	f.cfg.StopTimeout = 50 * time.Millisecond
	p := f.build(t)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	start := time.Now()
	err := p.Stop(context.Background())
	if !errors.Is(err, pipeline.ErrUncleanShutdown) {
		t.Fatalf("Stop error = %v, want ErrUncleanShutdown", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop took %v, want about the stop timeout", elapsed)
	}
	if f.source.IsOpen() {
		t.Error("source still open after unclean stop")
	}
	if n := f.backend.CloseCount(); n != 1 {
		t.Errorf("backend closed %d times, want 1", n)
	}
	if p.IsRunning() {
		t.Error("pipeline reports running after unclean stop")
	}
}

func TestPipeline_DeviceFailureStops(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.source.ReadErr = errors.New("device unplugged")
	p := f.build(t)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("pipeline did not report death")
	}

	if p.State() != pipeline.StateStopped {
		t.Errorf("State = %v, want stopped", p.State())
	}
	if err := p.Err(); !errors.Is(err, capture.ErrDeviceRead) {
		t.Errorf("Err() = %v, want ErrDeviceRead", err)
	}
	if f.source.IsOpen() {
		t.Error("source still open after device failure")
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop after death: %v", err)
	}

	// The caller may restart once the device is back.
	f.source.ReadErr = nil
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if p.Err() != nil {
		t.Errorf("Err() after restart = %v, want nil", p.Err())
	}
}

func TestPauseResume(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.build(t)

	if err := p.Pause(); !errors.Is(err, pipeline.ErrNotRunning) {
		t.Fatalf("Pause on stopped = %v, want ErrNotRunning", err)
	}
	if err := p.Resume(); !errors.Is(err, pipeline.ErrNotRunning) {
		t.Fatalf("Resume on stopped = %v, want ErrNotRunning", err)
	}

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !p.IsPaused() || !p.IsRunning() {
		t.Errorf("IsPaused=%v IsRunning=%v, want true true", p.IsPaused(), p.IsRunning())
	}
	if err := p.Pause(); err != nil {
		t.Errorf("second Pause: %v", err)
	}
	if err := p.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if p.State() != pipeline.StateRunning {
		t.Errorf("State = %v, want running", p.State())
	}
}

func TestPause_DiscardsAudio(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	got := make(chan segment.Phrase, 4)
	f.cfg.OnPhrase = func(ph segment.Phrase) { got <- ph }
	p := f.build(t)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	f.source.Push(audiomock.ToneFrame(1600, 8000, time.Now()))

	select {
	case ph := <-got:
		t.Fatalf("phrase %q delivered while paused", ph.Text)
	case <-time.After(300 * time.Millisecond):
	}
	if n := len(f.backend.Calls()); n != 0 {
		t.Errorf("transcribe calls while paused = %d, want 0", n)
	}
}

func TestSetPolicy(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.build(t)

	if err := p.SetPolicy(segment.Policy{}); err == nil {
		t.Error("SetPolicy accepted a zero policy")
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.SetPolicy(segment.DefaultPolicy()); err != nil {
		t.Errorf("SetPolicy: %v", err)
	}
}

func TestPipeline_Metrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := newFixture(t)
	f.cfg.Metrics = m
	f.source.Frames = []audio.Frame{audiomock.ToneFrame(1600, 8000, time.Now())}
	p := f.build(t)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := sumValue(t, reader, "callscribe.pipeline.running"); got != 1 {
		t.Errorf("pipeline.running = %d, want 1", got)
	}
	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().Captured < 1 {
		if time.Now().After(deadline) {
			t.Fatal("frame never captured")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := sumValue(t, reader, "callscribe.pipeline.running"); got != 0 {
		t.Errorf("pipeline.running after stop = %d, want 0", got)
	}
	if got := sumValue(t, reader, "callscribe.chunks.captured"); got != 1 {
		t.Errorf("chunks.captured = %d, want 1", got)
	}
}

// sumValue collects reader and returns the first data point of the named
// int64 sum.
func sumValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				t.Fatalf("metric %s has unexpected data %T", name, met.Data)
			}
			return sum.DataPoints[0].Value
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
