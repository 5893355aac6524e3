// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/callscribe/pkg/provider/stt"
	"github.com/MrWong99/callscribe/pkg/provider/vad"
	"github.com/MrWong99/callscribe/pkg/provider/vad/energy"
)

const (
	defaultLanguage = "en"
	defaultBeamSize = 5
	defaultThreads  = 4
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO). The model is loaded once at construction.
//
// Two profiles are built from the same type: [NewNative] runs a
// full-precision model with beam search for accuracy, [NewFast] runs a
// quantized model with greedy decoding behind an energy VAD that strips
// silence before the decode.
type NativeProvider struct {
	name        string
	model       whisperlib.Model
	language    string
	prompt      string
	threads     uint
	beamSize    int
	temperature float32
	vad         vad.Engine

	// mu serialises decodes; whisper.cpp contexts share the model's
	// inference state.
	mu     sync.Mutex
	closed bool
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithLanguage sets the ISO-639-1 language code used when a call does not
// supply one. Defaults to "en". Use "auto" for detection.
func WithLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithPrompt sets the default initial prompt.
func WithPrompt(prompt string) NativeOption {
	return func(p *NativeProvider) { p.prompt = prompt }
}

// WithThreads sets the number of CPU threads used per decode.
func WithThreads(n int) NativeOption {
	return func(p *NativeProvider) {
		if n > 0 {
			p.threads = uint(n)
		}
	}
}

// WithBeamSize sets the beam width. Zero or one selects greedy decoding.
func WithBeamSize(n int) NativeOption {
	return func(p *NativeProvider) { p.beamSize = n }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float32) NativeOption {
	return func(p *NativeProvider) { p.temperature = t }
}

// WithVAD installs a speech pre-filter. Audio the engine classifies as
// silence is removed before decoding; a buffer with no speech at all is not
// decoded.
func WithVAD(engine vad.Engine) NativeOption {
	return func(p *NativeProvider) { p.vad = engine }
}

// NewNative loads the accuracy-optimised backend: full-precision model,
// beam search, no pre-filter.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	base := []NativeOption{WithBeamSize(defaultBeamSize)}
	return newNative("whisper", modelPath, append(base, opts...)...)
}

// NewFast loads the latency-optimised backend: intended for a quantized
// model, greedy decoding and an energy VAD pre-filter.
func NewFast(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	base := []NativeOption{WithBeamSize(1), WithVAD(energy.New())}
	return newNative("whisper-fast", modelPath, append(base, opts...)...)
}

func newNative(name, modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("%w: whisper: model path must not be empty", stt.ErrBackendLoad)
	}
	p := &NativeProvider{
		name:     name,
		language: defaultLanguage,
		threads:  defaultThreads,
	}
	for _, o := range opts {
		o(p)
	}

	start := time.Now()
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: whisper: load model %q: %w", stt.ErrBackendLoad, modelPath, err)
	}
	p.model = model
	slog.Info("whisper model loaded", "backend", name, "model", modelPath, "elapsed", time.Since(start))
	return p, nil
}

// Name returns the backend identifier.
func (p *NativeProvider) Name() string { return p.name }

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.model == nil {
		return nil
	}
	p.closed = true
	return p.model.Close()
}

// Transcribe decodes samples with a fresh whisper.cpp context.
func (p *NativeProvider) Transcribe(ctx context.Context, samples []float32, params stt.Params) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("%w: whisper: %w", stt.ErrTranscription, err)
	}
	if len(samples) == 0 {
		return stt.Result{}, nil
	}

	if p.vad != nil {
		filtered, err := speechOnly(p.vad, samples)
		if err != nil {
			return stt.Result{}, fmt.Errorf("%w: %w", stt.ErrTranscription, err)
		}
		if len(filtered) == 0 {
			return stt.Result{}, nil
		}
		samples = filtered
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return stt.Result{}, fmt.Errorf("%w: whisper: provider closed", stt.ErrTranscription)
	}

	start := time.Now()
	text, lang, err := p.infer(samples, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("%w: %w", stt.ErrTranscription, err)
	}
	return stt.Result{Text: text, Language: lang, Duration: time.Since(start)}, nil
}

// infer runs one decode and returns the concatenated segment text.
func (p *NativeProvider) infer(samples []float32, params stt.Params) (string, string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", "", fmt.Errorf("whisper: create context: %w", err)
	}

	lang := params.Language
	if lang == "" {
		lang = p.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "err", err)
	}
	wctx.SetThreads(p.threads)

	if beam := cmp.Or(params.BeamSize, p.beamSize); beam > 1 {
		wctx.SetBeamSize(beam)
	}
	temp := params.Temperature
	if temp == 0 {
		temp = p.temperature
	}
	wctx.SetTemperature(temp)
	if prompt := cmp.Or(params.Prompt, p.prompt); prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), wctx.Language(), nil
}
