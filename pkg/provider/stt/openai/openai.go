// Package openai provides an STT provider for any OpenAI-compatible
// /audio/transcriptions endpoint: the OpenAI API itself, or a self-hosted
// faster-whisper server that applies its own VAD filtering.
package openai

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = string(oai.AudioModelWhisper1)

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI audio API.
type Provider struct {
	client   oai.Client
	model    string
	language string
	prompt   string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL  string
	timeout  time.Duration
	language string
	prompt   string
	client   *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible server, e.g.
// "http://localhost:8000/v1".
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithLanguage sets the default ISO-639-1 language hint.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithPrompt sets the default vocabulary prompt.
func WithPrompt(prompt string) Option {
	return func(c *config) { c.prompt = prompt }
}

// WithHTTPClient replaces the HTTP client. Takes precedence over WithTimeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *config) { cfg.client = c }
}

// New constructs a Provider. apiKey may be empty only when a base URL for a
// self-hosted server is given. If model is empty, DefaultModel is used.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if apiKey == "" && cfg.baseURL == "" {
		return nil, fmt.Errorf("%w: openai stt: apiKey must not be empty", stt.ErrBackendLoad)
	}
	if apiKey == "" {
		// Self-hosted servers ignore the key but the client requires one.
		apiKey = "unused"
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	switch {
	case cfg.client != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.client))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    cmp.Or(model, DefaultModel),
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// Name returns "openai".
func (p *Provider) Name() string { return "openai" }

// Model returns the configured transcription model.
func (p *Provider) Model() string { return p.model }

// Close is a no-op.
func (p *Provider) Close() error { return nil }

// Transcribe uploads samples as a WAV file and returns the recognised text.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, params stt.Params) (stt.Result, error) {
	if len(samples) == 0 {
		return stt.Result{}, nil
	}

	wav := audio.EncodeWAVFloat32(samples, stt.SampleRate)
	req := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if lang := cmp.Or(params.Language, p.language); lang != "" && lang != "auto" {
		req.Language = param.NewOpt(lang)
	}
	if prompt := cmp.Or(params.Prompt, p.prompt); prompt != "" {
		req.Prompt = param.NewOpt(prompt)
	}
	if params.Temperature > 0 {
		req.Temperature = param.NewOpt(float64(params.Temperature))
	}

	start := time.Now()
	resp, err := p.client.Audio.Transcriptions.New(ctx, req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("%w: openai stt: %w", stt.ErrTranscription, err)
	}
	return stt.Result{Text: strings.TrimSpace(resp.Text), Duration: time.Since(start)}, nil
}
