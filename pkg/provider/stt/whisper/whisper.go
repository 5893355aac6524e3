// Package whisper provides whisper.cpp-backed STT providers.
//
// Two transports are available. [NativeProvider] links whisper.cpp through its
// CGO bindings and decodes in-process; [ServerProvider] talks to a running
// whisper.cpp server binary (POST /inference) and uploads each buffer as a WAV
// file. Both decode whole buffers: whisper.cpp has no streaming mode.
//
// Usage:
//
//	p, err := whisper.NewServer("http://localhost:8080",
//	    whisper.WithServerLanguage("en"),
//	)
//	res, err := p.Transcribe(ctx, samples, stt.Params{})
package whisper

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
)

// defaultServerTimeout bounds a single /inference round-trip.
const defaultServerTimeout = 30 * time.Second

// Compile-time assertion that ServerProvider implements stt.Provider.
var _ stt.Provider = (*ServerProvider)(nil)

// ServerOption is a functional option for configuring a ServerProvider.
type ServerOption func(*ServerProvider)

// WithServerModel sets the model identifier forwarded to the server. When
// empty the server uses whichever model it was started with.
func WithServerModel(model string) ServerOption {
	return func(p *ServerProvider) { p.model = model }
}

// WithServerLanguage sets the default language code sent to the server.
// Defaults to "en".
func WithServerLanguage(lang string) ServerOption {
	return func(p *ServerProvider) { p.language = lang }
}

// WithServerPrompt sets the default prompt sent to the server.
func WithServerPrompt(prompt string) ServerOption {
	return func(p *ServerProvider) { p.prompt = prompt }
}

// WithHTTPClient replaces the HTTP client. Defaults to a client with a 30 s
// timeout.
func WithHTTPClient(c *http.Client) ServerOption {
	return func(p *ServerProvider) { p.httpClient = c }
}

// ServerProvider implements stt.Provider backed by a whisper.cpp HTTP server.
// It holds no per-call state and is safe for concurrent use.
type ServerProvider struct {
	serverURL  string
	model      string
	language   string
	prompt     string
	httpClient *http.Client
}

// NewServer returns a ServerProvider for the server at serverURL (e.g.,
// "http://localhost:8080"). No connection is made until the first call.
func NewServer(serverURL string, opts ...ServerOption) (*ServerProvider, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("%w: whisper: server URL must not be empty", stt.ErrBackendLoad)
	}
	p := &ServerProvider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultServerTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name returns "whisper-server".
func (p *ServerProvider) Name() string { return "whisper-server" }

// Close drops idle HTTP connections.
func (p *ServerProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// Transcribe uploads samples as a WAV file to /inference.
func (p *ServerProvider) Transcribe(ctx context.Context, samples []float32, params stt.Params) (stt.Result, error) {
	if len(samples) == 0 {
		return stt.Result{}, nil
	}
	start := time.Now()
	text, err := p.infer(ctx, audio.EncodeWAVFloat32(samples, stt.SampleRate), params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("%w: %w", stt.ErrTranscription, err)
	}
	return stt.Result{Text: strings.TrimSpace(text), Duration: time.Since(start)}, nil
}

// infer POSTs wav to the /inference endpoint as multipart/form-data and
// returns the transcribed text.
func (p *ServerProvider) infer(ctx context.Context, wav []byte, params stt.Params) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "json",
		"language":        cmp.Or(params.Language, p.language),
		"prompt":          cmp.Or(params.Prompt, p.prompt),
		"model":           p.model,
	}
	if params.Temperature > 0 {
		fields["temperature"] = strconv.FormatFloat(float64(params.Temperature), 'f', -1, 32)
	}
	if params.BeamSize > 0 {
		fields["beam_size"] = strconv.Itoa(params.BeamSize)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("whisper: server error: %s", result.Error)
	}
	return result.Text, nil
}
