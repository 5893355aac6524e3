// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to script transcription results and inspect which buffers the
// caller submitted.
//
// Example:
//
//	p := &mock.Provider{
//	    Responses: []mock.Response{{Text: "hello"}, {Text: "hello world"}},
//	}
//	res, _ := p.Transcribe(ctx, samples, stt.Params{})
//	// res.Text == "hello"; len(p.Calls()) == 1
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/callscribe/pkg/provider/stt"
)

// Response is one scripted Transcribe outcome.
type Response struct {
	// Text is returned as Result.Text when Err is nil.
	Text string

	// Err, if non-nil, is returned instead of a result.
	Err error
}

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Samples is the number of samples submitted.
	Samples int

	// Params is the Params value passed to Transcribe.
	Params stt.Params
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	// Responses are consumed in order by successive Transcribe calls. Once
	// exhausted, Default and DefaultErr are returned.
	Responses []Response

	// Default is returned after Responses run out.
	Default stt.Result

	// DefaultErr is returned after Responses run out.
	DefaultErr error

	// TranscribeFunc, when set, replaces the scripted behaviour entirely.
	TranscribeFunc func(ctx context.Context, samples []float32, params stt.Params) (stt.Result, error)

	// Delay makes each Transcribe call block for the given duration or until
	// ctx is done.
	Delay time.Duration

	// CloseErr is returned by Close.
	CloseErr error

	calls      []TranscribeCall
	closeCount int
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns the next scripted response.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, params stt.Params) (stt.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, TranscribeCall{Samples: len(samples), Params: params})
	fn := p.TranscribeFunc
	delay := p.Delay
	var (
		res stt.Result
		err error
	)
	if len(p.Responses) > 0 {
		r := p.Responses[0]
		p.Responses = p.Responses[1:]
		res, err = stt.Result{Text: r.Text}, r.Err
	} else {
		res, err = p.Default, p.DefaultErr
	}
	p.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		case <-t.C:
		}
	}
	if fn != nil {
		return fn(ctx, samples, params)
	}
	if err != nil {
		return stt.Result{}, err
	}
	return res, nil
}

// Name returns NameValue, or "mock".
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NameValue == "" {
		return "mock"
	}
	return p.NameValue
}

// Close records the call and returns CloseErr.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCount++
	return p.CloseErr
}

// Calls returns a copy of all recorded Transcribe calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// CloseCount returns how many times Close was called. Thread-safe.
func (p *Provider) CloseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCount
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
	p.closeCount = 0
}
