package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/callscribe/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across
// multiple transcription backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional backend as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe decodes samples with the first healthy backend. A backend that
// fails or whose breaker is open is skipped in favour of the next one.
func (f *STTFallback) Transcribe(ctx context.Context, samples []float32, params stt.Params) (stt.Result, error) {
	res, err := ExecuteWithResult(f.group, func(p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, samples, params)
	})
	if err != nil && !isCancellation(err) {
		return stt.Result{}, fmt.Errorf("%w: %w", stt.ErrTranscription, err)
	}
	return res, err
}

// Name returns the primary backend's name with the fallback chain appended,
// e.g. "whisper+whisper-server".
func (f *STTFallback) Name() string {
	name := ""
	for i, n := range f.group.Names() {
		if i > 0 {
			name += "+"
		}
		name += n
	}
	return name
}

// Close closes every backend in the chain and joins their errors.
func (f *STTFallback) Close() error {
	var errs []error
	f.group.Each(func(name string, p stt.Provider) {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	})
	return errors.Join(errs...)
}
