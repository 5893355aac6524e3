package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/callscribe/pkg/audio/device"
)

// Compile-time assertion that Resolver satisfies device.Resolver.
var _ device.Resolver = (*Resolver)(nil)

// Resolver enumerates capture devices through PortAudio. On Linux
// it additionally consults the PulseAudio/PipeWire sound server so monitor
// sources, which ALSA does not expose directly, can be captured through the
// generic "pulse" device.
type Resolver struct {
	hint      string
	listPulse func(ctx context.Context) ([]device.PulseSource, error)
}

// ResolverOption configures a [Resolver].
type ResolverOption func(*Resolver)

// WithSourceHint restricts resolution to the first device whose name
// contains hint (case-insensitive).
func WithSourceHint(hint string) ResolverOption {
	return func(r *Resolver) { r.hint = hint }
}

// WithPulseLister overrides how sound-server sources are listed. Pass nil to
// disable sound-server discovery.
func WithPulseLister(fn func(ctx context.Context) ([]device.PulseSource, error)) ResolverOption {
	return func(r *Resolver) { r.listPulse = fn }
}

// NewResolver returns a resolver backed by PortAudio.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{}
	if runtime.GOOS == "linux" {
		r.listPulse = device.ListPulseSources
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve enumerates the candidates and applies [device.Select].
func (r *Resolver) Resolve(ctx context.Context) (device.Descriptor, error) {
	cands, err := r.Candidates(ctx)
	if err != nil {
		return device.Descriptor{}, err
	}
	d, err := device.Select(cands, r.hint)
	if err != nil {
		return device.Descriptor{}, err
	}
	slog.Info("capture device resolved", "device", d.String(), "monitor", d.Monitor, "pulse_source", d.PulseSource)
	return d, nil
}

// Candidates lists every input-capable device. Sound-server monitor sources
// are appended as candidates routed through the "pulse" device when one is
// available.
func (r *Resolver) Candidates(ctx context.Context) ([]device.Candidate, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize portaudio: %w", err)
	}
	defer func() { _ = pa.Terminate() }()

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: enumerate devices: %w", err)
	}
	defIn, _ := pa.DefaultInputDevice()

	infos := make([]device.Candidate, 0, len(devices))
	for i, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		infos = append(infos, device.Candidate{
			Descriptor: device.Descriptor{
				Index:      i,
				Name:       d.Name,
				Channels:   min(d.MaxInputChannels, 2),
				SampleRate: d.DefaultSampleRate,
				Monitor:    device.IsLoopbackName(d.Name),
			},
			Default: defIn != nil && d.Name == defIn.Name,
		})
	}

	if r.listPulse == nil {
		return infos, nil
	}
	sources, err := r.listPulse(ctx)
	if err != nil {
		slog.Debug("sound-server sources unavailable", "err", err)
		return infos, nil
	}
	return device.MergePulseSources(infos, sources), nil
}

// ListInputs returns every input-capable device for display, including
// sound-server monitor sources.
func ListInputs(ctx context.Context) ([]device.Candidate, error) {
	return NewResolver().Candidates(ctx)
}
