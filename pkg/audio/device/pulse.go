package device

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// PulseSource is one line of `pactl list sources short`:
//
//	0	alsa_output.pci-0000_00_1f.3.analog-stereo.monitor	module-alsa-card.c	s16le 2ch 44100Hz	IDLE
type PulseSource struct {
	Index      int
	Name       string
	Driver     string
	Channels   int
	SampleRate int
	State      State
}

// Monitor reports whether the source captures an output sink.
func (s PulseSource) Monitor() bool {
	return strings.HasSuffix(s.Name, ".monitor")
}

// ListPulseSources runs `pactl list sources short` and parses its output.
// It returns an error when pactl is missing or exits non-zero, which callers
// treat as "no sound-server information available".
func ListPulseSources(ctx context.Context) ([]PulseSource, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "pactl", "list", "sources", "short")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("device: pactl list sources: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return ParsePulseSources(stdout.String()), nil
}

// ParsePulseSources parses the tab-separated output of
// `pactl list sources short`. Malformed lines are skipped.
func ParsePulseSources(output string) []PulseSource {
	var sources []PulseSource
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "\t")
		if len(fields) < 2 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		src := PulseSource{Index: idx, Name: strings.TrimSpace(fields[1])}
		if len(fields) > 2 {
			src.Driver = strings.TrimSpace(fields[2])
		}
		if len(fields) > 3 {
			src.Channels, src.SampleRate = parseSampleSpec(fields[3])
		}
		if len(fields) > 4 {
			src.State = parseState(fields[4])
		}
		sources = append(sources, src)
	}
	return sources
}

// parseSampleSpec extracts channel count and rate from a spec like
// "s16le 2ch 44100Hz".
func parseSampleSpec(spec string) (channels, rate int) {
	for _, f := range strings.Fields(spec) {
		switch {
		case strings.HasSuffix(f, "ch"):
			channels, _ = strconv.Atoi(strings.TrimSuffix(f, "ch"))
		case strings.HasSuffix(f, "Hz"):
			rate, _ = strconv.Atoi(strings.TrimSuffix(f, "Hz"))
		}
	}
	return channels, rate
}

func parseState(s string) State {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RUNNING":
		return StateRunning
	case "IDLE":
		return StateIdle
	case "SUSPENDED":
		return StateSuspended
	default:
		return StateUnknown
	}
}

// MergePulseSources adds the sound-server monitor sources to cands as
// candidates that open the generic "pulse" device routed to that source.
// Without a "pulse" device the sources cannot be opened and cands is
// returned unchanged.
func MergePulseSources(cands []Candidate, sources []PulseSource) []Candidate {
	var pulse *Candidate
	for i := range cands {
		if strings.EqualFold(cands[i].Name, "pulse") || strings.EqualFold(cands[i].Name, "pipewire") {
			pulse = &cands[i]
			break
		}
	}
	if pulse == nil {
		return cands
	}

	out := make([]Candidate, 0, len(cands)+len(sources))
	for _, s := range sources {
		if !s.Monitor() {
			continue
		}
		channels := s.Channels
		if channels <= 0 {
			channels = pulse.Channels
		}
		rate := float64(s.SampleRate)
		if rate <= 0 {
			rate = pulse.SampleRate
		}
		out = append(out, Candidate{
			Descriptor: Descriptor{
				Index:       pulse.Index,
				Name:        s.Name,
				Channels:    min(channels, 2),
				SampleRate:  rate,
				Monitor:     true,
				PulseSource: s.Name,
			},
			State: s.State,
		})
	}
	return append(out, cands...)
}
