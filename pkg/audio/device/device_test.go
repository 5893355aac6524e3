package device_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/callscribe/pkg/audio/device"
)

func cand(name string, state device.State, def bool) device.Candidate {
	return device.Candidate{
		Descriptor: device.Descriptor{Name: name, Channels: 2, SampleRate: 48000},
		State:      state,
		Default:    def,
	}
}

func TestIsLoopbackName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"alsa_output.pci-0000_00_1f.3.analog-stereo.monitor", true},
		{"Monitor of Built-in Audio", true},
		{"BlackHole 2ch", true},
		{"Stereo Mix (Realtek High Definition Audio)", true},
		{"CABLE Output (VB-Audio Virtual Cable)", true},
		{"Loopback Audio", true},
		{"Built-in Microphone", false},
		{"HD Webcam C920", false},
		{"default", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := device.IsLoopbackName(tc.name); got != tc.want {
				t.Errorf("IsLoopbackName(%q) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func TestSelect_PrefersRunningMonitor(t *testing.T) {
	cands := []device.Candidate{
		cand("Built-in Microphone", device.StateRunning, true),
		cand("hdmi.monitor", device.StateSuspended, false),
		cand("analog-stereo.monitor", device.StateRunning, false),
	}
	d, err := device.Select(cands, "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Name != "analog-stereo.monitor" {
		t.Errorf("selected %q, want analog-stereo.monitor", d.Name)
	}
	if !d.Monitor {
		t.Error("selected descriptor should be flagged as monitor")
	}
}

func TestSelect_FirstMonitorWhenNoneRunning(t *testing.T) {
	cands := []device.Candidate{
		cand("Built-in Microphone", device.StateRunning, true),
		cand("hdmi.monitor", device.StateIdle, false),
		cand("analog-stereo.monitor", device.StateSuspended, false),
	}
	d, err := device.Select(cands, "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Name != "hdmi.monitor" {
		t.Errorf("selected %q, want hdmi.monitor", d.Name)
	}
}

func TestSelect_NeverPicksMicrophoneOverLoopback(t *testing.T) {
	cands := []device.Candidate{
		cand("USB Microphone", device.StateRunning, true),
		cand("BlackHole 2ch", device.StateUnknown, false),
	}
	d, err := device.Select(cands, "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Name != "BlackHole 2ch" {
		t.Errorf("selected %q, want BlackHole 2ch", d.Name)
	}
}

func TestSelect_FallsBackToDefaultInput(t *testing.T) {
	cands := []device.Candidate{
		cand("HD Webcam", device.StateUnknown, false),
		cand("Built-in Microphone", device.StateUnknown, true),
	}
	d, err := device.Select(cands, "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Name != "Built-in Microphone" {
		t.Errorf("selected %q, want default input", d.Name)
	}
}

func TestSelect_NoDevice(t *testing.T) {
	tests := []struct {
		name  string
		cands []device.Candidate
	}{
		{"empty", nil},
		{"no default", []device.Candidate{cand("HD Webcam", device.StateUnknown, false)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := device.Select(tc.cands, "")
			if !errors.Is(err, device.ErrDeviceNotFound) {
				t.Errorf("err = %v, want ErrDeviceNotFound", err)
			}
		})
	}
}

func TestSelect_Hint(t *testing.T) {
	cands := []device.Candidate{
		cand("analog-stereo.monitor", device.StateRunning, false),
		cand("USB Headset", device.StateUnknown, true),
	}
	d, err := device.Select(cands, "headset")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Name != "USB Headset" {
		t.Errorf("selected %q, want USB Headset", d.Name)
	}

	_, err = device.Select(cands, "nonexistent")
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("unmatched hint: err = %v, want ErrDeviceNotFound", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    device.State
		want string
	}{
		{device.StateRunning, "RUNNING"},
		{device.StateIdle, "IDLE"},
		{device.StateSuspended, "SUSPENDED"},
		{device.StateUnknown, "UNKNOWN"},
	}
	for _, tc := range tests {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}
