package energy_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/callscribe/pkg/provider/vad"
	"github.com/MrWong99/callscribe/pkg/provider/vad/energy"
)

// frame returns one 20 ms frame at 16 kHz with constant |amplitude|.
func frame(amplitude int16) []byte {
	buf := make([]byte, 320*2)
	for i := range 320 {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func newSession(t *testing.T) vad.SessionHandle {
	t.Helper()
	sess, err := energy.New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 20})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess
}

func TestSession_Hysteresis(t *testing.T) {
	sess := newSession(t)
	loud, quiet := frame(8000), frame(0)

	ev, _ := sess.ProcessFrame(loud)
	if ev.Type != vad.VADSilence {
		t.Fatalf("first loud frame = %v, want silence (attack not reached)", ev.Type)
	}
	ev, _ = sess.ProcessFrame(loud)
	if ev.Type != vad.VADSpeechStart {
		t.Fatalf("second loud frame = %v, want speech start", ev.Type)
	}

	// Short pauses inside speech stay in the segment.
	for i := range 14 {
		ev, _ = sess.ProcessFrame(quiet)
		if ev.Type != vad.VADSpeechContinue {
			t.Fatalf("quiet frame %d = %v, want continue", i, ev.Type)
		}
	}
	ev, _ = sess.ProcessFrame(quiet)
	if ev.Type != vad.VADSpeechEnd {
		t.Fatalf("hangover frame = %v, want speech end", ev.Type)
	}
	ev, _ = sess.ProcessFrame(quiet)
	if ev.Type != vad.VADSilence || ev.IsSpeech() {
		t.Fatalf("after end = %v, want silence", ev.Type)
	}
}

func TestSession_Reset(t *testing.T) {
	sess := newSession(t)
	loud := frame(8000)
	sess.ProcessFrame(loud)
	sess.ProcessFrame(loud)
	sess.Reset()
	ev, _ := sess.ProcessFrame(frame(0))
	if ev.Type != vad.VADSilence {
		t.Errorf("after Reset = %v, want silence", ev.Type)
	}
}

func TestSession_WrongFrameSize(t *testing.T) {
	sess := newSession(t)
	if _, err := sess.ProcessFrame(make([]byte, 10)); err == nil {
		t.Error("expected error for wrong frame size")
	}
}

func TestSession_Closed(t *testing.T) {
	sess := newSession(t)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := sess.ProcessFrame(frame(0)); err == nil {
		t.Error("expected error after Close")
	}
}

func TestNewSession_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"zero rate", vad.Config{}},
		{"negative frame", vad.Config{SampleRate: 16000, FrameSizeMs: -5}},
		{"inverted thresholds", vad.Config{SampleRate: 16000, SpeechThreshold: 0.01, SilenceThreshold: 0.02}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := energy.New().NewSession(tc.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
