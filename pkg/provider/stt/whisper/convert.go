package whisper

import (
	"fmt"

	"github.com/MrWong99/callscribe/pkg/audio"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
	"github.com/MrWong99/callscribe/pkg/provider/vad"
)

// vadFrameMs is the frame length used by the speech pre-filter.
const vadFrameMs = 20

// speechOnly returns the parts of samples that the VAD engine classifies as
// speech, keeping one frame of context on each side of a segment. It returns
// nil when no frame is speech. A trailing partial frame is kept when the
// frame before it was speech.
func speechOnly(engine vad.Engine, samples []float32) ([]float32, error) {
	sess, err := engine.NewSession(vad.Config{SampleRate: stt.SampleRate, FrameSizeMs: vadFrameMs})
	if err != nil {
		return nil, fmt.Errorf("whisper: vad session: %w", err)
	}
	defer sess.Close()

	frameLen := stt.SampleRate * vadFrameMs / 1000
	nFrames := len(samples) / frameLen
	keep := make([]bool, nFrames+1)

	for i := range nFrames {
		frame := samples[i*frameLen : (i+1)*frameLen]
		ev, err := sess.ProcessFrame(audio.PCM16LE(audio.Float32ToPCM16(frame)))
		if err != nil {
			return nil, fmt.Errorf("whisper: vad frame %d: %w", i, err)
		}
		if ev.IsSpeech() {
			keep[i] = true
			if i > 0 {
				keep[i-1] = true
			}
			keep[i+1] = true
		}
	}

	var out []float32
	for i, k := range keep {
		if !k {
			continue
		}
		start := i * frameLen
		end := min(start+frameLen, len(samples))
		if start >= end {
			continue
		}
		out = append(out, samples[start:end]...)
	}
	return out, nil
}
