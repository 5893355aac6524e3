package vad

// VADEvent is the classification of a single frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the speech likelihood in [0, 1].
	Probability float64
}

// IsSpeech reports whether the frame belongs to a speech segment.
func (e VADEvent) IsSpeech() bool {
	return e.Type != VADSilence
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart marks the first frame of a speech segment.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue marks a frame inside a speech segment.
	VADSpeechContinue

	// VADSpeechEnd marks the frame on which a speech segment closes.
	VADSpeechEnd

	// VADSilence marks a frame outside any speech segment.
	VADSilence
)
