// Package config provides the configuration schema, loader, hot-reload
// watcher, and transcription backend registry for callscribe.
package config

import (
	"time"

	"github.com/MrWong99/callscribe/internal/segment"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	Segmentation  SegmentationConfig  `yaml:"segmentation"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Vocabulary    VocabularyConfig    `yaml:"vocabulary"`
	Archive       ArchiveConfig       `yaml:"archive"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for health, metrics and the live
	// transcript feed (e.g., ":9090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns (path.Match syntax, e.g.
	// "*.example.com") of browser pages allowed to open the /ws feed from
	// another origin. Same-origin clients are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig selects and sizes the capture device.
type AudioConfig struct {
	// Source is a case-insensitive substring of the device name to capture
	// from. Empty auto-detects a loopback or monitor source. Changing it
	// at runtime restarts the pipeline on the new device.
	Source string `yaml:"source"`

	// FrameSize is the number of frames per device read.
	FrameSize int `yaml:"frame_size"`

	// QueueSize caps the number of chunks buffered between capture and
	// segmentation.
	QueueSize int `yaml:"queue_size"`
}

// SegmentationConfig holds the utterance thresholds. All fields except
// StopTimeout are hot-reloadable.
type SegmentationConfig struct {
	// SilenceThreshold is the RMS level in [0, 1) a chunk must exceed to
	// count as speech.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// PhraseTimeout is how long without speech finalizes an utterance.
	PhraseTimeout time.Duration `yaml:"phrase_timeout"`

	// MaxPhraseDuration caps an utterance regardless of ongoing speech.
	MaxPhraseDuration time.Duration `yaml:"max_phrase_duration"`

	// MinAudioLength is the buffered speech needed before a preview decode.
	MinAudioLength time.Duration `yaml:"min_audio_length"`

	// StopTimeout bounds how long stopping the pipeline waits for workers.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// Policy converts the thresholds into a [segment.Policy].
func (s SegmentationConfig) Policy() segment.Policy {
	return segment.Policy{
		SilenceThreshold:  s.SilenceThreshold,
		PhraseTimeout:     s.PhraseTimeout,
		MaxPhraseDuration: s.MaxPhraseDuration,
		MinAudioLength:    s.MinAudioLength,
	}
}

// BackendEntry configures one transcription backend. The Backend field is
// used to look up the constructor in the [Registry].
type BackendEntry struct {
	// Backend selects the registered implementation: "whisper",
	// "whisper-fast", "whisper-server" or "openai".
	Backend string `yaml:"backend"`

	// Model is a GGML model path for the native backends, or a model name
	// for HTTP backends.
	Model string `yaml:"model"`

	// BaseURL is the server address for HTTP backends.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against hosted HTTP backends.
	APIKey string `yaml:"api_key"`

	// Language is the spoken-language hint (e.g., "en"). "auto" detects.
	Language string `yaml:"language"`

	// Prompt biases decoding toward expected vocabulary.
	Prompt string `yaml:"prompt"`

	// BeamSize selects beam search width. Zero uses the backend default.
	BeamSize int `yaml:"beam_size"`

	// Temperature is the sampling temperature in [0, 1].
	Temperature float32 `yaml:"temperature"`

	// Threads is the CPU thread count for native backends. Zero lets the
	// backend decide.
	Threads int `yaml:"threads"`

	// Timeout bounds a single HTTP transcription request.
	Timeout time.Duration `yaml:"timeout"`
}

// Params returns the per-request decoding hints of e.
func (e BackendEntry) Params() stt.Params {
	return stt.Params{
		Language:    e.Language,
		Prompt:      e.Prompt,
		Temperature: e.Temperature,
		BeamSize:    e.BeamSize,
	}
}

// TranscriptionConfig selects the primary backend and optional fallbacks,
// tried in order when the primary fails.
type TranscriptionConfig struct {
	BackendEntry `yaml:",inline"`

	// Fallback lists secondary backends.
	Fallback []BackendEntry `yaml:"fallback"`
}

// VocabularyConfig lists domain terms that finalized phrases are corrected
// toward. Hot-reloadable.
type VocabularyConfig struct {
	// Terms are the canonical spellings (names, departments, products).
	Terms []string `yaml:"terms"`

	// PhoneticThreshold is the minimum Jaro-Winkler similarity for a
	// phonetic match, in (0, 1].
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`

	// FuzzyThreshold is the minimum Jaro-Winkler similarity for a spelling
	// match, in (0, 1].
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// ArchiveConfig controls the phrase archive.
type ArchiveConfig struct {
	// Path is the JSON-lines file every finalized phrase is appended to.
	// Empty disables the archive. Hot-reloadable.
	Path string `yaml:"path"`
}
