package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/callscribe/internal/segment"
)

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr        = ":9090"
	DefaultFrameSize         = 1024
	DefaultQueueSize         = 256
	DefaultStopTimeout       = 2 * time.Second
	DefaultBackend           = "whisper"
	DefaultLanguage          = "en"
	DefaultPhoneticThreshold = 0.70
	DefaultFuzzyThreshold    = 0.85
)

// Backend names accepted in transcription.backend and fallback entries.
const (
	BackendWhisper       = "whisper"
	BackendWhisperFast   = "whisper-fast"
	BackendWhisperServer = "whisper-server"
	BackendOpenAI        = "openai"
)

// KnownBackends lists the built-in backend names. Used by [Validate] to warn
// about unrecognised names.
var KnownBackends = []string{BackendWhisper, BackendWhisperFast, BackendWhisperServer, BackendOpenAI}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = DefaultFrameSize
	}
	if cfg.Audio.QueueSize == 0 {
		cfg.Audio.QueueSize = DefaultQueueSize
	}

	seg := &cfg.Segmentation
	if seg.SilenceThreshold == 0 {
		seg.SilenceThreshold = segment.DefaultSilenceThreshold
	}
	if seg.PhraseTimeout == 0 {
		seg.PhraseTimeout = segment.DefaultPhraseTimeout
	}
	if seg.MaxPhraseDuration == 0 {
		seg.MaxPhraseDuration = segment.DefaultMaxPhraseDuration
	}
	if seg.MinAudioLength == 0 {
		seg.MinAudioLength = segment.DefaultMinAudioLength
	}
	if seg.StopTimeout == 0 {
		seg.StopTimeout = DefaultStopTimeout
	}

	if cfg.Transcription.Backend == "" {
		cfg.Transcription.Backend = DefaultBackend
	}
	if cfg.Transcription.Language == "" {
		cfg.Transcription.Language = DefaultLanguage
	}
	for i := range cfg.Transcription.Fallback {
		fb := &cfg.Transcription.Fallback[i]
		if fb.Language == "" {
			fb.Language = cfg.Transcription.Language
		}
	}

	if cfg.Vocabulary.PhoneticThreshold == 0 {
		cfg.Vocabulary.PhoneticThreshold = DefaultPhoneticThreshold
	}
	if cfg.Vocabulary.FuzzyThreshold == 0 {
		cfg.Vocabulary.FuzzyThreshold = DefaultFuzzyThreshold
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}
	if cfg.Audio.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_size %d must be positive", cfg.Audio.QueueSize))
	}

	// Segmentation
	if err := cfg.Segmentation.Policy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("segmentation: %w", err))
	}
	if cfg.Segmentation.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("segmentation.stop_timeout %v must not be negative", cfg.Segmentation.StopTimeout))
	}

	// Transcription
	errs = append(errs, validateBackend("transcription", cfg.Transcription.BackendEntry)...)
	for i, fb := range cfg.Transcription.Fallback {
		errs = append(errs, validateBackend(fmt.Sprintf("transcription.fallback[%d]", i), fb)...)
	}

	// Vocabulary
	for name, v := range map[string]float64{
		"phonetic_threshold": cfg.Vocabulary.PhoneticThreshold,
		"fuzzy_threshold":    cfg.Vocabulary.FuzzyThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("vocabulary.%s %.2f is out of range [0, 1]", name, v))
		}
	}
	seen := make(map[string]int, len(cfg.Vocabulary.Terms))
	for i, term := range cfg.Vocabulary.Terms {
		if term == "" {
			errs = append(errs, fmt.Errorf("vocabulary.terms[%d] is empty", i))
			continue
		}
		if prev, ok := seen[term]; ok {
			slog.Warn("duplicate vocabulary term", "term", term, "first", prev, "duplicate", i)
		}
		seen[term] = i
	}

	return errors.Join(errs...)
}

// validateBackend checks one backend entry. Unknown backend names only warn
// so third-party registrations keep working.
func validateBackend(prefix string, e BackendEntry) []error {
	var errs []error
	if e.Backend == "" {
		return append(errs, fmt.Errorf("%s.backend is required", prefix))
	}
	if !slices.Contains(KnownBackends, e.Backend) {
		slog.Warn("unknown transcription backend; may be a typo or third-party backend",
			"field", prefix+".backend",
			"name", e.Backend,
			"known", KnownBackends,
		)
	}
	switch e.Backend {
	case BackendWhisper, BackendWhisperFast:
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required for backend %q (path to a GGML model)", prefix, e.Backend))
		}
	case BackendWhisperServer:
		if e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for backend %q", prefix, e.Backend))
		}
	case BackendOpenAI:
		if e.APIKey == "" && e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s: backend %q requires api_key or a self-hosted base_url", prefix, e.Backend))
		}
	}
	if e.BeamSize < 0 {
		errs = append(errs, fmt.Errorf("%s.beam_size %d must not be negative", prefix, e.BeamSize))
	}
	if e.Temperature < 0 || e.Temperature > 1 {
		errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0, 1]", prefix, e.Temperature))
	}
	if e.Threads < 0 {
		errs = append(errs, fmt.Errorf("%s.threads %d must not be negative", prefix, e.Threads))
	}
	if e.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout %v must not be negative", prefix, e.Timeout))
	}
	return errs
}
