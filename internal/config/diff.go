package config

import (
	"slices"

	"github.com/MrWong99/callscribe/internal/segment"
)

// ConfigDiff describes what changed between two configs and how each change
// must be applied.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PolicyChanged is set when any segmentation threshold changed. The new
	// policy applies to the running pipeline without a restart.
	PolicyChanged bool
	NewPolicy     segment.Policy

	// VocabularyChanged is set when terms or thresholds changed.
	VocabularyChanged bool

	// ArchiveChanged is set when the archive path changed.
	ArchiveChanged bool

	// SourceChanged is set when audio.source changed. The pipeline must be
	// restarted on the newly resolved device.
	SourceChanged bool

	// RestartRequired is set when a change can only take effect on a fresh
	// pipeline: the source, frame or queue size, stop timeout, or any
	// transcription backend setting.
	RestartRequired bool

	// ServerChanged is set when the HTTP listener settings changed. They are
	// not hot-reloadable; the process must be restarted.
	ServerChanged bool
}

// Empty reports whether nothing relevant changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PolicyChanged && !d.VocabularyChanged &&
		!d.ArchiveChanged && !d.RestartRequired && !d.ServerChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.ServerChanged = true
	}

	if oldPol, newPol := old.Segmentation.Policy(), new.Segmentation.Policy(); oldPol != newPol {
		d.PolicyChanged = true
		d.NewPolicy = newPol
	}

	if !slices.Equal(old.Vocabulary.Terms, new.Vocabulary.Terms) ||
		old.Vocabulary.PhoneticThreshold != new.Vocabulary.PhoneticThreshold ||
		old.Vocabulary.FuzzyThreshold != new.Vocabulary.FuzzyThreshold {
		d.VocabularyChanged = true
	}

	if old.Archive.Path != new.Archive.Path {
		d.ArchiveChanged = true
	}

	if old.Audio.Source != new.Audio.Source {
		d.SourceChanged = true
		d.RestartRequired = true
	}
	if old.Audio.FrameSize != new.Audio.FrameSize ||
		old.Audio.QueueSize != new.Audio.QueueSize ||
		old.Segmentation.StopTimeout != new.Segmentation.StopTimeout ||
		old.Transcription.BackendEntry != new.Transcription.BackendEntry ||
		!slices.Equal(old.Transcription.Fallback, new.Transcription.Fallback) {
		d.RestartRequired = true
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
