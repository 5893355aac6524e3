package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/callscribe/internal/config"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(`
transcription:
  backend: whisper
  model: /models/ggml-base.en.bin
vocabulary:
  terms: ["Dr. Okafor"]
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t)
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("Diff of identical configs = %+v, want empty", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(t), baseConfig(t)
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("log level change should not require a restart")
	}
}

func TestDiff_PolicyChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(t), baseConfig(t)
	new.Segmentation.SilenceThreshold = 0.05
	new.Segmentation.MaxPhraseDuration = 20 * time.Second

	d := config.Diff(old, new)
	if !d.PolicyChanged {
		t.Fatal("expected PolicyChanged=true")
	}
	if d.NewPolicy.SilenceThreshold != 0.05 || d.NewPolicy.MaxPhraseDuration != 20*time.Second {
		t.Errorf("NewPolicy = %+v", d.NewPolicy)
	}
	if d.RestartRequired {
		t.Error("policy change should not require a restart")
	}
}

func TestDiff_StopTimeoutRequiresRestart(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(t), baseConfig(t)
	new.Segmentation.StopTimeout = 5 * time.Second

	d := config.Diff(old, new)
	if d.PolicyChanged {
		t.Error("stop timeout is not part of the policy")
	}
	if !d.RestartRequired {
		t.Error("expected RestartRequired=true")
	}
}

func TestDiff_VocabularyChanged(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"term added", func(c *config.Config) { c.Vocabulary.Terms = append(c.Vocabulary.Terms, "Cardiology") }},
		{"terms cleared", func(c *config.Config) { c.Vocabulary.Terms = nil }},
		{"phonetic threshold", func(c *config.Config) { c.Vocabulary.PhoneticThreshold = 0.8 }},
		{"fuzzy threshold", func(c *config.Config) { c.Vocabulary.FuzzyThreshold = 0.9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(t), baseConfig(t)
			tt.mutate(new)
			d := config.Diff(old, new)
			if !d.VocabularyChanged {
				t.Error("expected VocabularyChanged=true")
			}
			if d.RestartRequired {
				t.Error("vocabulary change should not require a restart")
			}
		})
	}
}

func TestDiff_ArchiveChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(t), baseConfig(t)
	new.Archive.Path = "/var/log/callscribe/phrases.jsonl"

	d := config.Diff(old, new)
	if !d.ArchiveChanged || d.RestartRequired || d.Empty() {
		t.Errorf("diff = %+v, want ArchiveChanged without restart", d)
	}
}

func TestDiff_SourceChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(t), baseConfig(t)
	new.Audio.Source = "CABLE Output"

	d := config.Diff(old, new)
	if !d.SourceChanged || !d.RestartRequired {
		t.Errorf("diff = %+v, want SourceChanged and RestartRequired", d)
	}
}

func TestDiff_BackendChangesRequireRestart(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"language", func(c *config.Config) { c.Transcription.Language = "de" }},
		{"model", func(c *config.Config) { c.Transcription.Model = "/models/ggml-small.bin" }},
		{"fallback added", func(c *config.Config) {
			c.Transcription.Fallback = []config.BackendEntry{{Backend: "whisper-server", BaseURL: "http://gpu:8080"}}
		}},
		{"frame size", func(c *config.Config) { c.Audio.FrameSize = 2048 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(t), baseConfig(t)
			tt.mutate(new)
			d := config.Diff(old, new)
			if !d.RestartRequired {
				t.Error("expected RestartRequired=true")
			}
			if d.SourceChanged {
				t.Error("expected SourceChanged=false")
			}
		})
	}
}

func TestDiff_ServerChanged(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"tls", func(c *config.Config) {
			c.Server.TLS = &config.TLSConfig{CertFile: "c.pem", KeyFile: "k.pem"}
		}},
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9191" }},
		{"allowed origins", func(c *config.Config) {
			c.Server.AllowedOrigins = []string{"dashboard.example.com"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(t), baseConfig(t)
			tt.mutate(new)

			d := config.Diff(old, new)
			if !d.ServerChanged {
				t.Error("expected ServerChanged=true")
			}
			if d.RestartRequired {
				t.Error("server change must not restart the pipeline")
			}
			if d.Empty() {
				t.Error("Empty() = true for a server change")
			}
		})
	}
}
