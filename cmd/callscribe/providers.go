package main

import (
	"net/http"

	"github.com/MrWong99/callscribe/internal/config"
	"github.com/MrWong99/callscribe/pkg/provider/stt"
	oaistt "github.com/MrWong99/callscribe/pkg/provider/stt/openai"
	"github.com/MrWong99/callscribe/pkg/provider/stt/whisper"
)

// registerBuiltinProviders registers the backends shipped with callscribe
// under the names in [config.KnownBackends].
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT(config.BackendWhisper, func(e config.BackendEntry) (stt.Provider, error) {
		return asProvider(whisper.NewNative(e.Model, nativeOptions(e)...))
	})
	reg.RegisterSTT(config.BackendWhisperFast, func(e config.BackendEntry) (stt.Provider, error) {
		return asProvider(whisper.NewFast(e.Model, nativeOptions(e)...))
	})
	reg.RegisterSTT(config.BackendWhisperServer, func(e config.BackendEntry) (stt.Provider, error) {
		opts := []whisper.ServerOption{
			whisper.WithServerModel(e.Model),
			whisper.WithServerLanguage(e.Language),
			whisper.WithServerPrompt(e.Prompt),
		}
		if e.Timeout > 0 {
			opts = append(opts, whisper.WithHTTPClient(&http.Client{Timeout: e.Timeout}))
		}
		return asProvider(whisper.NewServer(e.BaseURL, opts...))
	})
	reg.RegisterSTT(config.BackendOpenAI, func(e config.BackendEntry) (stt.Provider, error) {
		opts := []oaistt.Option{
			oaistt.WithLanguage(e.Language),
			oaistt.WithPrompt(e.Prompt),
		}
		if e.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(e.BaseURL))
		}
		if e.Timeout > 0 {
			opts = append(opts, oaistt.WithTimeout(e.Timeout))
		}
		return asProvider(oaistt.New(e.APIKey, e.Model, opts...))
	})
}

// nativeOptions maps the entry onto whisper.cpp options. Zero values keep the
// profile defaults.
func nativeOptions(e config.BackendEntry) []whisper.NativeOption {
	opts := []whisper.NativeOption{
		whisper.WithLanguage(e.Language),
		whisper.WithPrompt(e.Prompt),
		whisper.WithThreads(e.Threads),
		whisper.WithTemperature(e.Temperature),
	}
	if e.BeamSize > 0 {
		opts = append(opts, whisper.WithBeamSize(e.BeamSize))
	}
	return opts
}

// asProvider keeps a failed constructor from returning a typed nil.
func asProvider[P stt.Provider](p P, err error) (stt.Provider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}
