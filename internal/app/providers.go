package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. A nil TTS disables
// speech.
type Providers struct {
	LLM llm.Provider
	TTS tts.Provider
}

// BuildProviders instantiates the configured providers through reg. When
// fallbacks are configured the primary and its fallbacks are wrapped in a
// circuit-breaking failover group.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	ps := &Providers{}
	fbCfg := resilience.FallbackConfig{Metrics: m}

	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("app: create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = primary
	if len(cfg.Providers.LLMFallbacks) > 0 {
		group := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, fbCfg)
		for _, entry := range cfg.Providers.LLMFallbacks {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("app: create llm fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, p)
		}
		ps.LLM = group
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name,
		"model", cfg.Providers.LLM.Model, "fallbacks", len(cfg.Providers.LLMFallbacks))

	if cfg.Speech.Disabled || cfg.Providers.TTS.Name == "" {
		return ps, nil
	}
	voice, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("app: create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ps.TTS = voice
	if len(cfg.Providers.TTSFallbacks) > 0 {
		group := resilience.NewTTSFallback(voice, cfg.Providers.TTS.Name, fbCfg)
		for _, entry := range cfg.Providers.TTSFallbacks {
			p, err := reg.CreateTTS(entry)
			if err != nil {
				return nil, fmt.Errorf("app: create tts fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, p)
		}
		ps.TTS = group
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name,
		"fallbacks", len(cfg.Providers.TTSFallbacks))
	return ps, nil
}
