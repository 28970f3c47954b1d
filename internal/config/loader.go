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

	"github.com/MrWong99/parley/internal/command"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs"},
}

// Defaults filled in by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultHistoryLimit    = 20
	DefaultMaxTurns        = 8
	DefaultSampleRate      = 16000
	DefaultChannels        = 1
)

// NoTurnLimit as conversation.max_turns opens sessions without a turn cap.
const NoTurnLimit = -1

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
// validates the result. Unknown keys are rejected.
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

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogText
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = MemoryInProcess
	}
	if cfg.Memory.HistoryLimit == 0 {
		cfg.Memory.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Conversation.MaxTurns == 0 {
		cfg.Conversation.MaxTurns = DefaultMaxTurns
	}
	if cfg.Speech.SampleRate == 0 {
		cfg.Speech.SampleRate = DefaultSampleRate
	}
	if cfg.Speech.Channels == 0 {
		cfg.Speech.Channels = DefaultChannels
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
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", fb.Name)
	}
	if cfg.Providers.TTS.Name == "" && !cfg.Speech.Disabled {
		slog.Warn("no TTS provider configured; speech is disabled")
	}

	// Memory
	switch {
	case cfg.Memory.Backend != "" && !cfg.Memory.Backend.IsValid():
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: memory, postgres, redis", cfg.Memory.Backend))
	case cfg.Memory.Backend == MemoryPostgres && cfg.Memory.PostgresDSN == "":
		errs = append(errs, errors.New("memory.postgres_dsn is required for the postgres backend"))
	case cfg.Memory.Backend == MemoryRedis && cfg.Memory.RedisURL == "":
		errs = append(errs, errors.New("memory.redis_url is required for the redis backend"))
	}
	if cfg.Memory.HistoryLimit < 0 {
		errs = append(errs, errors.New("memory.history_limit must not be negative"))
	}

	// Conversation, greeting, speech
	if cfg.Conversation.MaxTurns < NoTurnLimit {
		errs = append(errs, fmt.Errorf("conversation.max_turns %d is invalid; use %d for no limit", cfg.Conversation.MaxTurns, NoTurnLimit))
	}
	if t := cfg.Conversation.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("conversation.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Greeting.TTL < 0 || cfg.Greeting.WaitInterval < 0 || cfg.Greeting.WaitAttempts < 0 || cfg.Greeting.PrefetchConcurrency < 0 {
		errs = append(errs, errors.New("greeting durations and counts must not be negative"))
	}
	if cfg.Speech.MaxChunk < 0 {
		errs = append(errs, errors.New("speech.max_chunk must not be negative"))
	}
	if cfg.Speech.Channels < 0 || cfg.Speech.Channels > 2 {
		errs = append(errs, fmt.Errorf("speech.channels %d is invalid; valid values: 1, 2", cfg.Speech.Channels))
	}

	// Commands and permissions
	var table *command.Table
	if len(cfg.Commands) > 0 {
		t, err := command.NewTable(cfg.Commands)
		if err != nil {
			errs = append(errs, fmt.Errorf("commands: %w", err))
		} else {
			table = t
		}
	}
	for group, names := range cfg.Permissions.Groups {
		for _, name := range names {
			if table != nil && !table.Has(name) {
				errs = append(errs, fmt.Errorf("permissions.groups[%q] references unknown directive %q", group, name))
			}
		}
	}
	for role, groups := range cfg.Permissions.Roles {
		if len(groups) == 0 {
			slog.Warn("permission role has no groups", "role", role)
		}
	}

	// NPC catalogue
	questIDs := make(map[string]bool, len(cfg.Quests))
	for i, q := range cfg.Quests {
		if q.ID == "" {
			errs = append(errs, fmt.Errorf("quests[%d].id is required", i))
			continue
		}
		if questIDs[q.ID] {
			errs = append(errs, fmt.Errorf("quests[%d]: duplicate quest id %q", i, q.ID))
		}
		questIDs[q.ID] = true
	}
	seen := make(map[string]bool, len(cfg.NPCs))
	for i, n := range cfg.NPCs {
		prefix := fmt.Sprintf("npcs[%d]", i)
		if n.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if seen[n.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate NPC id %q", prefix, n.ID))
		}
		seen[n.ID] = true
		if n.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		for _, qid := range n.QuestIDs {
			if len(cfg.Quests) > 0 && !questIDs[qid] {
				slog.Warn("npc references unknown quest", "npc", n.ID, "quest", qid)
			}
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not in the
// known provider list for kind. Custom providers registered at runtime are
// still allowed.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames[kind], name) {
		slog.Warn("unknown provider name; it must be registered at runtime", "kind", kind, "name", name)
	}
}
