package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/animetalk/internal/character"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"upstream": {"gemini"},
	"speak":    {"elevenlabs", "openai"},
	"chat":     {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"device":   {"discord"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultMetricsPath      = "/metrics"
	DefaultUpstream         = "gemini"
	DefaultTemperature      = 1.0
	DefaultTopP             = 0.95
	DefaultMaxOutputTokens  = 1024
	DefaultOutputSampleRate = 24000
	DefaultInputSampleRate  = 16000
	DefaultGateThreshold    = 0.02
	DefaultBlockSize        = 2048
	DefaultSchedulerEpsilon = 0.05
	DefaultBlockQuanta      = 4
	DefaultSpeed            = 1.0
)

// DefaultOpenAIVoices maps the prebuilt character voices onto OpenAI TTS
// voices.
var DefaultOpenAIVoices = map[string]string{
	"Puck":   "ash",
	"Charon": "onyx",
	"Kore":   "nova",
	"Fenrir": "echo",
	"Zephyr": "shimmer",
	"Aoede":  "coral",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// against the environment, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
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

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = DefaultMetricsPath
	}

	up := &cfg.Upstream
	if up.Name == "" {
		up.Name = DefaultUpstream
	}
	if up.Temperature == 0 {
		up.Temperature = DefaultTemperature
	}
	if up.TopP == 0 {
		up.TopP = DefaultTopP
	}
	if up.MaxOutputTokens == 0 {
		up.MaxOutputTokens = DefaultMaxOutputTokens
	}

	a := &cfg.Audio
	if a.OutputSampleRate == 0 {
		a.OutputSampleRate = DefaultOutputSampleRate
	}
	if a.InputSampleRate == 0 {
		a.InputSampleRate = DefaultInputSampleRate
	}
	if a.GateThreshold == 0 {
		a.GateThreshold = DefaultGateThreshold
	}
	if a.BlockSize == 0 {
		a.BlockSize = DefaultBlockSize
	}
	if a.SchedulerEpsilon == 0 {
		a.SchedulerEpsilon = DefaultSchedulerEpsilon
	}
	if a.BlockQuanta == 0 {
		a.BlockQuanta = DefaultBlockQuanta
	}

	if cfg.Speak.Speed == 0 {
		cfg.Speak.Speed = DefaultSpeed
	}
	if cfg.Speak.Name == "openai" && len(cfg.Speak.Voices) == 0 {
		cfg.Speak.Voices = make(map[string]string, len(DefaultOpenAIVoices))
		for k, v := range DefaultOpenAIVoices {
			cfg.Speak.Voices[k] = v
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("upstream", cfg.Upstream.Name)
	validateProviderName("speak", cfg.Speak.Name)
	if cfg.Speak.Fallback != nil {
		validateProviderName("speak", cfg.Speak.Fallback.Name)
	}
	validateProviderName("chat", cfg.Chat.Name)

	up := cfg.Upstream
	if up.Temperature < 0 || up.Temperature > 2 {
		errs = append(errs, fmt.Errorf("upstream.temperature %.2f is out of range [0, 2]", up.Temperature))
	}
	if up.TopP < 0 || up.TopP > 1 {
		errs = append(errs, fmt.Errorf("upstream.top_p %.2f is out of range [0, 1]", up.TopP))
	}
	if up.MaxOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("upstream.max_output_tokens %d must not be negative", up.MaxOutputTokens))
	}
	if up.Breaker.MaxFailures < 0 || up.Breaker.ResetSeconds < 0 {
		errs = append(errs, errors.New("upstream.breaker values must not be negative"))
	}

	a := cfg.Audio
	if a.OutputSampleRate < 0 || a.InputSampleRate < 0 {
		errs = append(errs, errors.New("audio sample rates must be positive"))
	}
	if a.GateThreshold < 0 || a.GateThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.gate_threshold %.3f is out of range [0, 1]", a.GateThreshold))
	}
	if a.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", a.BlockSize))
	}
	if a.SchedulerEpsilon < 0 {
		errs = append(errs, fmt.Errorf("audio.scheduler_epsilon %.3f must not be negative", a.SchedulerEpsilon))
	}
	if a.BlockQuanta < 0 {
		errs = append(errs, fmt.Errorf("audio.block_quanta %d must be positive", a.BlockQuanta))
	}

	if s := cfg.Speak.Speed; s != 0 && (s < 0.25 || s > 4) {
		errs = append(errs, fmt.Errorf("speak.speed %.2f is out of range [0.25, 4]", s))
	}
	for name := range cfg.Speak.Voices {
		if !character.ValidVoice(name) {
			errs = append(errs, fmt.Errorf("speak.voices: %q is not a character voice", name))
		}
	}

	ids := make(map[string]int, len(cfg.Characters))
	for i, c := range cfg.Characters {
		prefix := fmt.Sprintf("characters[%d]", i)
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		if c.ID == "" {
			continue
		}
		if prev, ok := ids[c.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of characters[%d]", prefix, c.ID, prev))
		}
		ids[c.ID] = i
	}

	for i, d := range cfg.Devices {
		prefix := fmt.Sprintf("devices[%d]", i)
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			validateProviderName("device", d.Name)
		}
		if d.ChannelID == "" {
			errs = append(errs, fmt.Errorf("%s.channel_id is required", prefix))
		}
		if d.Character == "" {
			errs = append(errs, fmt.Errorf("%s.character is required", prefix))
		} else if _, ok := ids[d.Character]; !ok && cfg.Storage.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("%s.character %q is not defined in characters", prefix, d.Character))
		}
	}

	if cfg.Storage.PostgresDSN == "" && len(cfg.Characters) == 0 {
		slog.Warn("no characters configured and storage.postgres_dsn is empty; the character list will be empty")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
