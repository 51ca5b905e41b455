// Package config provides the configuration schema, loader, and provider
// registry for the animetalk server.
package config

import "github.com/MrWong99/animetalk/internal/character"

// LogLevel controls log verbosity for the server.
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
	Server     ServerConfig          `yaml:"server"`
	Upstream   UpstreamConfig        `yaml:"upstream"`
	Audio      AudioConfig           `yaml:"audio"`
	Speak      SpeakConfig           `yaml:"speak"`
	Chat       ChatConfig            `yaml:"chat"`
	Storage    StorageConfig         `yaml:"storage"`
	Characters []character.Character `yaml:"characters"`
	Devices    []DeviceEntry         `yaml:"devices"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsPath is where the Prometheus handler is mounted.
	MetricsPath string `yaml:"metrics_path"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns (e.g. "localhost:5173") allowed to
	// open call sockets from another origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// UpstreamConfig selects the live speech-to-speech service a call talks to.
type UpstreamConfig struct {
	ProviderEntry `yaml:",inline"`

	Temperature     float64 `yaml:"temperature"`
	TopP            float64 `yaml:"top_p"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`

	// Greeting, when set, is sent as a text turn right after connecting so the
	// character speaks first.
	Greeting string `yaml:"greeting"`

	// Breaker trips after repeated connect failures.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes a circuit breaker. Zero values use the breaker's
// defaults.
type BreakerConfig struct {
	MaxFailures  int     `yaml:"max_failures"`
	ResetSeconds float64 `yaml:"reset_seconds"`
}

// AudioConfig holds the call path's audio parameters.
type AudioConfig struct {
	// OutputSampleRate is the renderer's clock rate.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// InputSampleRate is the rate of microphone audio sent upstream.
	InputSampleRate int `yaml:"input_sample_rate"`

	// GateThreshold is the RMS level below which capture blocks are dropped.
	GateThreshold float64 `yaml:"gate_threshold"`

	// BlockSize is the number of samples per capture block.
	BlockSize int `yaml:"block_size"`

	// SchedulerEpsilon is the lead, in seconds, given to a chunk scheduled
	// after the queue ran dry.
	SchedulerEpsilon float64 `yaml:"scheduler_epsilon"`

	// BlockQuanta is the number of 128-frame render quanta per output block.
	BlockQuanta int `yaml:"block_quanta"`

	// ImpulseResponse optionally names a WAV file used as the reverb impulse
	// instead of the synthesized one.
	ImpulseResponse string `yaml:"impulse_response"`
}

// SpeakConfig configures the text-to-speech path.
type SpeakConfig struct {
	ProviderEntry `yaml:",inline"`

	// Fallback is tried when the primary provider fails.
	Fallback *ProviderEntry `yaml:"fallback"`

	// Speed scales the emotional playback rate.
	Speed float64 `yaml:"speed"`

	// Flash enables the feedback echo on the speak graph.
	Flash bool `yaml:"flash"`

	// Voices maps a character voice name (e.g. "Kore") to the provider's
	// voice id.
	Voices map[string]string `yaml:"voices"`
}

// ChatConfig configures text chat.
type ChatConfig struct {
	ProviderEntry `yaml:",inline"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// StorageConfig selects where characters and the call log live.
type StorageConfig struct {
	// PostgresDSN is the PostgreSQL connection string. Empty keeps
	// everything in memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// DeviceEntry configures an audio device the server dials into on startup,
// such as a Discord voice channel.
type DeviceEntry struct {
	// Name selects the registered device (e.g., "discord").
	Name string `yaml:"name"`

	Token     string `yaml:"token"`
	GuildID   string `yaml:"guild_id"`
	ChannelID string `yaml:"channel_id"`

	// Character is the id of the character answering on this device.
	Character string `yaml:"character"`

	// CallerRoleID restricts the bot's /call and /hangup commands to
	// members with this role. Empty allows everyone.
	CallerRoleID string `yaml:"caller_role_id"`
}
