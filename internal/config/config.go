// Package config provides the configuration schema, loader, and provider
// registry for the chunkscribe transcription service.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the chunkscribe server.
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

// Level maps l to the slog level. Unknown or empty values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for chunkscribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Providers      ProvidersConfig      `yaml:"providers"`
	Pipeline       PipelineConfig       `yaml:"pipeline"`
	VAD            VADConfig            `yaml:"vad"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// MaxUploadBytes caps the size of an uploaded audio file. Default: 512 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// RequestTimeout bounds a single transcription request, upload
	// included. Zero disables the limit.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which implementation to use for speech detection
// and transcription. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	VAD ProviderEntry `yaml:"vad"`
	STT ProviderEntry `yaml:"stt"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "silero", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider. For local backends this is
	// the path to the model file.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// PipelineConfig holds the chunking and transcription parameters. Zero
// values are replaced by the defaults of the production service, see
// [ApplyDefaults].
type PipelineConfig struct {
	TargetSampleRate   int           `yaml:"target_sample_rate"`
	MaxChunkDuration   time.Duration `yaml:"max_chunk_duration"`
	TargetLoudness     float64       `yaml:"target_loudness"`
	BatchSize          int           `yaml:"batch_size"`
	PackingMode        string        `yaml:"packing_mode"`
	SupportedFormats   []string      `yaml:"supported_formats"`
	SupportedLanguages []string      `yaml:"supported_languages"`
	DefaultLanguage    string        `yaml:"default_language"`

	// WorkDir is the parent directory of the per-run chunk directories.
	// Empty means the system temp directory.
	WorkDir string `yaml:"work_dir"`

	FFmpegPath      string `yaml:"ffmpeg_path"`
	ResampleQuality int    `yaml:"resample_quality"`
}

// VADConfig holds the speech detection parameters.
type VADConfig struct {
	// Threshold is the speech probability cut-off in (0, 1).
	Threshold  float64       `yaml:"threshold"`
	MinSpeech  time.Duration `yaml:"min_speech"`
	MaxSpeech  time.Duration `yaml:"max_speech"`
	SpeechPad  time.Duration `yaml:"speech_pad"`
	MinSilence time.Duration `yaml:"min_silence"`
}

// CircuitBreakerConfig tunes the breaker guarding the transcription engine.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failed batches that opens the
	// breaker. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open before letting a probe
	// batch through. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}
