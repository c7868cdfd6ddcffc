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

	"github.com/MrWong99/chunkscribe/internal/pipeline"
	"github.com/MrWong99/chunkscribe/pkg/provider/vad"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"vad": {"silero", "energy"},
	"stt": {"whisper", "whisper-native", "openai", "deepgram"},
}

const (
	defaultListenAddr     = ":8080"
	defaultMaxUploadBytes = 512 << 20
	defaultMaxFailures    = 5
	defaultResetTimeout   = 30 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
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

// ApplyDefaults replaces zero values in cfg with the defaults of the
// production service.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = defaultMaxUploadBytes
	}

	pd := pipeline.DefaultConfig()
	p := &cfg.Pipeline
	if p.TargetSampleRate == 0 {
		p.TargetSampleRate = pd.TargetSampleRate
	}
	if p.MaxChunkDuration == 0 {
		p.MaxChunkDuration = pd.MaxChunkDuration
	}
	if p.TargetLoudness == 0 {
		p.TargetLoudness = pd.TargetLoudness
	}
	if p.BatchSize == 0 {
		p.BatchSize = pd.BatchSize
	}
	if p.PackingMode == "" {
		p.PackingMode = pd.PackingMode.String()
	}
	if len(p.SupportedFormats) == 0 {
		p.SupportedFormats = slices.Clone(pd.SupportedFormats)
	}
	if len(p.SupportedLanguages) == 0 {
		p.SupportedLanguages = slices.Clone(pd.SupportedLanguages)
	}
	if p.DefaultLanguage == "" {
		p.DefaultLanguage = pd.DefaultLanguage
	}
	if p.FFmpegPath == "" {
		p.FFmpegPath = pd.FFmpegPath
	}
	if p.ResampleQuality == 0 {
		p.ResampleQuality = pd.ResampleQuality
	}

	vd := pd.VAD
	v := &cfg.VAD
	if v.Threshold == 0 {
		v.Threshold = vd.Threshold
	}
	if v.MinSpeech == 0 {
		v.MinSpeech = vd.MinSpeech
	}
	if v.MaxSpeech == 0 {
		v.MaxSpeech = vd.MaxSpeech
	}
	if v.SpeechPad == 0 {
		v.SpeechPad = vd.SpeechPad
	}
	if v.MinSilence == 0 {
		v.MinSilence = vd.MinSilence
	}

	if cfg.CircuitBreaker.MaxFailures == 0 {
		cfg.CircuitBreaker.MaxFailures = defaultMaxFailures
	}
	if cfg.CircuitBreaker.ResetTimeout == 0 {
		cfg.CircuitBreaker.ResetTimeout = defaultResetTimeout
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
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}
	if cfg.Server.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout %s must not be negative", cfg.Server.RequestTimeout))
	}

	// Providers
	if cfg.Providers.VAD.Name == "" {
		errs = append(errs, errors.New("providers.vad.name is required"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)

	// Pipeline and VAD
	if _, err := cfg.PipelineConfig(); err != nil {
		errs = append(errs, err)
	}

	// Circuit breaker
	if cfg.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("circuit_breaker.max_failures %d must not be negative", cfg.CircuitBreaker.MaxFailures))
	}
	if cfg.CircuitBreaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("circuit_breaker.reset_timeout %s must not be negative", cfg.CircuitBreaker.ResetTimeout))
	}

	return errors.Join(errs...)
}

// PipelineConfig converts the pipeline and vad sections into a validated
// [pipeline.Config].
func (c *Config) PipelineConfig() (pipeline.Config, error) {
	mode, err := pipeline.ParsePackingMode(c.Pipeline.PackingMode)
	if err != nil {
		return pipeline.Config{}, err
	}
	p := c.Pipeline
	pc := pipeline.Config{
		TargetSampleRate:   p.TargetSampleRate,
		MaxChunkDuration:   p.MaxChunkDuration,
		TargetLoudness:     p.TargetLoudness,
		BatchSize:          p.BatchSize,
		PackingMode:        mode,
		SupportedFormats:   slices.Clone(p.SupportedFormats),
		SupportedLanguages: slices.Clone(p.SupportedLanguages),
		DefaultLanguage:    p.DefaultLanguage,
		WorkDir:            p.WorkDir,
		FFmpegPath:         p.FFmpegPath,
		ResampleQuality:    p.ResampleQuality,
		VAD: vad.Config{
			Threshold:  c.VAD.Threshold,
			MinSpeech:  c.VAD.MinSpeech,
			MaxSpeech:  c.VAD.MaxSpeech,
			SpeechPad:  c.VAD.SpeechPad,
			MinSilence: c.VAD.MinSilence,
		},
	}
	if err := pc.Validate(); err != nil {
		return pipeline.Config{}, err
	}
	return pc, nil
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
