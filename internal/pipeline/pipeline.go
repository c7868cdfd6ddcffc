// Package pipeline turns an audio file into a transcript.
//
// A run goes through these stages, each completing before the next starts:
//
//  1. validate the file extension and language codes (no I/O)
//  2. decode the file and normalize it to mono at the target rate
//  3. detect speech intervals with a [vad.Detector]
//  4. pack intervals into duration-bounded chunks, loudness-normalize each
//     chunk once and persist it to a run-scoped [ChunkStore]
//  5. transcribe all chunks as one ordered batch with an [stt.Engine] and
//     join the results in chunk order
//
// The chunk store is released on every exit path. Only the engine may
// parallelize work; the rest of a run is sequential. A [Pipeline] holds no
// per-run state and is safe for concurrent use.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/chunkscribe/internal/observe"
	"github.com/MrWong99/chunkscribe/pkg/audio"
	"github.com/MrWong99/chunkscribe/pkg/loudness"
	"github.com/MrWong99/chunkscribe/pkg/provider/stt"
	"github.com/MrWong99/chunkscribe/pkg/provider/vad"
)

// Config holds the run parameters shared by every TranscribeFile call.
type Config struct {
	// TargetSampleRate is the rate audio is normalized to before detection.
	TargetSampleRate int

	// MaxChunkDuration bounds the audio length of a chunk.
	MaxChunkDuration time.Duration

	// TargetLoudness is the integrated loudness (LUFS) of every chunk.
	TargetLoudness float64

	// BatchSize bounds how many chunks the engine processes at once.
	BatchSize int

	// PackingMode selects overflow handling, see [PackingMode].
	PackingMode PackingMode

	// SupportedFormats lists accepted file extensions including the dot.
	SupportedFormats []string

	// SupportedLanguages lists accepted ISO 639-1 codes.
	SupportedLanguages []string

	// DefaultLanguage replaces an empty source language. An empty target
	// language means "same as source".
	DefaultLanguage string

	// WorkDir is the parent of the run-scoped chunk directories. Empty means
	// the system temp directory.
	WorkDir string

	// FFmpegPath is the ffmpeg executable used for containers without a
	// native decoder.
	FFmpegPath string

	// ResampleQuality is passed to the resampler (1-64).
	ResampleQuality int

	// VAD holds the speech detection parameters.
	VAD vad.Config
}

// DefaultConfig returns the parameters of the production service: 16 kHz,
// 20 s chunks at -23 LUFS, batches of 16 and the carry packing mode.
func DefaultConfig() Config {
	return Config{
		TargetSampleRate:   16000,
		MaxChunkDuration:   20 * time.Second,
		TargetLoudness:     loudness.DefaultTarget,
		BatchSize:          16,
		PackingMode:        PackingModeCarry,
		SupportedFormats:   []string{".mp3", ".wav", ".m4a", ".flac", ".ogg", ".aac"},
		SupportedLanguages: []string{"pl", "en", "fr"},
		DefaultLanguage:    "pl",
		FFmpegPath:         "ffmpeg",
		ResampleQuality:    audio.DefaultResampleQuality,
		VAD:                vad.DefaultConfig(),
	}
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var errs []error
	if c.TargetSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("pipeline: target sample rate %d must be positive", c.TargetSampleRate))
	}
	if c.MaxChunkDuration <= 0 {
		errs = append(errs, fmt.Errorf("pipeline: max chunk duration %s must be positive", c.MaxChunkDuration))
	} else if c.TargetSampleRate > 0 && Capacity(c.MaxChunkDuration, c.TargetSampleRate) == 0 {
		errs = append(errs, fmt.Errorf("pipeline: max chunk duration %s holds no samples", c.MaxChunkDuration))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("pipeline: batch size %d must be at least 1", c.BatchSize))
	}
	if c.PackingMode != PackingModeCarry && c.PackingMode != PackingModeReference {
		errs = append(errs, fmt.Errorf("pipeline: invalid packing mode %s", c.PackingMode))
	}
	if len(c.SupportedFormats) == 0 {
		errs = append(errs, errors.New("pipeline: supported formats must not be empty"))
	}
	for _, f := range c.SupportedFormats {
		if !strings.HasPrefix(f, ".") {
			errs = append(errs, fmt.Errorf("pipeline: supported format %q must start with a dot", f))
		}
	}
	if len(c.SupportedLanguages) == 0 {
		errs = append(errs, errors.New("pipeline: supported languages must not be empty"))
	}
	if c.DefaultLanguage != "" && !slices.Contains(c.SupportedLanguages, c.DefaultLanguage) {
		errs = append(errs, fmt.Errorf("pipeline: default language %q is not supported", c.DefaultLanguage))
	}
	if c.ResampleQuality < 1 || c.ResampleQuality > 64 {
		errs = append(errs, fmt.Errorf("pipeline: resample quality %d must be in [1, 64]", c.ResampleQuality))
	}
	if err := c.VAD.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Pipeline runs transcriptions against a fixed detector and engine.
type Pipeline struct {
	cfg        Config
	detector   vad.Detector
	engine     stt.Engine
	engineName string
	metrics    *observe.Metrics
	packer     *Packer
	normalizer audio.Normalizer
	decodeOpts []audio.DecodeOption
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithMetrics records stage durations and run counters on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithEngineName sets the engine label used in logs and metrics.
func WithEngineName(name string) Option {
	return func(p *Pipeline) { p.engineName = name }
}

// WithDecodeOptions appends options passed to [audio.DecodeFile] after the
// ones derived from Config.
func WithDecodeOptions(opts ...audio.DecodeOption) Option {
	return func(p *Pipeline) { p.decodeOpts = append(p.decodeOpts, opts...) }
}

// New validates cfg and returns a pipeline using the pre-initialized detector
// and engine. The pipeline does not own them and never closes them.
func New(cfg Config, detector vad.Detector, engine stt.Engine, opts ...Option) (*Pipeline, error) {
	if detector == nil {
		return nil, errors.New("pipeline: detector must not be nil")
	}
	if engine == nil {
		return nil, errors.New("pipeline: engine must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.SupportedFormats = lowerAll(cfg.SupportedFormats)
	cfg.SupportedLanguages = lowerAll(cfg.SupportedLanguages)

	norm, err := loudness.NewNormalizer(cfg.TargetSampleRate, cfg.TargetLoudness)
	if err != nil {
		return nil, err
	}
	packer, err := NewPacker(Capacity(cfg.MaxChunkDuration, cfg.TargetSampleRate), cfg.TargetSampleRate, norm, cfg.PackingMode)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:        cfg,
		detector:   detector,
		engine:     engine,
		engineName: "engine",
		packer:     packer,
		normalizer: audio.Normalizer{TargetRate: cfg.TargetSampleRate, Quality: cfg.ResampleQuality},
		decodeOpts: []audio.DecodeOption{
			audio.WithFFmpegPath(cfg.FFmpegPath),
			audio.WithTempDir(cfg.WorkDir),
		},
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() Config { return p.cfg }

// CheckRequest applies the validation gate of [Pipeline.TranscribeFile]
// without touching the file system. Languages are matched case-insensitively;
// an empty source selects the default language and an empty target means no
// translation.
func (p *Pipeline) CheckRequest(audioPath, sourceLang, targetLang string) (stt.LanguageConfig, error) {
	ext := strings.ToLower(filepath.Ext(audioPath))
	if !slices.Contains(p.cfg.SupportedFormats, ext) {
		return stt.LanguageConfig{}, fmt.Errorf("%w: %q (supported: %s)",
			ErrUnsupportedFormat, ext, strings.Join(p.cfg.SupportedFormats, " "))
	}

	lang := stt.LanguageConfig{
		Source: strings.ToLower(strings.TrimSpace(sourceLang)),
		Target: strings.ToLower(strings.TrimSpace(targetLang)),
	}
	if lang.Source == "" {
		lang.Source = p.cfg.DefaultLanguage
	}
	if !slices.Contains(p.cfg.SupportedLanguages, lang.Source) {
		return stt.LanguageConfig{}, fmt.Errorf("%w: source %q (supported: %s)",
			ErrUnsupportedLanguage, lang.Source, strings.Join(p.cfg.SupportedLanguages, " "))
	}
	if lang.Target != "" && !slices.Contains(p.cfg.SupportedLanguages, lang.Target) {
		return stt.LanguageConfig{}, fmt.Errorf("%w: target %q (supported: %s)",
			ErrUnsupportedLanguage, lang.Target, strings.Join(p.cfg.SupportedLanguages, " "))
	}
	return lang, nil
}

// TranscribeFile transcribes the audio file at audioPath from sourceLang into
// targetLang and returns the full transcript. Validation failures return
// [ErrUnsupportedFormat] or [ErrUnsupportedLanguage] before the file is read;
// detector and engine failures return [ErrUpstreamModel]. No partial
// transcript is ever returned.
func (p *Pipeline) TranscribeFile(ctx context.Context, audioPath, sourceLang, targetLang string) (text string, err error) {
	runID := uuid.NewString()
	ctx, span := observe.StartSpan(ctx, "pipeline.TranscribeFile",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("engine", p.engineName),
		),
	)
	defer span.End()

	log := observe.Logger(ctx).With("run_id", runID)
	start := time.Now()
	p.metrics.ActiveRuns.Add(ctx, 1)
	defer func() {
		p.metrics.ActiveRuns.Add(ctx, -1)
		p.metrics.RecordRun(ctx, errorClass(err))
		if err != nil {
			span.RecordError(err)
			log.Warn("transcription failed", "file", filepath.Base(audioPath), "err", err)
			return
		}
		log.Info("transcription finished",
			"file", filepath.Base(audioPath),
			"chars", len(text),
			"elapsed", time.Since(start),
		)
	}()

	lang, err := p.CheckRequest(audioPath, sourceLang, targetLang)
	if err != nil {
		return "", err
	}
	log.Debug("transcription started", "file", filepath.Base(audioPath), "source", lang.Source, "target", lang.EffectiveTarget())

	w, err := p.decode(ctx, audioPath)
	if err != nil {
		return "", err
	}

	ivs, err := p.detect(ctx, w)
	if err != nil {
		return "", err
	}
	log.Debug("speech detected", "intervals", len(ivs), "audio", w.Duration())

	store, err := NewChunkStore(p.cfg.WorkDir, runID)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			log.Warn("failed to release chunk store", "dir", store.Dir(), "err", cerr)
		}
	}()

	set, err := p.pack(ctx, log, w, ivs, store)
	if err != nil {
		return "", err
	}

	return p.transcribe(ctx, log, set, lang)
}

func (p *Pipeline) decode(ctx context.Context, path string) (audio.Waveform, error) {
	dctx, done := observe.StartStage(ctx, p.metrics, observe.StageDecode)
	raw, err := audio.DecodeFile(dctx, path, p.decodeOpts...)
	done(err)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("%w: %s: %w", ErrUndecodable, filepath.Base(path), err)
	}

	_, done = observe.StartStage(ctx, p.metrics, observe.StageNormalize)
	w, err := p.normalizer.Normalize(raw)
	done(err)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("pipeline: normalize: %w", err)
	}
	return w, nil
}

func (p *Pipeline) detect(ctx context.Context, w audio.Waveform) ([]vad.Interval, error) {
	dctx, done := observe.StartStage(ctx, p.metrics, observe.StageDetect)
	ivs, err := p.detector.Detect(dctx, w, p.cfg.VAD)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("%w: detect speech: %w", ErrUpstreamModel, err)
	}
	return ivs, nil
}

func (p *Pipeline) pack(ctx context.Context, log *slog.Logger, w audio.Waveform, ivs []vad.Interval, store *ChunkStore) (ChunkSet, error) {
	pctx, done := observe.StartStage(ctx, p.metrics, observe.StagePack)
	set, stats, err := p.packer.Pack(pctx, w.Samples, ivs, store)
	done(err)
	if err != nil {
		return nil, err
	}

	p.metrics.Chunks.Add(ctx, int64(len(set)))
	p.metrics.DegenerateChunks.Add(ctx, int64(stats.Degenerate))
	p.metrics.IntervalsDropped.Add(ctx, int64(stats.Dropped))
	if stats.Dropped > 0 || stats.LostTailSamples > 0 {
		log.Warn("speech discarded by reference packing",
			"dropped_intervals", stats.Dropped,
			"lost_tail_samples", stats.LostTailSamples,
		)
	}
	if stats.Degenerate > 0 {
		log.Debug("chunks persisted without loudness normalization", "count", stats.Degenerate)
	}
	log.Debug("chunks persisted", "chunks", len(set), "intervals", stats.Intervals, "capacity", p.packer.Capacity())
	return set, nil
}

func (p *Pipeline) transcribe(ctx context.Context, log *slog.Logger, set ChunkSet, lang stt.LanguageConfig) (string, error) {
	if len(set) == 0 {
		log.Debug("no speech, skipping transcription")
		return "", nil
	}
	tctx, done := observe.StartStage(ctx, p.metrics, observe.StageTranscribe)
	text, err := Orchestrate(tctx, p.engine, set, p.cfg.BatchSize, lang)
	done(err)
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordEngineRequest(ctx, p.engineName, status)
	return text, err
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
