// Command chunkscribe transcribes long audio recordings by splitting them at
// speech boundaries and sending the chunks to a speech-to-text engine.
//
// Without file arguments it serves the HTTP API described in package server.
// With file arguments it transcribes each file once and prints the text:
//
//	chunkscribe -config config.yaml -source pl -target en interview.mp3
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/chunkscribe/internal/app"
	"github.com/MrWong99/chunkscribe/internal/config"
	"github.com/MrWong99/chunkscribe/internal/observe"
	"github.com/MrWong99/chunkscribe/pkg/provider/stt"
	"github.com/MrWong99/chunkscribe/pkg/provider/stt/deepgram"
	"github.com/MrWong99/chunkscribe/pkg/provider/stt/openai"
	"github.com/MrWong99/chunkscribe/pkg/provider/stt/whisper"
	"github.com/MrWong99/chunkscribe/pkg/provider/vad"
	"github.com/MrWong99/chunkscribe/pkg/provider/vad/energy"
	"github.com/MrWong99/chunkscribe/pkg/provider/vad/silero"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	sourceLang := flag.String("source", "", "source language of the files (default: pipeline.default_language)")
	targetLang := flag.String("target", "", "translate the transcript into this language")
	watch := flag.Duration("watch", 5*time.Second, "config reload poll interval in server mode (0 disables reloading)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "chunkscribe: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "chunkscribe: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(level))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(cfg, providers, app.WithLevelVar(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	if files := flag.Args(); len(files) > 0 {
		return transcribeFiles(ctx, application, files, *sourceLang, *targetLang)
	}

	// ── Server mode ───────────────────────────────────────────────────────────
	if *watch > 0 {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			if err := application.ApplyConfig(old, new); err != nil {
				slog.Error("config reload rejected", "err", err)
			}
		}, config.WithInterval(*watch))
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		defer w.Stop()
	}

	slog.Info("chunkscribe starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// transcribeFiles prints the transcript of each file to stdout. Failures are
// reported per file; the exit code is 1 if any file failed.
func transcribeFiles(ctx context.Context, a *app.App, files []string, src, tgt string) int {
	code := 0
	for _, f := range files {
		text, err := a.TranscribeFile(ctx, f, src, tgt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chunkscribe: %s: %v\n", f, err)
			code = 1
			if ctx.Err() != nil {
				return code
			}
			continue
		}
		if len(files) > 1 {
			fmt.Printf("==> %s <==\n", f)
		}
		fmt.Println(text)
	}
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Detector, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		return silero.New(modelPath)
	})

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Detector, error) {
		var opts []energy.Option
		if d := optDuration(entry.Options, "frame_duration"); d > 0 {
			opts = append(opts, energy.WithFrameDuration(d))
		}
		floor, okFloor := optFloat(entry.Options, "floor_db")
		ceil, okCeil := optFloat(entry.Options, "ceil_db")
		if okFloor && okCeil {
			opts = append(opts, energy.WithLevelRange(floor, ceil))
		}
		return energy.New(opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Engine, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if b, ok := entry.Options["prompt_tags"].(bool); ok {
			opts = append(opts, whisper.WithPromptTags(b))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Engine, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if n, ok := optFloat(entry.Options, "threads"); ok && n > 0 {
			opts = append(opts, whisper.WithThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Engine, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Engine, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"vad", "stt"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{STTName: cfg.Providers.STT.Name}

	d, err := reg.CreateVAD(cfg.Providers.VAD)
	if err != nil {
		return nil, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
	}
	ps.VAD = d
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	e, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ps.STT = e
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name, "model", cfg.Providers.STT.Model)

	// Self-hosted servers get a reachability probe on /readyz.
	if cfg.Providers.STT.Name == "whisper" {
		ps.STTHealthURL = cfg.Providers.STT.BaseURL
	}
	return ps, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a number from a provider Options map. YAML decodes
// integers as int and decimals as float64; both are accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// optDuration parses a duration string such as "30ms" from a provider Options
// map. Missing or malformed values yield 0.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
