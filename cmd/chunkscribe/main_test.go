package main

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/chunkscribe/internal/config"
)

func TestOptHelpers(t *testing.T) {
	opts := map[string]any{
		"model_path":     "/models/silero.onnx",
		"threads":        4,
		"floor_db":       -62.5,
		"frame_duration": "30ms",
		"timeout":        "soon",
		"flag":           true,
	}

	if got := optString(opts, "model_path"); got != "/models/silero.onnx" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(opts, "threads"); got != "" {
		t.Errorf("optString on int = %q, want empty", got)
	}
	if got := optString(nil, "x"); got != "" {
		t.Errorf("optString on nil map = %q", got)
	}
	if got, ok := optFloat(opts, "threads"); !ok || got != 4 {
		t.Errorf("optFloat(threads) = %v, %v", got, ok)
	}
	if got, ok := optFloat(opts, "floor_db"); !ok || got != -62.5 {
		t.Errorf("optFloat(floor_db) = %v, %v", got, ok)
	}
	if _, ok := optFloat(opts, "flag"); ok {
		t.Error("optFloat accepted a bool")
	}
	if got := optDuration(opts, "frame_duration"); got != 30*time.Millisecond {
		t.Errorf("optDuration = %s", got)
	}
	if got := optDuration(opts, "timeout"); got != 0 {
		t.Errorf("optDuration on malformed value = %s, want 0", got)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	for kind, want := range config.ValidProviderNames {
		got := reg.Names(kind)
		if len(got) != len(want) {
			t.Errorf("%s providers = %v, want %v", kind, got, want)
		}
	}
}

func TestBuildProviders(t *testing.T) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	cfg := &config.Config{Providers: config.ProvidersConfig{
		VAD: config.ProviderEntry{Name: "energy"},
		STT: config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8178"},
	}}
	ps, err := buildProviders(cfg, reg)
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if ps.VAD == nil || ps.STT == nil {
		t.Fatal("providers not populated")
	}
	if ps.STTName != "whisper" || ps.STTHealthURL != "http://localhost:8178" {
		t.Errorf("STTName = %q, STTHealthURL = %q", ps.STTName, ps.STTHealthURL)
	}

	cfg.Providers.STT.Name = "nope"
	if _, err := buildProviders(cfg, reg); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}
