package stt_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/chunkscribe/pkg/provider/stt"
)

func TestLanguageConfig_Tags(t *testing.T) {
	l := stt.LanguageConfig{Source: "pl"}
	if got := l.SourceTag(); got != "<|pl|>" {
		t.Errorf("SourceTag() = %q, want <|pl|>", got)
	}
	if got := l.TargetTag(); got != "<|pl|>" {
		t.Errorf("TargetTag() = %q, want <|pl|>", got)
	}
	if l.Translate() {
		t.Error("Translate() = true for empty target")
	}

	l.Target = "en"
	if got := l.TargetTag(); got != "<|en|>" {
		t.Errorf("TargetTag() = %q, want <|en|>", got)
	}
	if !l.Translate() {
		t.Error("Translate() = false for pl -> en")
	}
}

func TestRequireEnglishTranslation(t *testing.T) {
	tests := []struct {
		lang    stt.LanguageConfig
		wantErr bool
	}{
		{lang: stt.LanguageConfig{Source: "pl", Target: "pl"}},
		{lang: stt.LanguageConfig{Source: "fr"}},
		{lang: stt.LanguageConfig{Source: "pl", Target: "en"}},
		{lang: stt.LanguageConfig{Source: "en", Target: "fr"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.lang.Source+"->"+tt.lang.Target, func(t *testing.T) {
			err := stt.RequireEnglishTranslation("whisper", tt.lang)
			if got := errors.Is(err, stt.ErrUnsupportedTranslation); got != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBatchRequest_Validate(t *testing.T) {
	if err := (stt.BatchRequest{Paths: []string{"a"}}).Validate(); err == nil {
		t.Error("expected error for missing source language")
	}
	if err := (stt.BatchRequest{Paths: []string{""}, Language: stt.LanguageConfig{Source: "pl"}}).Validate(); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestRunBatch_PreservesOrder(t *testing.T) {
	paths := make([]string, 20)
	for i := range paths {
		paths[i] = fmt.Sprintf("chunk_%d.wav", i)
	}
	// Later chunks finish first.
	fn := func(_ context.Context, i int, p string) (string, error) {
		time.Sleep(time.Duration(len(paths)-i) * time.Millisecond)
		return p, nil
	}
	got, err := stt.RunBatch(context.Background(), paths, 8, fn)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	for i := range paths {
		if got[i] != paths[i] {
			t.Errorf("result %d = %q, want %q", i, got[i], paths[i])
		}
	}
}

func TestRunBatch_RespectsLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	fn := func(context.Context, int, string) (string, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return "", nil
	}
	if _, err := stt.RunBatch(context.Background(), make([]string, 30), 3, fn); err != nil {
		t.Fatal(err)
	}
	if p := peak.Load(); p > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", p)
	}
}

func TestRunBatch_ErrorDiscardsResults(t *testing.T) {
	boom := errors.New("boom")
	fn := func(_ context.Context, i int, _ string) (string, error) {
		if i == 2 {
			return "", boom
		}
		return "ok", nil
	}
	got, err := stt.RunBatch(context.Background(), make([]string, 5), 2, fn)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if got != nil {
		t.Errorf("results = %v, want nil", got)
	}
}

func TestRunBatch_Empty(t *testing.T) {
	called := false
	got, err := stt.RunBatch(context.Background(), nil, 4, func(context.Context, int, string) (string, error) {
		called = true
		return "", nil
	})
	if err != nil || len(got) != 0 || called {
		t.Errorf("RunBatch(nil) = %v, %v (called=%v)", got, err, called)
	}
}
