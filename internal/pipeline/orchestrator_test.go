package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/chunkscribe/pkg/provider/stt"
	"github.com/MrWong99/chunkscribe/pkg/provider/stt/mock"
)

func testSet(n int) ChunkSet {
	set := make(ChunkSet, n)
	for i := range set {
		set[i] = Chunk{Index: i, Path: fmt.Sprintf("/chunks/chunk_%d.wav", i)}
	}
	return set
}

func TestOrchestrate_JoinsInOrder(t *testing.T) {
	eng := &mock.Engine{Texts: []string{"Hello ", "world"}}
	lang := stt.LanguageConfig{Source: "pl", Target: "pl"}

	got, err := Orchestrate(context.Background(), eng, testSet(2), 16, lang)
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if got != "Hello world" {
		t.Errorf("got %q, want %q", got, "Hello world")
	}

	if eng.CallCount() != 1 {
		t.Fatalf("engine calls = %d, want 1", eng.CallCount())
	}
	req := eng.TranscribeCalls[0].Req
	if req.BatchSize != 16 || req.Language != lang {
		t.Errorf("request = %+v", req)
	}
	for i, p := range req.Paths {
		if want := fmt.Sprintf("/chunks/chunk_%d.wav", i); p != want {
			t.Errorf("path %d = %q, want %q", i, p, want)
		}
	}
}

func TestOrchestrate_TrimsOnlyTheEnds(t *testing.T) {
	eng := &mock.Engine{Texts: []string{"  one ", " two  ", "\tthree\n"}}
	got, err := Orchestrate(context.Background(), eng, testSet(3), 1, stt.LanguageConfig{Source: "en"})
	if err != nil {
		t.Fatal(err)
	}
	if want := "one  two  \tthree"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestOrchestrate_EmptySet(t *testing.T) {
	eng := &mock.Engine{}
	got, err := Orchestrate(context.Background(), eng, nil, 16, stt.LanguageConfig{Source: "pl"})
	if err != nil || got != "" {
		t.Fatalf("got (%q, %v), want empty result", got, err)
	}
	if eng.CallCount() != 0 {
		t.Errorf("engine called %d times for an empty set", eng.CallCount())
	}
}

func TestOrchestrate_Failures(t *testing.T) {
	tests := []struct {
		name string
		eng  *mock.Engine
		set  ChunkSet
		want error
	}{
		{name: "engine error", eng: &mock.Engine{TranscribeErr: errors.New("boom")}, set: testSet(2), want: ErrUpstreamModel},
		{name: "too few results", eng: &mock.Engine{Texts: []string{"a"}}, set: testSet(2), want: ErrUpstreamModel},
		{name: "too many results", eng: &mock.Engine{Texts: []string{"a", "b", "c"}}, set: testSet(2), want: ErrUpstreamModel},
		{name: "index gap", eng: &mock.Engine{}, set: ChunkSet{{Index: 0}, {Index: 2}}, want: ErrChunkOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Orchestrate(context.Background(), tt.eng, tt.set, 4, stt.LanguageConfig{Source: "pl"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if got != "" {
				t.Errorf("partial result %q returned", got)
			}
		})
	}
}

func TestOrchestrate_KeepsEngineErrorChain(t *testing.T) {
	eng := &mock.Engine{TranscribeErr: fmt.Errorf("whisper: %w", stt.ErrUnsupportedTranslation)}
	_, err := Orchestrate(context.Background(), eng, testSet(1), 1, stt.LanguageConfig{Source: "pl", Target: "fr"})
	if !errors.Is(err, ErrUpstreamModel) || !errors.Is(err, stt.ErrUnsupportedTranslation) {
		t.Fatalf("err = %v, want both ErrUpstreamModel and ErrUnsupportedTranslation", err)
	}
}
