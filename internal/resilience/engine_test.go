package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/chunkscribe/pkg/provider/stt"
	"github.com/MrWong99/chunkscribe/pkg/provider/stt/mock"
)

func testRequest() stt.BatchRequest {
	return stt.BatchRequest{
		Paths:     []string{"a.wav", "b.wav"},
		BatchSize: 2,
		Language:  stt.LanguageConfig{Source: "pl"},
	}
}

func TestEngine_ForwardsResults(t *testing.T) {
	inner := &mock.Engine{Texts: []string{"one", "two"}}
	e := NewEngine(inner, CircuitBreakerConfig{Name: "mock"})

	got, err := e.Transcribe(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("got %q, want [one two]", got)
	}
	if inner.CallCount() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.CallCount())
	}
}

func TestEngine_OpensAndFailsFast(t *testing.T) {
	inner := &mock.Engine{TranscribeErr: errors.New("connection refused")}
	e := NewEngine(inner, CircuitBreakerConfig{Name: "mock", MaxFailures: 2, ResetTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		if _, err := e.Transcribe(context.Background(), testRequest()); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	_, err := e.Transcribe(context.Background(), testRequest())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if inner.CallCount() != 2 {
		t.Errorf("inner calls = %d, want 2 (no call while open)", inner.CallCount())
	}
	if e.Breaker().State() != StateOpen {
		t.Errorf("state = %v, want open", e.Breaker().State())
	}
}

func TestEngine_CallerErrorsDoNotTrip(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "unsupported translation", err: fmt.Errorf("whisper: %w", stt.ErrUnsupportedTranslation)},
		{name: "canceled", err: context.Canceled},
		{name: "deadline", err: fmt.Errorf("post: %w", context.DeadlineExceeded)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &mock.Engine{TranscribeErr: tt.err}
			e := NewEngine(inner, CircuitBreakerConfig{Name: "mock", MaxFailures: 1, ResetTimeout: time.Hour})
			for i := 0; i < 3; i++ {
				_, err := e.Transcribe(context.Background(), testRequest())
				if !errors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v", err, tt.err)
				}
			}
			if e.Breaker().State() != StateClosed {
				t.Errorf("state = %v, want closed", e.Breaker().State())
			}
		})
	}
}
