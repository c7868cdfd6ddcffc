package resilience

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/chunkscribe/pkg/provider/stt"
)

// Engine guards an [stt.Engine] with a [CircuitBreaker]. It implements
// stt.Engine itself, so the pipeline can use it in place of the wrapped
// backend.
type Engine struct {
	inner   stt.Engine
	breaker *CircuitBreaker
}

// Compile-time interface assertion.
var _ stt.Engine = (*Engine)(nil)

// NewEngine wraps inner with a breaker built from cfg. Unless cfg.IsFailure
// is set, request problems on the caller's side (unsupported translation
// targets, cancelled or timed-out contexts) do not count towards opening the
// breaker.
func NewEngine(inner stt.Engine, cfg CircuitBreakerConfig) *Engine {
	if cfg.IsFailure == nil {
		cfg.IsFailure = isEngineFailure
	}
	return &Engine{inner: inner, breaker: NewCircuitBreaker(cfg)}
}

func isEngineFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, stt.ErrUnsupportedTranslation):
		return false
	}
	return true
}

// Transcribe forwards req to the wrapped engine, or fails fast with
// [ErrCircuitOpen] while the breaker is open. The call is made at most once.
func (e *Engine) Transcribe(ctx context.Context, req stt.BatchRequest) ([]string, error) {
	var texts []string
	err := e.breaker.Execute(func() error {
		var err error
		texts, err = e.inner.Transcribe(ctx, req)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		slog.Warn("transcription engine unavailable, rejecting batch",
			"engine", e.breaker.Name(),
			"chunks", len(req.Paths),
		)
	}
	if err != nil {
		return nil, err
	}
	return texts, nil
}

// Breaker exposes the underlying breaker for readiness checks.
func (e *Engine) Breaker() *CircuitBreaker { return e.breaker }
