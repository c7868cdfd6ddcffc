package pipeline

import (
	"context"
	"errors"

	"github.com/MrWong99/chunkscribe/internal/resilience"
)

// Run-level error classes. Callers match them with [errors.Is]; the wrapped
// message carries the detail.
var (
	// ErrUnsupportedFormat is returned before any I/O when the file extension
	// is not in the configured set.
	ErrUnsupportedFormat = errors.New("pipeline: unsupported audio format")

	// ErrUnsupportedLanguage is returned before any I/O when the source or
	// target language is not in the configured set.
	ErrUnsupportedLanguage = errors.New("pipeline: unsupported language")

	// ErrUndecodable is returned when the file cannot be decoded as audio.
	ErrUndecodable = errors.New("pipeline: cannot decode audio")

	// ErrUpstreamModel wraps failures of the speech detector or the
	// transcription engine, including result count mismatches.
	ErrUpstreamModel = errors.New("pipeline: upstream model failure")

	// ErrInvalidInterval is returned by the packer for intervals that are
	// out of bounds, empty or not ordered by start.
	ErrInvalidInterval = errors.New("pipeline: invalid speech interval")

	// ErrChunkOrder is returned when a chunk is persisted out of sequence.
	ErrChunkOrder = errors.New("pipeline: chunk index out of order")
)

// errorClass maps err to the status label used in run metrics. Breaker
// rejections and cancellations are wrapped in [ErrUpstreamModel] and so are
// matched first.
func errorClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrUnsupportedLanguage):
		return "unsupported_language"
	case errors.Is(err, ErrUndecodable):
		return "undecodable"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrUpstreamModel):
		return "upstream_model"
	default:
		return "error"
	}
}
