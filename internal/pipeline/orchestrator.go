package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/chunkscribe/pkg/provider/stt"
)

// Orchestrate submits every chunk of set to engine as one ordered batch and
// joins the per-chunk transcripts in index order with no separator. The
// result is trimmed of surrounding whitespace.
//
// An empty set yields "" without calling the engine. Engine errors and result
// count mismatches are wrapped in [ErrUpstreamModel]; partial results are
// never returned.
func Orchestrate(ctx context.Context, engine stt.Engine, set ChunkSet, batchSize int, lang stt.LanguageConfig) (string, error) {
	if len(set) == 0 {
		return "", nil
	}
	for i, c := range set {
		if c.Index != i {
			return "", fmt.Errorf("%w: chunk at position %d has index %d", ErrChunkOrder, i, c.Index)
		}
	}

	texts, err := engine.Transcribe(ctx, stt.BatchRequest{
		Paths:     set.Paths(),
		BatchSize: batchSize,
		Language:  lang,
	})
	if err != nil {
		return "", fmt.Errorf("%w: transcribe: %w", ErrUpstreamModel, err)
	}
	if len(texts) != len(set) {
		return "", fmt.Errorf("%w: engine returned %d transcripts for %d chunks", ErrUpstreamModel, len(texts), len(set))
	}
	return strings.TrimSpace(strings.Join(texts, "")), nil
}
