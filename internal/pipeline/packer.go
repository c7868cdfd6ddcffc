package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/chunkscribe/pkg/loudness"
	"github.com/MrWong99/chunkscribe/pkg/provider/vad"
)

// PackingMode selects how the packer treats the interval that overflows the
// current chunk and the accumulator left over at the end of the input.
type PackingMode int

const (
	// PackingModeCarry starts the next chunk with the overflowing interval
	// and flushes the trailing accumulator. No speech is lost.
	PackingModeCarry PackingMode = iota

	// PackingModeReference reproduces the legacy behaviour: the overflowing
	// interval is discarded and the trailing accumulator is never flushed.
	// Only useful for output compatibility with the legacy service.
	PackingModeReference
)

// String returns the configuration name of m.
func (m PackingMode) String() string {
	switch m {
	case PackingModeCarry:
		return "carry"
	case PackingModeReference:
		return "reference"
	default:
		return fmt.Sprintf("PackingMode(%d)", int(m))
	}
}

// ParsePackingMode parses "carry" or "reference" (case-insensitive). The
// empty string selects [PackingModeCarry].
func ParsePackingMode(s string) (PackingMode, error) {
	switch strings.ToLower(s) {
	case "", "carry":
		return PackingModeCarry, nil
	case "reference":
		return PackingModeReference, nil
	default:
		return 0, fmt.Errorf("pipeline: unknown packing mode %q (want carry or reference)", s)
	}
}

// Chunk is one persisted unit of transcription.
type Chunk struct {
	// Index is the zero-based position in the run's chunk sequence.
	Index int

	// Samples holds the loudness-normalized audio that was persisted.
	Samples []float32

	// Path is the chunk artifact in the run's [ChunkStore].
	Path string

	// Loudness records what the loudness normalizer did.
	Loudness loudness.Report
}

// ChunkSet is the ordered collection of chunks of one run. Chunk i has
// Index i.
type ChunkSet []Chunk

// Paths returns the chunk paths in index order.
func (cs ChunkSet) Paths() []string {
	paths := make([]string, len(cs))
	for i, c := range cs {
		paths[i] = c.Path
	}
	return paths
}

// PackStats summarizes a [Packer.Pack] call.
type PackStats struct {
	// Intervals is the number of intervals received.
	Intervals int

	// Dropped counts intervals discarded on overflow (reference mode only).
	Dropped int

	// LostTailSamples is the size of the trailing accumulator that was never
	// flushed (reference mode only).
	LostTailSamples int

	// Degenerate counts chunks persisted without loudness rescaling.
	Degenerate int
}

// Capacity returns the chunk capacity in samples for chunks of at most
// maxChunk at rate.
func Capacity(maxChunk time.Duration, rate int) int {
	return int(int64(maxChunk) * int64(rate) / int64(time.Second))
}

// Packer assembles speech intervals into duration-bounded chunks with a
// greedy single pass. Intervals are never split: a chunk only exceeds the
// capacity when it holds exactly one oversized interval.
//
// A Packer holds no per-run state and may be shared between runs.
type Packer struct {
	capacity   int
	rate       int
	mode       PackingMode
	normalizer *loudness.Normalizer
}

// NewPacker returns a packer producing chunks of at most capacity samples at
// rate, normalized by norm.
func NewPacker(capacity, rate int, norm *loudness.Normalizer, mode PackingMode) (*Packer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("pipeline: chunk capacity %d must be positive", capacity)
	}
	if rate <= 0 {
		return nil, fmt.Errorf("pipeline: sample rate %d must be positive", rate)
	}
	if norm == nil {
		return nil, fmt.Errorf("pipeline: loudness normalizer must not be nil")
	}
	return &Packer{capacity: capacity, rate: rate, mode: mode, normalizer: norm}, nil
}

// Capacity returns the chunk capacity in samples.
func (p *Packer) Capacity() int { return p.capacity }

// Mode returns the packing mode.
func (p *Packer) Mode() PackingMode { return p.mode }

// Pack copies the sample ranges named by ivs out of samples, groups them into
// chunks, loudness-normalizes each chunk once and persists it to store in
// index order. samples is only read.
//
// All intervals are validated before anything is written; a violation returns
// [ErrInvalidInterval].
func (p *Packer) Pack(ctx context.Context, samples []float32, ivs []vad.Interval, store *ChunkStore) (ChunkSet, PackStats, error) {
	stats := PackStats{Intervals: len(ivs)}
	if err := validateIntervals(ivs, len(samples)); err != nil {
		return nil, stats, err
	}

	var set ChunkSet
	flush := func(acc []float32) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		normalized, rep := p.normalizer.Apply(acc)
		if rep.Skipped {
			stats.Degenerate++
		}
		idx := len(set)
		path, err := store.Put(idx, normalized, p.rate)
		if err != nil {
			return err
		}
		set = append(set, Chunk{Index: idx, Samples: normalized, Path: path, Loudness: rep})
		return nil
	}

	var acc []float32
	for _, iv := range ivs {
		size := iv.Len()
		if len(acc)+size > p.capacity && len(acc) > 0 {
			if err := flush(acc); err != nil {
				return nil, stats, err
			}
			acc = nil
			if p.mode == PackingModeReference {
				stats.Dropped++
				continue
			}
		}
		acc = append(acc, samples[iv.Start:iv.End]...)
	}

	if len(acc) > 0 {
		if p.mode == PackingModeReference {
			stats.LostTailSamples = len(acc)
		} else if err := flush(acc); err != nil {
			return nil, stats, err
		}
	}
	return set, stats, nil
}

func validateIntervals(ivs []vad.Interval, total int) error {
	prev := 0
	for i, iv := range ivs {
		switch {
		case iv.Start < 0, iv.End > total:
			return fmt.Errorf("%w: interval %d %s outside [0, %d)", ErrInvalidInterval, i, iv, total)
		case iv.End <= iv.Start:
			return fmt.Errorf("%w: interval %d %s is empty", ErrInvalidInterval, i, iv)
		case iv.Start < prev:
			return fmt.Errorf("%w: interval %d %s starts before its predecessor", ErrInvalidInterval, i, iv)
		}
		prev = iv.Start
	}
	return nil
}
