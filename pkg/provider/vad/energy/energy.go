// Package energy provides a pure-Go [vad.Detector] that classifies fixed-size
// frames by their RMS level. It needs no model file and is the fallback
// backend when no Silero model is configured.
package energy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/chunkscribe/pkg/audio"
	"github.com/MrWong99/chunkscribe/pkg/provider/vad"
)

const (
	defaultFrame   = 30 * time.Millisecond
	defaultFloorDB = -60.0
	defaultCeilDB  = -20.0
)

// Compile-time assertion that Detector satisfies vad.Detector.
var _ vad.Detector = (*Detector)(nil)

// Detector maps each frame's RMS level linearly from [floorDB, ceilDB] dBFS
// onto a [0, 1] speech probability and compares it against the configured
// threshold.
type Detector struct {
	frame   time.Duration
	floorDB float64
	ceilDB  float64
}

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithFrameDuration sets the analysis frame length. Defaults to 30 ms.
func WithFrameDuration(d time.Duration) Option {
	return func(e *Detector) { e.frame = d }
}

// WithLevelRange sets the dBFS levels that map to probability 0 and 1.
// Defaults to -60 and -20.
func WithLevelRange(floorDB, ceilDB float64) Option {
	return func(e *Detector) {
		e.floorDB = floorDB
		e.ceilDB = ceilDB
	}
}

// New returns an energy detector.
func New(opts ...Option) (*Detector, error) {
	e := &Detector{
		frame:   defaultFrame,
		floorDB: defaultFloorDB,
		ceilDB:  defaultCeilDB,
	}
	for _, o := range opts {
		o(e)
	}
	if e.frame <= 0 {
		return nil, fmt.Errorf("energy: frame duration must be positive, got %s", e.frame)
	}
	if e.ceilDB <= e.floorDB {
		return nil, fmt.Errorf("energy: level ceiling %.1f dB must exceed floor %.1f dB", e.ceilDB, e.floorDB)
	}
	return e, nil
}

// Detect implements vad.Detector.
func (e *Detector) Detect(ctx context.Context, w audio.Waveform, cfg vad.Config) ([]vad.Interval, error) {
	if err := vad.CheckInput(w); err != nil {
		return nil, err
	}
	frameLen := int(int64(e.frame) * int64(w.SampleRate) / int64(time.Second))
	if frameLen <= 0 {
		frameLen = 1
	}

	var raw []vad.Interval
	start := -1
	for off := 0; off < len(w.Samples); off += frameLen {
		if off%(frameLen*1024) == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("energy: %w", err)
			}
		}
		end := min(off+frameLen, len(w.Samples))
		speech := e.probability(w.Samples[off:end]) >= cfg.Threshold
		switch {
		case speech && start < 0:
			start = off
		case !speech && start >= 0:
			raw = append(raw, vad.Interval{Start: start, End: off})
			start = -1
		}
	}
	if start >= 0 {
		raw = append(raw, vad.Interval{Start: start, End: len(w.Samples)})
	}
	return vad.Refine(raw, len(w.Samples), w.SampleRate, cfg), nil
}

func (e *Detector) probability(frame []float32) float64 {
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms == 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	p := (db - e.floorDB) / (e.ceilDB - e.floorDB)
	return min(max(p, 0), 1)
}
