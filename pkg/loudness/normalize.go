package loudness

import (
	"errors"
	"math"
)

// DefaultTarget is the loudness every persisted chunk is normalized to.
const DefaultTarget = -23.0

// Report describes what [Normalizer.Apply] did to a buffer.
type Report struct {
	// Measured is the integrated loudness before normalization in LUFS.
	// -Inf for silent or too-short input.
	Measured float64

	// Gain is the linear factor that was applied. 1 when Skipped.
	Gain float64

	// Skipped is true when the buffer was degenerate (shorter than one
	// gating block, or silent) and was returned unscaled.
	Skipped bool
}

// Normalizer rescales buffers to Target LUFS using a [Meter].
type Normalizer struct {
	Meter  *Meter
	Target float64
}

// NewNormalizer returns a normalizer for mono buffers at rate.
func NewNormalizer(rate int, target float64) (*Normalizer, error) {
	m, err := NewMeter(rate)
	if err != nil {
		return nil, err
	}
	return &Normalizer{Meter: m, Target: target}, nil
}

// Apply returns a rescaled copy of samples whose integrated loudness equals
// n.Target. The input is never modified. Degenerate buffers are returned as a
// plain copy with Report.Skipped set. Samples are not clipped; values
// outside [-1, 1] are clamped later by the WAV encoder.
func (n *Normalizer) Apply(samples []float32) ([]float32, Report) {
	out := make([]float32, len(samples))
	copy(out, samples)

	measured, err := n.Meter.Integrated(samples)
	if errors.Is(err, ErrTooShort) {
		measured = math.Inf(-1)
	}
	if math.IsInf(measured, 0) || math.IsNaN(measured) {
		return out, Report{Measured: measured, Gain: 1, Skipped: true}
	}

	gain := math.Pow(10, (n.Target-measured)/20)
	for i, s := range out {
		out[i] = float32(float64(s) * gain)
	}
	return out, Report{Measured: measured, Gain: gain}
}
