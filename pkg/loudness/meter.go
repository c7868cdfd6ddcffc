// Package loudness measures integrated loudness per ITU-R BS.1770-4 and
// rescales buffers to a target level in LUFS.
//
// The meter follows the reference gating scheme: a K-weighting pre-filter
// (high shelf followed by high pass), mean-square power over 400 ms blocks
// with 75 % overlap, an absolute gate at -70 LUFS and a relative gate 10 LU
// below the ungated mean.
package loudness

import (
	"errors"
	"fmt"
	"math"
)

// ErrTooShort is returned by [Meter.Integrated] when the input holds less than
// one gating block.
var ErrTooShort = errors.New("loudness: buffer shorter than one gating block")

const (
	blockDuration  = 0.400 // seconds
	blockOverlap   = 0.75
	absoluteGate   = -70.0 // LUFS
	relativeGateLU = -10.0
	loudnessOffset = -0.691
)

// Meter computes integrated loudness of mono float32 buffers at a fixed rate.
// A Meter is stateless between calls and safe for concurrent use.
type Meter struct {
	rate    int
	filters [2]biquad
}

// NewMeter returns a meter for the given sample rate.
func NewMeter(rate int) (*Meter, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("loudness: sample rate must be positive, got %d", rate)
	}
	return &Meter{
		rate: rate,
		filters: [2]biquad{
			highShelf(float64(rate), 1500.0, 4.0, 1/math.Sqrt2),
			highPass(float64(rate), 38.0, 0.5),
		},
	}, nil
}

// Rate returns the sample rate the meter was built for.
func (m *Meter) Rate() int { return m.rate }

// Integrated returns the gated loudness of samples in LUFS. Silence yields
// -Inf with a nil error; callers decide what to do with it.
func (m *Meter) Integrated(samples []float32) (float64, error) {
	blockLen := blockDuration * float64(m.rate)
	if float64(len(samples)) < blockLen {
		return math.Inf(-1), ErrTooShort
	}

	weighted := make([]float64, len(samples))
	for i, s := range samples {
		weighted[i] = float64(s)
	}
	for _, f := range m.filters {
		f.apply(weighted)
	}

	duration := float64(len(samples)) / float64(m.rate)
	step := 1 - blockOverlap
	numBlocks := int(math.Round((duration-blockDuration)/(blockDuration*step))) + 1

	power := make([]float64, numBlocks)
	for j := range numBlocks {
		lo := int(blockDuration * (float64(j) * step) * float64(m.rate))
		hi := min(int(blockDuration*(float64(j)*step+1)*float64(m.rate)), len(weighted))
		var sum float64
		for _, v := range weighted[lo:hi] {
			sum += v * v
		}
		power[j] = sum / blockLen
	}

	// Absolute gate.
	var absSum float64
	var absN int
	for _, z := range power {
		if blockLoudness(z) >= absoluteGate {
			absSum += z
			absN++
		}
	}
	if absN == 0 {
		return math.Inf(-1), nil
	}

	relGate := blockLoudness(absSum/float64(absN)) + relativeGateLU

	var sum float64
	var n int
	for _, z := range power {
		l := blockLoudness(z)
		if l > relGate && l > absoluteGate {
			sum += z
			n++
		}
	}
	if n == 0 {
		return math.Inf(-1), nil
	}
	return blockLoudness(sum / float64(n)), nil
}

func blockLoudness(z float64) float64 {
	return loudnessOffset + 10*math.Log10(z)
}

// biquad is a second-order IIR section with a0 normalized to 1.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// apply filters x in place using direct form I with zero initial state.
func (f biquad) apply(x []float64) {
	var x1, x2, y1, y2 float64
	for i, in := range x {
		out := f.b0*in + f.b1*x1 + f.b2*x2 - f.a1*y1 - f.a2*y2
		x2, x1 = x1, in
		y2, y1 = y1, out
		x[i] = out
	}
}

func highShelf(rate, fc, gainDB, q float64) biquad {
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * fc / rate
	cos := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)
	sqrtA := math.Sqrt(a)

	b0 := a * ((a + 1) + (a-1)*cos + 2*sqrtA*alpha)
	b1 := -2 * a * ((a - 1) + (a+1)*cos)
	b2 := a * ((a + 1) + (a-1)*cos - 2*sqrtA*alpha)
	a0 := (a + 1) - (a-1)*cos + 2*sqrtA*alpha
	a1 := 2 * ((a - 1) - (a+1)*cos)
	a2 := (a + 1) - (a-1)*cos - 2*sqrtA*alpha
	return biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

func highPass(rate, fc, q float64) biquad {
	w0 := 2 * math.Pi * fc / rate
	cos := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)

	b0 := (1 + cos) / 2
	b1 := -(1 + cos)
	b2 := (1 + cos) / 2
	a0 := 1 + alpha
	a1 := -2 * cos
	a2 := 1 - alpha
	return biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}
