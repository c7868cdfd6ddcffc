package audio

import "math"

// Anti-aliasing filter parameters, relative to the output rate. The passband
// ends at 0.40·dst and the stopband starts at the output Nyquist, so nothing
// that would fold back into the output band survives.
const (
	antiAliasCutoff     = 0.45 // -6 dB point, fraction of the output rate
	antiAliasWidth      = 0.10 // transition band, fraction of the output rate
	antiAliasStopbandDB = 80.0
)

// antiAlias low-pass filters samples recorded at srcRate so they can be
// decimated to dstRate without aliasing. The result has the same length and
// no group delay. Samples beyond the buffer are treated as silence.
func antiAlias(samples []float32, srcRate, dstRate int) []float32 {
	fs := float64(srcRate)
	cutoff := antiAliasCutoff * float64(dstRate) / fs
	width := 2 * math.Pi * antiAliasWidth * float64(dstRate) / fs
	taps := int(math.Ceil((antiAliasStopbandDB-8)/(2.285*width))) | 1
	return convolveCentered(samples, kaiserLowPass(taps, cutoff, kaiserBeta(antiAliasStopbandDB)))
}

// kaiserLowPass designs an odd-length linear-phase FIR low-pass with the
// given cutoff in cycles per sample. Coefficients sum to one.
func kaiserLowPass(taps int, cutoff, beta float64) []float64 {
	h := make([]float64, taps)
	half := float64(taps-1) / 2
	norm := besselI0(beta)
	var sum float64
	for n := range h {
		x := float64(n) - half
		sinc := 2 * cutoff
		if x != 0 {
			sinc = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
		}
		r := x / half
		w := besselI0(beta*math.Sqrt(max(0, 1-r*r))) / norm
		h[n] = sinc * w
		sum += h[n]
	}
	for n := range h {
		h[n] /= sum
	}
	return h
}

// kaiserBeta returns the window shape for a stopband attenuation of atten dB
// (Kaiser's empirical formula).
func kaiserBeta(atten float64) float64 {
	switch {
	case atten > 50:
		return 0.1102 * (atten - 8.7)
	case atten >= 21:
		return 0.5842*math.Pow(atten-21, 0.4) + 0.07886*(atten-21)
	default:
		return 0
	}
}

// besselI0 is the zeroth-order modified Bessel function of the first kind.
func besselI0(x float64) float64 {
	sum, term := 1.0, 1.0
	q := x * x / 4
	for k := 1; k < 64; k++ {
		term *= q / float64(k*k)
		sum += term
		if term < sum*1e-16 {
			break
		}
	}
	return sum
}

func convolveCentered(x []float32, h []float64) []float32 {
	half := len(h) / 2
	out := make([]float32, len(x))
	for i := range x {
		lo := max(0, half-i)
		hi := min(len(h), len(x)-i+half)
		var acc float64
		for k := lo; k < hi; k++ {
			acc += h[k] * float64(x[i+k-half])
		}
		out[i] = float32(acc)
	}
	return out
}
