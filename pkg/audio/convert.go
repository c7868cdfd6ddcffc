package audio

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/gopxl/beep"
)

// DefaultResampleQuality is the interpolation quality handed to
// [beep.Resample]. Valid range is 1-64; higher values use wider interpolation
// windows at the cost of CPU time.
const DefaultResampleQuality = 4

// Normalizer fixes the geometry of a waveform: it mixes down to mono and
// resamples to the target rate. It never touches loudness.
type Normalizer struct {
	// TargetRate is the output sample rate in Hz.
	TargetRate int

	// Quality is the beep resampler quality (1-64). Zero selects
	// [DefaultResampleQuality].
	Quality int
}

// Normalize returns a new mono waveform at n.TargetRate. The input waveform is
// not modified. When the input is already mono at the target rate, a copy is
// returned so callers can rely on owning the result.
//
// Conversion order: channel mix first, then resample (resampling a single
// channel is cheaper than resampling all of them).
func (n Normalizer) Normalize(w Waveform) (Waveform, error) {
	if err := w.Validate(); err != nil {
		return Waveform{}, err
	}
	if n.TargetRate <= 0 {
		return Waveform{}, fmt.Errorf("audio: target sample rate must be positive, got %d", n.TargetRate)
	}

	if w.Channels != 1 || w.SampleRate != n.TargetRate {
		slog.Debug("audio normalizer: converting",
			"from", formatString(w.SampleRate, w.Channels),
			"to", formatString(n.TargetRate, 1),
		)
	}

	mono := DownmixMono(w.Samples, w.Channels)
	if w.SampleRate == n.TargetRate {
		return Waveform{Samples: mono, SampleRate: n.TargetRate, Channels: 1}, nil
	}

	quality := n.Quality
	if quality <= 0 {
		quality = DefaultResampleQuality
	}
	resampled, err := Resample(mono, w.SampleRate, n.TargetRate, quality)
	if err != nil {
		return Waveform{}, err
	}
	return Waveform{Samples: resampled, SampleRate: n.TargetRate, Channels: 1}, nil
}

// Normalize is a convenience wrapper around [Normalizer.Normalize] with the
// default resampling quality.
func Normalize(w Waveform, targetRate int) (Waveform, error) {
	return Normalizer{TargetRate: targetRate}.Normalize(w)
}

// DownmixMono averages all channels of each interleaved frame into a single
// mono sample. The result is always a freshly allocated slice; for mono input
// it is a plain copy. Trailing samples that do not form a complete frame are
// ignored.
func DownmixMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float64
		for ch := range channels {
			sum += float64(samples[i*channels+ch])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate over the whole
// buffer. When downsampling, the input is first band-limited below the output
// Nyquist frequency by a Kaiser-windowed sinc filter; beep's interpolating
// resampler then produces the new rate. Relative timing is preserved; the
// output holds round(len(samples) * dstRate / srcRate) samples.
func Resample(samples []float32, srcRate, dstRate, quality int) ([]float32, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: resample rates must be positive, got %d -> %d", srcRate, dstRate)
	}
	if quality < 1 || quality > 64 {
		return nil, fmt.Errorf("audio: resample quality %d out of range [1, 64]", quality)
	}
	if srcRate == dstRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}
	if len(samples) == 0 {
		return []float32{}, nil
	}

	if dstRate < srcRate {
		samples = antiAlias(samples, srcRate, dstRate)
	}

	want := int(math.Round(float64(len(samples)) * float64(dstRate) / float64(srcRate)))
	r := beep.Resample(quality, beep.SampleRate(srcRate), beep.SampleRate(dstRate), newMonoStreamer(samples))

	out := make([]float32, 0, want)
	buf := make([][2]float64, 1024)
	for len(out) < want {
		n, ok := r.Stream(buf)
		for i := range n {
			out = append(out, float32(buf[i][0]))
		}
		if !ok {
			break
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}

	// The resampler may stop a few frames short of or past the exact ratio;
	// trim or pad with the last sample so the length is deterministic.
	if len(out) > want {
		out = out[:want]
	}
	for len(out) < want {
		var last float32
		if len(out) > 0 {
			last = out[len(out)-1]
		}
		out = append(out, last)
	}
	return out, nil
}
