// Package audio holds the waveform type shared by every stage of the
// transcription pipeline together with the decoding, geometry normalization
// (channel mixing, resampling) and chunk encoding primitives.
//
// Samples are float32 in the range [-1.0, 1.0]. Multi-channel audio is stored
// interleaved; after [Normalize] every waveform is mono at the target rate.
package audio

import (
	"fmt"
	"time"
)

// Waveform is a buffer of interleaved PCM samples at a known sample rate.
//
// A Waveform is treated as immutable once it has been handed to the chunking
// stage: consumers only take sub-slices of Samples and never write to them.
type Waveform struct {
	// Samples holds interleaved float32 samples, Channels values per frame.
	Samples []float32

	// SampleRate in Hz (e.g., 44100 for a CD rip, 16000 for transcription).
	SampleRate int

	// Channels is the number of interleaved channels. 1 for mono.
	Channels int
}

// Frames returns the number of sample frames (samples per channel).
func (w Waveform) Frames() int {
	if w.Channels <= 0 {
		return 0
	}
	return len(w.Samples) / w.Channels
}

// Duration returns the playback length of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(w.Frames()) * time.Second / time.Duration(w.SampleRate)
}

// Validate reports whether the waveform geometry is coherent.
func (w Waveform) Validate() error {
	if w.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", w.SampleRate)
	}
	if w.Channels <= 0 {
		return fmt.Errorf("audio: channel count must be positive, got %d", w.Channels)
	}
	if len(w.Samples)%w.Channels != 0 {
		return fmt.Errorf("audio: %d samples is not a multiple of %d channels", len(w.Samples), w.Channels)
	}
	return nil
}

// String returns a human-readable description, e.g. "44100Hz stereo 3.2s".
func (w Waveform) String() string {
	return fmt.Sprintf("%s %s", formatString(w.SampleRate, w.Channels), w.Duration().Round(100*time.Millisecond))
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
