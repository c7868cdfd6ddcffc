// Package vad defines the Detector interface for voice activity detection
// backends and the post-processing shared by all of them.
//
// A Detector scans a whole normalized waveform (mono, at the pipeline's target
// rate) and reports the spans that contain speech as sample offsets. Backends
// only need to produce raw detections; [Refine] turns those into the final
// interval list by applying the duration rules in [Config].
//
// Implementations must be safe for concurrent use: independent pipeline runs
// may call Detect simultaneously.
package vad

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/chunkscribe/pkg/audio"
)

// Config holds the detection parameters for a single Detect call.
type Config struct {
	// Threshold is the speech probability above which a frame counts as
	// speech. Range: (0.0, 1.0). Typical: 0.5.
	Threshold float64

	// MinSpeech is the shortest span kept as speech. Shorter detections are
	// discarded.
	MinSpeech time.Duration

	// MaxSpeech is the longest span reported as a single interval, padding
	// included. Longer detections are split.
	MaxSpeech time.Duration

	// SpeechPad is added to both ends of every interval.
	SpeechPad time.Duration

	// MinSilence is the shortest gap that separates two speech spans. Gaps
	// below this are bridged.
	MinSilence time.Duration
}

// DefaultConfig returns the detection parameters used for transcription:
// threshold 0.5, min speech 100 ms, max speech 20 s, pad 400 ms and min
// silence 200 ms.
func DefaultConfig() Config {
	return Config{
		Threshold:  0.5,
		MinSpeech:  100 * time.Millisecond,
		MaxSpeech:  20 * time.Second,
		SpeechPad:  400 * time.Millisecond,
		MinSilence: 200 * time.Millisecond,
	}
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var errs []error
	if c.Threshold <= 0 || c.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("vad: threshold %v must be in (0, 1)", c.Threshold))
	}
	if c.MinSpeech < 0 {
		errs = append(errs, fmt.Errorf("vad: min speech %s must not be negative", c.MinSpeech))
	}
	if c.MaxSpeech <= 0 {
		errs = append(errs, fmt.Errorf("vad: max speech %s must be positive", c.MaxSpeech))
	}
	if c.SpeechPad < 0 {
		errs = append(errs, fmt.Errorf("vad: speech pad %s must not be negative", c.SpeechPad))
	}
	if c.MinSilence < 0 {
		errs = append(errs, fmt.Errorf("vad: min silence %s must not be negative", c.MinSilence))
	}
	if c.MaxSpeech > 0 && c.MaxSpeech <= c.MinSpeech {
		errs = append(errs, fmt.Errorf("vad: max speech %s must exceed min speech %s", c.MaxSpeech, c.MinSpeech))
	}
	return errors.Join(errs...)
}

// Detector finds speech in a normalized waveform.
type Detector interface {
	// Detect returns the speech intervals of w in strictly increasing,
	// non-overlapping order, each within [0, len(w.Samples)]. w must be mono.
	// An empty result (no speech) is not an error.
	Detect(ctx context.Context, w audio.Waveform, cfg Config) ([]Interval, error)
}

// ErrNotMono is returned by detectors handed a multi-channel waveform.
var ErrNotMono = errors.New("vad: waveform must be mono")

// CheckInput validates the waveform preconditions shared by every backend.
func CheckInput(w audio.Waveform) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if w.Channels != 1 {
		return fmt.Errorf("%w, got %d channels", ErrNotMono, w.Channels)
	}
	return nil
}
