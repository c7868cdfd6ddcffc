// Package mock provides a test double for the vad.Detector interface.
//
// Set Intervals to the spans Detect should return and inspect DetectCalls to
// verify what the pipeline handed to the detector.
//
// Example:
//
//	det := &mock.Detector{Intervals: []vad.Interval{{Start: 0, End: 16000}}}
//	ivs, _ := det.Detect(ctx, w, vad.DefaultConfig())
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/chunkscribe/pkg/audio"
	"github.com/MrWong99/chunkscribe/pkg/provider/vad"
)

// DetectCall records a single invocation of Detector.Detect.
type DetectCall struct {
	// Waveform is the waveform passed to Detect. Samples are not copied.
	Waveform audio.Waveform

	// Cfg is the Config passed to Detect.
	Cfg vad.Config
}

// Detector is a mock implementation of vad.Detector.
type Detector struct {
	mu sync.Mutex

	// Intervals is returned by every Detect call.
	Intervals []vad.Interval

	// DetectErr, if non-nil, is returned as the error from Detect.
	DetectErr error

	// DetectCalls records every call to Detect in order.
	DetectCalls []DetectCall
}

// Detect records the call and returns Intervals, DetectErr.
func (d *Detector) Detect(_ context.Context, w audio.Waveform, cfg vad.Config) ([]vad.Interval, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DetectCalls = append(d.DetectCalls, DetectCall{Waveform: w, Cfg: cfg})
	if d.DetectErr != nil {
		return nil, d.DetectErr
	}
	out := make([]vad.Interval, len(d.Intervals))
	copy(out, d.Intervals)
	return out, nil
}

// CallCount returns the number of Detect calls. Thread-safe.
func (d *Detector) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DetectCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DetectCalls = nil
}

// Ensure Detector implements vad.Detector at compile time.
var _ vad.Detector = (*Detector)(nil)
