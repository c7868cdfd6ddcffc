// Package silero provides a [vad.Detector] backed by the Silero VAD ONNX model
// through github.com/streamer45/silero-vad-go. The onnxruntime shared library
// must be discoverable at run time.
package silero

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/chunkscribe/pkg/audio"
	"github.com/MrWong99/chunkscribe/pkg/provider/vad"
)

// Compile-time assertion that Detector satisfies vad.Detector.
var _ vad.Detector = (*Detector)(nil)

// Detector runs Silero VAD over whole waveforms. Each Detect call builds its
// own model session, so a Detector may be shared across goroutines.
type Detector struct {
	modelPath string
}

// New returns a detector that loads the model at modelPath.
func New(modelPath string) (*Detector, error) {
	if modelPath == "" {
		return nil, errors.New("silero: modelPath must not be empty")
	}
	return &Detector{modelPath: modelPath}, nil
}

// Detect implements vad.Detector. Only 8 kHz and 16 kHz input is supported by
// the model.
func (d *Detector) Detect(ctx context.Context, w audio.Waveform, cfg vad.Config) ([]vad.Interval, error) {
	if err := vad.CheckInput(w); err != nil {
		return nil, err
	}
	if w.SampleRate != 8000 && w.SampleRate != 16000 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d (want 8000 or 16000)", w.SampleRate)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("silero: %w", err)
	}

	// Padding is left to vad.Refine so every backend pads identically.
	sd, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            d.modelPath,
		SampleRate:           w.SampleRate,
		Threshold:            float32(cfg.Threshold),
		MinSilenceDurationMs: int(cfg.MinSilence.Milliseconds()),
		SpeechPadMs:          0,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: load model %q: %w", d.modelPath, err)
	}
	defer func() {
		if err := sd.Destroy(); err != nil {
			slog.Warn("silero: failed to release detector", "error", err)
		}
	}()

	segments, err := sd.Detect(w.Samples)
	if err != nil {
		return nil, fmt.Errorf("silero: detect: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("silero: %w", err)
	}

	total := len(w.Samples)
	raw := make([]vad.Interval, 0, len(segments))
	for _, seg := range segments {
		iv := vad.Interval{
			Start: int(seg.SpeechStartAt * float64(w.SampleRate)),
			End:   int(seg.SpeechEndAt * float64(w.SampleRate)),
		}
		// A segment still open at end of input has no end timestamp.
		if seg.SpeechEndAt == 0 {
			iv.End = total
		}
		raw = append(raw, iv)
	}
	return vad.Refine(raw, total, w.SampleRate, cfg), nil
}
