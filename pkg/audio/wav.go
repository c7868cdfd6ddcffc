package audio

import (
	"fmt"
	"os"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// wavPrecision is the byte width of a persisted chunk sample (16-bit PCM).
const wavPrecision = 2

// WriteWAV persists mono samples at rate to path as a 16-bit PCM WAV file.
// Samples outside [-1, 1] are clipped by the encoder.
func WriteWAV(path string, samples []float32, rate int) (err error) {
	if rate <= 0 {
		return fmt.Errorf("audio: write wav %s: sample rate must be positive, got %d", path, rate)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("audio: write wav %s: %w", path, cerr)
		}
	}()

	format := beep.Format{
		SampleRate:  beep.SampleRate(rate),
		NumChannels: 1,
		Precision:   wavPrecision,
	}
	if err := wav.Encode(f, newMonoStreamer(samples), format); err != nil {
		return fmt.Errorf("audio: write wav %s: %w", path, err)
	}
	return nil
}

// ReadWAV decodes a WAV file into a [Waveform], preserving its channel count
// (mono or stereo) and sample rate.
func ReadWAV(path string) (Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return Waveform{}, fmt.Errorf("audio: read wav: %w", err)
	}
	s, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		return Waveform{}, fmt.Errorf("audio: read wav %s: %w", path, err)
	}
	defer s.Close()
	return streamToWaveform(s, format, path)
}

func streamToWaveform(s beep.Streamer, format beep.Format, path string) (Waveform, error) {
	channels := format.NumChannels
	if channels < 1 || channels > 2 {
		return Waveform{}, fmt.Errorf("audio: %s: unsupported channel count %d", path, channels)
	}
	samples, err := drain(s, channels)
	if err != nil {
		return Waveform{}, fmt.Errorf("audio: decode %s: %w", path, err)
	}
	return Waveform{
		Samples:    samples,
		SampleRate: int(format.SampleRate),
		Channels:   channels,
	}, nil
}
