package whisper

import (
	"fmt"

	"github.com/MrWong99/chunkscribe/pkg/audio"
)

// sampleRate is the only input rate whisper.cpp accepts.
const sampleRate = 16000

// loadSamples reads a chunk file into the mono float32 layout whisper.cpp
// consumes.
func loadSamples(path string) ([]float32, error) {
	w, err := audio.ReadWAV(path)
	if err != nil {
		return nil, err
	}
	if w.SampleRate != sampleRate {
		return nil, fmt.Errorf("chunk %s is %d Hz, whisper needs %d Hz", path, w.SampleRate, sampleRate)
	}
	return audio.DownmixMono(w.Samples, w.Channels), nil
}
