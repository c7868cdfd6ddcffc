package whisper

import (
	"path/filepath"
	"testing"

	"github.com/MrWong99/chunkscribe/pkg/audio"
)

func TestLoadSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunk_0.wav")
	if err := audio.WriteWAV(path, []float32{0, 0.5, -0.5}, sampleRate); err != nil {
		t.Fatal(err)
	}
	got, err := loadSamples(path)
	if err != nil {
		t.Fatalf("loadSamples: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[1] < 0.49 || got[1] > 0.51 {
		t.Errorf("sample 1 = %v, want ~0.5", got[1])
	}
}

func TestLoadSamples_WrongRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunk_0.wav")
	if err := audio.WriteWAV(path, make([]float32, 10), 44100); err != nil {
		t.Fatal(err)
	}
	if _, err := loadSamples(path); err == nil {
		t.Error("expected error for 44.1 kHz chunk")
	}
}
