package vad_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/chunkscribe/pkg/provider/vad"
)

// At 1000 Hz one sample is one millisecond, which keeps the cases readable.
const rate = 1000

func cfg(minSpeech, maxSpeech, pad, minSilence int) vad.Config {
	ms := time.Millisecond
	return vad.Config{
		Threshold:  0.5,
		MinSpeech:  time.Duration(minSpeech) * ms,
		MaxSpeech:  time.Duration(maxSpeech) * ms,
		SpeechPad:  time.Duration(pad) * ms,
		MinSilence: time.Duration(minSilence) * ms,
	}
}

func TestRefine(t *testing.T) {
	tests := []struct {
		name  string
		raw   []vad.Interval
		total int
		cfg   vad.Config
		want  []vad.Interval
	}{
		{
			name:  "empty",
			raw:   nil,
			total: 1000,
			cfg:   cfg(0, 1000, 0, 0),
			want:  nil,
		},
		{
			name:  "pad and clamp",
			raw:   []vad.Interval{{Start: 10, End: 200}, {Start: 500, End: 990}},
			total: 1000,
			cfg:   cfg(0, 10000, 50, 0),
			want:  []vad.Interval{{Start: 0, End: 250}, {Start: 450, End: 1000}},
		},
		{
			name:  "bridge short silence",
			raw:   []vad.Interval{{Start: 100, End: 200}, {Start: 250, End: 400}},
			total: 1000,
			cfg:   cfg(0, 10000, 0, 100),
			want:  []vad.Interval{{Start: 100, End: 400}},
		},
		{
			name:  "keep long silence",
			raw:   []vad.Interval{{Start: 100, End: 200}, {Start: 300, End: 400}},
			total: 1000,
			cfg:   cfg(0, 10000, 0, 100),
			want:  []vad.Interval{{Start: 100, End: 200}, {Start: 300, End: 400}},
		},
		{
			name:  "drop short speech",
			raw:   []vad.Interval{{Start: 100, End: 150}, {Start: 300, End: 500}},
			total: 1000,
			cfg:   cfg(100, 10000, 0, 0),
			want:  []vad.Interval{{Start: 300, End: 500}},
		},
		{
			name:  "split long speech",
			raw:   []vad.Interval{{Start: 0, End: 1000}},
			total: 1000,
			cfg:   cfg(0, 400, 0, 0),
			want:  []vad.Interval{{Start: 0, End: 333}, {Start: 333, End: 666}, {Start: 666, End: 1000}},
		},
		{
			name:  "neighbours share a narrow gap",
			raw:   []vad.Interval{{Start: 100, End: 200}, {Start: 260, End: 400}},
			total: 1000,
			cfg:   cfg(0, 10000, 50, 0),
			want:  []vad.Interval{{Start: 50, End: 230}, {Start: 230, End: 450}},
		},
		{
			name:  "unsorted and overlapping input",
			raw:   []vad.Interval{{Start: 300, End: 500}, {Start: 100, End: 350}},
			total: 1000,
			cfg:   cfg(0, 10000, 0, 0),
			want:  []vad.Interval{{Start: 100, End: 500}},
		},
		{
			name:  "out of bounds and empty spans",
			raw:   []vad.Interval{{Start: -50, End: 100}, {Start: 700, End: 700}, {Start: 900, End: 1200}},
			total: 1000,
			cfg:   cfg(0, 10000, 0, 0),
			want:  []vad.Interval{{Start: 0, End: 100}, {Start: 900, End: 1000}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := vad.Refine(tt.raw, tt.total, rate, tt.cfg)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Refine() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRefine_PaddedLengthWithinMaxSpeech(t *testing.T) {
	c := cfg(0, 400, 50, 0)
	got := vad.Refine([]vad.Interval{{Start: 100, End: 2900}}, 3000, rate, c)
	if len(got) < 2 {
		t.Fatalf("expected a split, got %v", got)
	}
	for i, iv := range got {
		if iv.Len() > 400 {
			t.Errorf("interval %d %v longer than max speech", i, iv)
		}
		if i > 0 && iv.Start < got[i-1].End {
			t.Errorf("interval %d %v overlaps %v", i, iv, got[i-1])
		}
	}
}

func TestRefine_DoesNotModifyInput(t *testing.T) {
	raw := []vad.Interval{{Start: 300, End: 500}, {Start: 100, End: 200}}
	orig := slices.Clone(raw)
	vad.Refine(raw, 1000, rate, cfg(0, 10000, 20, 0))
	if !slices.Equal(raw, orig) {
		t.Errorf("input modified: %v", raw)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := vad.DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
	bad := vad.Config{Threshold: 1.5, MinSpeech: time.Second, MaxSpeech: time.Millisecond, SpeechPad: -1}
	if err := bad.Validate(); err == nil {
		t.Error("expected validation error")
	}
}
