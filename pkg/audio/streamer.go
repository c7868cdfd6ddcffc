package audio

import "github.com/gopxl/beep"

// monoStreamer adapts a mono float32 buffer to [beep.Streamer], duplicating
// every sample onto both beep channels.
type monoStreamer struct {
	samples []float32
	pos     int
}

var _ beep.Streamer = (*monoStreamer)(nil)

func newMonoStreamer(samples []float32) *monoStreamer {
	return &monoStreamer{samples: samples}
}

// Stream implements [beep.Streamer].
func (s *monoStreamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := copy2(buf, s.samples[s.pos:])
	s.pos += n
	return n, true
}

// Err implements [beep.Streamer]. A slice never fails.
func (s *monoStreamer) Err() error { return nil }

func copy2(dst [][2]float64, src []float32) int {
	n := min(len(dst), len(src))
	for i := range n {
		v := float64(src[i])
		dst[i] = [2]float64{v, v}
	}
	return n
}

// drain reads s to completion and returns interleaved float32 samples with
// the requested channel count (1 or 2). beep always streams stereo frames;
// for mono sources both channels carry the same value, so the left channel is
// taken as-is.
func drain(s beep.Streamer, channels int) ([]float32, error) {
	var out []float32
	buf := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(buf)
		for i := range n {
			if channels == 1 {
				out = append(out, float32(buf[i][0]))
				continue
			}
			out = append(out, float32(buf[i][0]), float32(buf[i][1]))
		}
		if !ok {
			break
		}
	}
	return out, s.Err()
}
