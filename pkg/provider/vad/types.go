package vad

import (
	"fmt"
	"time"
)

// Interval is a half-open span [Start, End) of sample offsets into a
// normalized waveform.
type Interval struct {
	Start int
	End   int
}

// Len returns the number of samples covered.
func (iv Interval) Len() int { return iv.End - iv.Start }

// Duration returns the playback length of the interval at rate.
func (iv Interval) Duration(rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(iv.Len()) * time.Second / time.Duration(rate)
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%d, %d)", iv.Start, iv.End)
}

// samples converts d to a sample count at rate, truncating.
func samples(d time.Duration, rate int) int {
	return int(int64(d) * int64(rate) / int64(time.Second))
}
