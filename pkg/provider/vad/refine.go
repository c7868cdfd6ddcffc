package vad

import (
	"cmp"
	"slices"
)

// Refine turns raw detections over a buffer of total samples at rate into the
// final interval list. The rules are applied in this order:
//
//  1. clamp to [0, total] and drop empty spans
//  2. bridge gaps shorter than cfg.MinSilence (overlaps are merged too)
//  3. drop spans shorter than cfg.MinSpeech
//  4. split spans so that, once padded, none exceeds cfg.MaxSpeech
//  5. pad by cfg.SpeechPad on both sides; when two neighbours are closer than
//     twice the pad the gap is shared between them
//
// The result is sorted by Start and non-overlapping. raw is not modified.
func Refine(raw []Interval, total, rate int, cfg Config) []Interval {
	if total <= 0 || rate <= 0 {
		return nil
	}

	ivs := make([]Interval, 0, len(raw))
	for _, iv := range raw {
		iv.Start = max(iv.Start, 0)
		iv.End = min(iv.End, total)
		if iv.End > iv.Start {
			ivs = append(ivs, iv)
		}
	}
	slices.SortFunc(ivs, func(a, b Interval) int { return cmp.Compare(a.Start, b.Start) })

	minSilence := samples(cfg.MinSilence, rate)
	merged := ivs[:0]
	for _, iv := range ivs {
		if n := len(merged); n > 0 && iv.Start-merged[n-1].End < minSilence {
			merged[n-1].End = max(merged[n-1].End, iv.End)
			continue
		}
		merged = append(merged, iv)
	}

	minSpeech := samples(cfg.MinSpeech, rate)
	pad := samples(cfg.SpeechPad, rate)
	maxLen := samples(cfg.MaxSpeech, rate) - 2*pad
	if maxLen <= 0 {
		maxLen = samples(cfg.MaxSpeech, rate)
	}

	var out []Interval
	for _, iv := range merged {
		if iv.Len() < minSpeech {
			continue
		}
		out = append(out, split(iv, maxLen)...)
	}

	for i := range out {
		if i == 0 {
			out[i].Start = max(out[i].Start-pad, 0)
		}
		if i == len(out)-1 {
			out[i].End = min(out[i].End+pad, total)
			continue
		}
		gap := out[i+1].Start - out[i].End
		if gap < 2*pad {
			half := gap / 2
			out[i].End += half
			out[i+1].Start -= gap - half
		} else {
			out[i].End += pad
			out[i+1].Start -= pad
		}
	}
	return out
}

// split cuts iv into the fewest near-equal pieces no longer than maxLen.
func split(iv Interval, maxLen int) []Interval {
	if maxLen <= 0 || iv.Len() <= maxLen {
		return []Interval{iv}
	}
	n := (iv.Len() + maxLen - 1) / maxLen
	pieces := make([]Interval, n)
	for k := range n {
		pieces[k] = Interval{
			Start: iv.Start + k*iv.Len()/n,
			End:   iv.Start + (k+1)*iv.Len()/n,
		}
	}
	return pieces
}
