// Package segment partitions an audio timeline into the ranges to keep and
// the advert ranges to cut, given an arbitrary set of advert intervals.
package segment

import (
	"fmt"
	"math"
	"time"

	"github.com/maxharrison/podcast-adblocker/internal/advert"
)

// Range is a span of the audio timeline at millisecond resolution.
type Range struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Duration returns End-Start, or zero for an inverted range.
func (r Range) Duration() time.Duration {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty reports whether the range covers no audio.
func (r Range) Empty() bool {
	return r.Duration() == 0
}

// Clamp restricts the range to [0, length]. A range lying entirely past the
// end collapses to the empty range [length, length].
func (r Range) Clamp(length time.Duration) Range {
	c := r
	if c.Start < 0 {
		c.Start = 0
	}
	if c.Start > length {
		c.Start = length
	}
	if c.End > length {
		c.End = length
	}
	if c.End < c.Start {
		c.End = c.Start
	}
	return c
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s]", r.Start, r.End)
}

// Advert is a removed range labelled with its 1-based position among the
// intervals sorted by start.
type Advert struct {
	Position int `json:"position"`
	Range
}

// Name returns the artifact base name, "ad1", "ad2", ...
func (a Advert) Name() string {
	return fmt.Sprintf("ad%d", a.Position)
}

// Plan is the result of segmenting a timeline.
type Plan struct {
	Length  time.Duration `json:"length"`
	Kept    []Range       `json:"kept"`
	Removed []Advert      `json:"removed"`
}

// KeptDuration sums the durations of the kept ranges.
func (p Plan) KeptDuration() time.Duration {
	var total time.Duration
	for _, r := range p.Kept {
		total += r.Duration()
	}
	return total
}

// RemovedDuration sums the durations of the removed ranges, counting
// overlapping adverts once per advert.
func (p Plan) RemovedDuration() time.Duration {
	var total time.Duration
	for _, a := range p.Removed {
		total += a.Duration()
	}
	return total
}

// maxMillis is the largest whole number of milliseconds a Duration holds.
const maxMillis = math.MaxInt64 / int64(time.Millisecond)

// FromSeconds converts seconds to a Duration truncated to whole milliseconds.
// Values beyond the Duration range saturate; NaN converts to zero.
func FromSeconds(sec float64) time.Duration {
	ms := math.Trunc(sec * 1000)
	switch {
	case math.IsNaN(ms):
		return 0
	case ms >= float64(maxMillis):
		return time.Duration(maxMillis) * time.Millisecond
	case ms <= -float64(maxMillis):
		return -time.Duration(maxMillis) * time.Millisecond
	}
	return time.Duration(int64(ms)) * time.Millisecond
}

// Segment computes the kept and removed ranges for a timeline of the given
// length. Every interval yields one removed range, in start order. Kept
// ranges are captured from a cursor that only moves forward, so overlapping
// intervals never produce an inverted or duplicated kept range.
func Segment(length time.Duration, set advert.Set) Plan {
	intervals := set.Intervals()
	plan := Plan{
		Length:  length,
		Kept:    make([]Range, 0, len(intervals)+1),
		Removed: make([]Advert, 0, len(intervals)),
	}

	if len(intervals) == 0 {
		plan.Kept = append(plan.Kept, Range{Start: 0, End: length})
		return plan
	}

	var cursor time.Duration
	for i, iv := range intervals {
		start := FromSeconds(iv.Start)
		end := FromSeconds(iv.End)

		plan.Removed = append(plan.Removed, Advert{
			Position: i + 1,
			Range:    Range{Start: start, End: end},
		})

		if cursor < start {
			plan.Kept = append(plan.Kept, Range{Start: cursor, End: start})
		}
		cursor = max(cursor, end)
	}

	if cursor < length {
		plan.Kept = append(plan.Kept, Range{Start: cursor, End: length})
	}
	return plan
}
