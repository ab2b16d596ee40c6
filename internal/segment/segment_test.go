package segment

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/maxharrison/podcast-adblocker/internal/advert"
)

func sec(s float64) time.Duration {
	return FromSeconds(s)
}

func rng(start, end float64) Range {
	return Range{Start: sec(start), End: sec(end)}
}

func TestSegment(t *testing.T) {
	tests := []struct {
		name      string
		length    time.Duration
		intervals []advert.Interval
		kept      []Range
		removed   []Range
	}{
		{
			name:    "no adverts keeps everything",
			length:  sec(30),
			kept:    []Range{rng(0, 30)},
			removed: []Range{},
		},
		{
			name:      "single advert in the middle",
			length:    sec(30),
			intervals: []advert.Interval{{Start: 10, End: 20}},
			kept:      []Range{rng(0, 10), rng(20, 30)},
			removed:   []Range{rng(10, 20)},
		},
		{
			name:      "advert covers the whole audio",
			length:    sec(30),
			intervals: []advert.Interval{{Start: 0, End: 30}},
			kept:      []Range{},
			removed:   []Range{rng(0, 30)},
		},
		{
			name:      "two adverts given out of order",
			length:    sec(30),
			intervals: []advert.Interval{{Start: 20, End: 25}, {Start: 5, End: 10}},
			kept:      []Range{rng(0, 5), rng(10, 20), rng(25, 30)},
			removed:   []Range{rng(5, 10), rng(20, 25)},
		},
		{
			name:      "advert at the start",
			length:    sec(30),
			intervals: []advert.Interval{{Start: 0, End: 10}},
			kept:      []Range{rng(10, 30)},
			removed:   []Range{rng(0, 10)},
		},
		{
			name:      "advert runs to the end",
			length:    sec(30),
			intervals: []advert.Interval{{Start: 25, End: 30}},
			kept:      []Range{rng(0, 25)},
			removed:   []Range{rng(25, 30)},
		},
		{
			name:      "touching adverts",
			length:    sec(30),
			intervals: []advert.Interval{{Start: 5, End: 10}, {Start: 10, End: 15}},
			kept:      []Range{rng(0, 5), rng(15, 30)},
			removed:   []Range{rng(5, 10), rng(10, 15)},
		},
		{
			name:      "zero-length advert only advances the cursor",
			length:    sec(30),
			intervals: []advert.Interval{{Start: 12, End: 12}},
			kept:      []Range{rng(0, 12), rng(12, 30)},
			removed:   []Range{rng(12, 12)},
		},
		{
			name:      "overlapping adverts never move the cursor backwards",
			length:    sec(60),
			intervals: []advert.Interval{{Start: 10, End: 40}, {Start: 20, End: 30}, {Start: 50, End: 55}},
			kept:      []Range{rng(0, 10), rng(40, 50), rng(55, 60)},
			removed:   []Range{rng(10, 40), rng(20, 30), rng(50, 55)},
		},
		{
			name:      "advert past the end of the audio",
			length:    sec(30),
			intervals: []advert.Interval{{Start: 25, End: 45}},
			kept:      []Range{rng(0, 25)},
			removed:   []Range{rng(25, 45)},
		},
		{
			name:      "end far beyond the duration range",
			length:    sec(30),
			intervals: []advert.Interval{{Start: 10, End: 1e10}},
			kept:      []Range{rng(0, 10)},
			removed:   []Range{rng(10, 1e10)},
		},
		{
			name:      "fractional seconds truncate to milliseconds",
			length:    sec(10),
			intervals: []advert.Interval{{Start: 1.2345, End: 2.0009}},
			kept:      []Range{{0, 1234 * time.Millisecond}, {2000 * time.Millisecond, 10 * time.Second}},
			removed:   []Range{{1234 * time.Millisecond, 2000 * time.Millisecond}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := advert.NewSet(tt.intervals)
			assert.NoError(t, err)

			plan := Segment(tt.length, set)

			assert.Equal(t, tt.length, plan.Length)
			assert.Equal(t, tt.kept, plan.Kept)

			removed := make([]Range, 0, len(plan.Removed))
			for i, a := range plan.Removed {
				assert.Equal(t, i+1, a.Position)
				removed = append(removed, a.Range)
			}
			assert.Equal(t, tt.removed, removed)
		})
	}
}

func TestSegment_AdvertNames(t *testing.T) {
	set := advert.MustSet(advert.Interval{Start: 20, End: 25}, advert.Interval{Start: 5, End: 10})
	plan := Segment(sec(30), set)

	names := []string{plan.Removed[0].Name(), plan.Removed[1].Name()}
	assert.Equal(t, []string{"ad1", "ad2"}, names)
	assert.Equal(t, sec(5), plan.Removed[0].Start)
}

func TestSegment_CoverageWithoutOverlap(t *testing.T) {
	set := advert.MustSet(
		advert.Interval{Start: 3, End: 7.5},
		advert.Interval{Start: 100, End: 160},
		advert.Interval{Start: 42.25, End: 60},
	)
	plan := Segment(sec(300), set)

	assert.Equal(t, plan.Length, plan.KeptDuration()+plan.RemovedDuration())
}

func TestSegment_KeptRangesAreOrderedAndDisjoint(t *testing.T) {
	set := advert.MustSet(
		advert.Interval{Start: 50, End: 70},
		advert.Interval{Start: 10, End: 60},
		advert.Interval{Start: 5, End: 8},
		advert.Interval{Start: 65, End: 66},
	)
	plan := Segment(sec(120), set)

	var prevEnd time.Duration
	for _, r := range plan.Kept {
		assert.Less(t, r.Start, r.End)
		assert.GreaterOrEqual(t, r.Start, prevEnd)
		prevEnd = r.End
	}
	assert.Equal(t, []Range{rng(0, 5), rng(8, 10), rng(70, 120)}, plan.Kept)
}

func TestFromSeconds(t *testing.T) {
	maxDur := time.Duration(maxMillis) * time.Millisecond

	tests := []struct {
		name string
		in   float64
		want time.Duration
	}{
		{"whole seconds", 12, 12 * time.Second},
		{"truncates below a millisecond", 0.0019, time.Millisecond},
		{"just past the duration range", 1e10, maxDur},
		{"far past the duration range", 1e17, maxDur},
		{"positive infinity", math.Inf(1), maxDur},
		{"negative overflow", -1e17, -maxDur},
		{"not a number", math.NaN(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromSeconds(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, time.Duration(0), got%time.Millisecond)
		})
	}
}

func TestRange_Clamp(t *testing.T) {
	length := sec(30)

	assert.Equal(t, rng(10, 20), rng(10, 20).Clamp(length))
	assert.Equal(t, rng(25, 30), rng(25, 45).Clamp(length))
	assert.Equal(t, rng(30, 30), rng(40, 50).Clamp(length))
	assert.True(t, rng(40, 50).Clamp(length).Empty())
}

func TestRange_Duration(t *testing.T) {
	assert.Equal(t, 10*time.Second, rng(10, 20).Duration())
	assert.Equal(t, time.Duration(0), rng(20, 10).Duration())
	assert.True(t, rng(5, 5).Empty())
}
