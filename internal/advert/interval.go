// Package advert models the advertisement time ranges reported by an
// interval detector and the validated, ordered collection built from them.
package advert

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is matched by every interval or annotation validation failure.
var ErrInvalid = errors.New("advert: invalid interval")

var validate = validator.New()

// Interval is a time range in seconds from the beginning of the audio.
// A zero-length interval is legal and denotes an empty cut.
type Interval struct {
	Start float64 `json:"start" yaml:"start" validate:"gte=0"`
	End   float64 `json:"end" yaml:"end" validate:"gtefield=Start"`
}

// NewInterval validates start and end and returns the interval.
func NewInterval(start, end float64) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// Validate reports a *ValidationError when start is negative or end precedes
// start. NaN and infinite bounds are rejected as well.
func (iv Interval) Validate() error {
	for _, b := range []struct {
		field string
		value float64
	}{{"Start", iv.Start}, {"End", iv.End}} {
		if math.IsNaN(b.value) || math.IsInf(b.value, 0) {
			return &ValidationError{
				Index:  -1,
				Field:  b.field,
				Start:  iv.Start,
				End:    iv.End,
				Reason: "bounds must be finite",
			}
		}
	}

	err := validate.Struct(iv)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("advert: validate interval: %w", err)
	}
	fe := verrs[0]
	reason := "end must not precede start"
	if fe.Field() == "Start" {
		reason = "start must not be negative"
	}
	return &ValidationError{
		Index:  -1,
		Field:  fe.Field(),
		Start:  iv.Start,
		End:    iv.End,
		Reason: reason,
	}
}

// Duration returns the length of the interval in seconds.
func (iv Interval) Duration() float64 {
	return iv.End - iv.Start
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%.3f, %.3f]", iv.Start, iv.End)
}

// ValidationError describes a malformed interval. Index is the position of
// the interval in its input collection, or -1 when validated on its own.
type ValidationError struct {
	Index  int
	Field  string
	Start  float64
	End    float64
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("advert: interval %d [%g, %g]: %s", e.Index, e.Start, e.End, e.Reason)
	}
	return fmt.Sprintf("advert: interval [%g, %g]: %s", e.Start, e.End, e.Reason)
}

// Is makes every ValidationError match ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Set is a validated collection of intervals ordered ascending by start.
// Overlapping and touching intervals are kept as given.
type Set struct {
	intervals []Interval
}

// NewSet validates every interval and returns them stable-sorted by start,
// so intervals sharing a start keep their input order.
func NewSet(intervals []Interval) (Set, error) {
	sorted := make([]Interval, len(intervals))
	for i, iv := range intervals {
		if err := iv.Validate(); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.Index = i
			}
			return Set{}, err
		}
		sorted[i] = iv
	}
	slices.SortStableFunc(sorted, func(a, b Interval) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})
	return Set{intervals: sorted}, nil
}

// MustSet is NewSet for literals known to be valid; it panics otherwise.
func MustSet(intervals ...Interval) Set {
	s, err := NewSet(intervals)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of intervals.
func (s Set) Len() int {
	return len(s.intervals)
}

// Intervals returns a copy of the ordered intervals.
func (s Set) Intervals() []Interval {
	return slices.Clone(s.intervals)
}

// MarshalJSON encodes the set as a JSON array of {"start","end"} objects.
func (s Set) MarshalJSON() ([]byte, error) {
	if s.intervals == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.intervals)
}

// UnmarshalJSON decodes and revalidates a JSON array of intervals.
func (s *Set) UnmarshalJSON(data []byte) error {
	var raw []Interval
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("advert: decode intervals: %w", err)
	}
	parsed, err := NewSet(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
