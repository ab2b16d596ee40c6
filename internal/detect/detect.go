// Package detect asks a language model which parts of an annotated
// transcript are advertisements.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maxharrison/podcast-adblocker/internal/advert"
	"github.com/maxharrison/podcast-adblocker/internal/upstream"
)

// Detector returns the advert intervals of a transcript.
type Detector interface {
	Detect(ctx context.Context, transcript string) (advert.Set, error)
}

// boundsObject is the {"start":..,"end":..} response shape. Pointers
// distinguish a missing bound from zero.
type boundsObject struct {
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

// ParseResponse decodes a model response into an advert set. Accepted
// shapes are an array of {"start","end"} objects or an array of [start, end]
// pairs, optionally wrapped in a markdown code fence. Any other shape is an
// *upstream.FormatError; numbers outside the interval domain are an
// *advert.ValidationError.
func ParseResponse(src, raw string) (advert.Set, error) {
	body := stripFence(raw)
	if body == "" {
		return advert.Set{}, upstream.NewFormatError(src, "empty response", nil)
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return advert.Set{}, upstream.NewFormatError(src, "response is not a JSON array", err)
	}

	intervals := make([]advert.Interval, 0, len(items))
	for i, item := range items {
		iv, err := decodeItem(item)
		if err != nil {
			return advert.Set{}, upstream.NewFormatError(src, fmt.Sprintf("element %d", i), err)
		}
		intervals = append(intervals, iv)
	}

	return advert.NewSet(intervals)
}

func decodeItem(item json.RawMessage) (advert.Interval, error) {
	trimmed := bytes.TrimSpace(item)
	if len(trimmed) == 0 {
		return advert.Interval{}, fmt.Errorf("empty element")
	}

	switch trimmed[0] {
	case '{':
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		var obj boundsObject
		if err := dec.Decode(&obj); err != nil {
			return advert.Interval{}, err
		}
		if obj.Start == nil || obj.End == nil {
			return advert.Interval{}, fmt.Errorf("missing start or end")
		}
		return advert.Interval{Start: *obj.Start, End: *obj.End}, nil
	case '[':
		var pair []float64
		if err := json.Unmarshal(trimmed, &pair); err != nil {
			return advert.Interval{}, err
		}
		if len(pair) != 2 {
			return advert.Interval{}, fmt.Errorf("expected [start, end], got %d numbers", len(pair))
		}
		return advert.Interval{Start: pair[0], End: pair[1]}, nil
	default:
		return advert.Interval{}, fmt.Errorf("expected object or pair, got %s", string(trimmed))
	}
}

// stripFence removes a surrounding ``` or ```json fence.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
