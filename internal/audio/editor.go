// Package audio cuts and reassembles compressed audio. The Editor interface
// is the decode/encode boundary; FFmpegEditor implements it with the ffmpeg
// and ffprobe CLIs, and Exporter turns a segmentation plan into files.
package audio

import (
	"context"
	"time"

	"github.com/maxharrison/podcast-adblocker/internal/segment"
)

// Ext is the file extension of every exported artifact.
const Ext = ".mp3"

// Editor decodes, slices and re-encodes audio files.
type Editor interface {
	// Duration returns the decoded length of the audio at src,
	// truncated to whole milliseconds.
	Duration(ctx context.Context, src string) (time.Duration, error)

	// Extract writes the slice r of src to dst. Ranges are clamped to the
	// decoded length; a range past the end yields an empty file.
	Extract(ctx context.Context, src, dst string, r segment.Range) error

	// Concat writes the ranges of src, in order and without gaps or
	// crossfades, to dst. No ranges (or only empty ones) yields a valid
	// zero-duration file.
	Concat(ctx context.Context, src string, ranges []segment.Range, dst string) error
}
