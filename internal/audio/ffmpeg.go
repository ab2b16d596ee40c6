package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/maxharrison/podcast-adblocker/internal/segment"
)

// Static errors for audio operations.
var (
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrNoDuration is returned when ffprobe reports no usable duration.
	ErrNoDuration = errors.New("audio: could not determine duration")
)

// encodeArgs makes repeated exports of the same input byte-identical.
var encodeArgs = []string{
	"-map_metadata", "-1",
	"-fflags", "+bitexact",
	"-flags:a", "+bitexact",
	"-c:a", "libmp3lame",
	"-f", "mp3",
}

// FFmpegEditor implements Editor using the ffmpeg and ffprobe CLIs.
type FFmpegEditor struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegEditor creates a new FFmpegEditor.
// Empty paths default to "ffmpeg" and "ffprobe" found via PATH.
func NewFFmpegEditor(ffmpegPath, ffprobePath string) *FFmpegEditor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegEditor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Duration implements Editor.Duration using ffprobe. A file whose audio
// stream holds no packets, such as the empty export, has zero duration.
func (e *FFmpegEditor) Duration(ctx context.Context, src string) (time.Duration, error) {
	out, err := e.ffprobe(ctx, src,
		"-show_entries", "format=duration",
	)
	if err != nil {
		return 0, err
	}

	d, err := parseDuration(out)
	if errors.Is(err, ErrNoDuration) {
		if n, cerr := e.packetCount(ctx, src); cerr == nil && n == 0 {
			return 0, nil
		}
	}
	return d, err
}

// packetCount returns the number of packets in the first audio stream.
func (e *FFmpegEditor) packetCount(ctx context.Context, src string) (int, error) {
	out, err := e.ffprobe(ctx, src,
		"-select_streams", "a:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets",
	)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(out))
}

// ffprobe runs ffprobe on src with the given entry selection and returns
// its bare output.
func (e *FFmpegEditor) ffprobe(ctx context.Context, src string, args ...string) (string, error) {
	full := append([]string{"-v", "error"}, args...)
	full = append(full, "-of", "default=noprint_wrappers=1:nokey=1", src)

	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffprobePath, full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return "", fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}
	return stdout.String(), nil
}

// parseDuration parses ffprobe's bare duration output in seconds.
func parseDuration(out string) (time.Duration, error) {
	out = strings.TrimSpace(out)
	if out == "" || out == "N/A" {
		return 0, ErrNoDuration
	}
	seconds, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrNoDuration, out, err)
	}
	if seconds < 0 {
		return 0, fmt.Errorf("%w: negative duration %q", ErrNoDuration, out)
	}
	return segment.FromSeconds(seconds), nil
}

// Extract implements Editor.Extract.
func (e *FFmpegEditor) Extract(ctx context.Context, src, dst string, r segment.Range) error {
	return e.Concat(ctx, src, []segment.Range{r}, dst)
}

// Concat implements Editor.Concat with an atrim/concat filter graph over a
// single decode of src.
func (e *FFmpegEditor) Concat(ctx context.Context, src string, ranges []segment.Range, dst string) error {
	length, err := e.Duration(ctx, src)
	if err != nil {
		return fmt.Errorf("source duration: %w", err)
	}

	clamped := make([]segment.Range, 0, len(ranges))
	for _, r := range ranges {
		c := r.Clamp(length)
		if c.Empty() {
			continue
		}
		clamped = append(clamped, c)
	}

	if len(clamped) == 0 {
		return e.silence(ctx, dst)
	}

	args := []string{
		"-y",
		"-i", src,
		"-filter_complex", buildFilterGraph(clamped),
		"-map", "[out]",
	}
	args = append(args, encodeArgs...)
	args = append(args, dst)
	return e.runFFmpeg(ctx, args)
}

// silence writes a zero-duration file in the export format.
func (e *FFmpegEditor) silence(ctx context.Context, dst string) error {
	args := []string{
		"-y",
		"-f", "lavfi",
		"-i", "anullsrc=r=44100:cl=stereo",
		"-t", "0",
	}
	args = append(args, encodeArgs...)
	args = append(args, dst)
	return e.runFFmpeg(ctx, args)
}

// buildFilterGraph trims each range from input 0 and concatenates the
// pieces into the [out] pad.
func buildFilterGraph(ranges []segment.Range) string {
	if len(ranges) == 1 {
		return fmt.Sprintf("[0:a]%s[out]", trimFilter(ranges[0]))
	}

	var b strings.Builder
	for i, r := range ranges {
		fmt.Fprintf(&b, "[0:a]%s[s%d];", trimFilter(r), i)
	}
	for i := range ranges {
		fmt.Fprintf(&b, "[s%d]", i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=0:a=1[out]", len(ranges))
	return b.String()
}

func trimFilter(r segment.Range) string {
	return fmt.Sprintf("atrim=start=%.3f:end=%.3f,asetpts=PTS-STARTPTS", r.Start.Seconds(), r.End.Seconds())
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (e *FFmpegEditor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Verify interface implementation at compile time.
var _ Editor = (*FFmpegEditor)(nil)
