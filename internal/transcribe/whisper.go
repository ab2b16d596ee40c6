package transcribe

import (
	"bytes"
	"context"
	"crypto/md5" // #nosec G501 - object naming only, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/maxharrison/podcast-adblocker/internal/runpod"
	"github.com/maxharrison/podcast-adblocker/internal/storage"
	"github.com/maxharrison/podcast-adblocker/internal/upstream"
)

const source = "runpod-whisper"

// Static errors for Whisper transcription.
var (
	// ErrJobFailed is returned when the transcription job ends without output.
	ErrJobFailed = errors.New("transcribe: job did not complete")
	// ErrTimeout is returned when the job is still running after MaxWait.
	ErrTimeout = errors.New("transcribe: timed out waiting for job")
)

// WhisperOptions configures RunPodWhisper.
type WhisperOptions struct {
	Submit       runpod.SubmitOptions
	PollInterval time.Duration
	// MaxWait bounds the total time spent polling a single job.
	MaxWait time.Duration
	// PresignTTL is how long the worker may fetch the staged audio.
	PresignTTL time.Duration
}

// DefaultWhisperOptions returns sensible defaults for long episodes.
func DefaultWhisperOptions() WhisperOptions {
	return WhisperOptions{
		Submit:       runpod.DefaultSubmitOptions(),
		PollInterval: 5 * time.Second,
		MaxWait:      6 * time.Hour,
		PresignTTL:   6 * time.Hour,
	}
}

// RunPodWhisper transcribes audio with a faster-whisper RunPod worker. The
// audio is staged in the bucket and handed to the worker as a presigned URL.
type RunPodWhisper struct {
	client runpod.Client
	store  storage.Storage
	opts   WhisperOptions
	logger *slog.Logger
}

// NewRunPodWhisper creates a RunPodWhisper. Zero option fields take their
// defaults.
func NewRunPodWhisper(client runpod.Client, store storage.Storage, opts WhisperOptions, logger *slog.Logger) *RunPodWhisper {
	def := DefaultWhisperOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = def.MaxWait
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = def.PresignTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RunPodWhisper{
		client: client,
		store:  store,
		opts:   opts,
		logger: logger.With("component", "transcriber"),
	}
}

// StagingKey returns the bucket key audio from sourceURL is staged under.
func StagingKey(sourceURL string) string {
	sum := md5.Sum([]byte(sourceURL)) // #nosec G401
	ext := ".mp3"
	if u, err := url.Parse(sourceURL); err == nil {
		if e := strings.ToLower(path.Ext(u.Path)); e == ".m4a" || e == ".ogg" || e == ".wav" || e == ".aac" {
			ext = e
		}
	}
	return "audio-files/" + hex.EncodeToString(sum[:]) + ext
}

// Transcribe implements Transcriber.
func (w *RunPodWhisper) Transcribe(ctx context.Context, audio []byte, sourceURL string) (string, error) {
	key := StagingKey(sourceURL)

	exists, err := w.store.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("transcribe: check staged audio: %w", err)
	}
	if exists {
		w.logger.Info("audio already staged", slog.String("key", key))
	} else {
		w.logger.Info("uploading podcast", slog.String("key", key), slog.Int("bytes", len(audio)))
		if _, err := w.store.Upload(ctx, key, bytes.NewReader(audio), "audio/mpeg"); err != nil {
			return "", fmt.Errorf("transcribe: stage audio: %w", err)
		}
	}

	audioURL, err := w.store.PresignGet(ctx, key, w.opts.PresignTTL)
	if err != nil {
		return "", fmt.Errorf("transcribe: presign audio: %w", err)
	}

	w.logger.Info("transcribing audio", slog.String("model", w.opts.Submit.Model))
	jobID, err := w.client.Submit(ctx, audioURL, w.opts.Submit)
	if err != nil {
		return "", fmt.Errorf("transcribe: submit: %w", err)
	}

	out, err := w.wait(ctx, jobID)
	if err != nil {
		return "", err
	}

	lines := linesFrom(out)
	transcript := Format(lines)
	if transcript == "" {
		return "", upstream.NewFormatError(source, "no transcription results found", nil)
	}

	w.logger.Info("transcription complete",
		slog.String("job_id", jobID),
		slog.Int("lines", len(lines)),
		slog.String("language", out.DetectedLanguage),
	)
	return transcript, nil
}

// wait polls jobID until it reaches a terminal status.
func (w *RunPodWhisper) wait(ctx context.Context, jobID string) (*runpod.Transcription, error) {
	ctx, cancel := context.WithTimeout(ctx, w.opts.MaxWait)
	defer cancel()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		res, err := w.client.Poll(ctx, jobID)
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: job %s", ErrTimeout, jobID)
			}
			return nil, fmt.Errorf("transcribe: poll: %w", err)
		}

		if res.Status.IsTerminal() {
			if res.Status != runpod.StatusCompleted {
				return nil, fmt.Errorf("%w: job %s %s: %s", ErrJobFailed, jobID, res.Status, res.Error)
			}
			if res.Output == nil {
				return nil, upstream.NewFormatError(source, "completed job has no output", nil)
			}
			return res.Output, nil
		}

		w.logger.Debug("waiting for transcription", slog.String("job_id", jobID), slog.String("status", string(res.Status)))

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: job %s", ErrTimeout, jobID)
			}
			return nil, fmt.Errorf("transcribe: context cancelled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// linesFrom groups worker words by segment. Workers that only return the
// flat word list produce a single line.
func linesFrom(t *runpod.Transcription) []Line {
	var lines []Line
	for _, seg := range t.Segments {
		if len(seg.Words) == 0 {
			continue
		}
		lines = append(lines, toLine(seg.Words))
	}
	if len(lines) == 0 && len(t.WordTimestamps) > 0 {
		lines = append(lines, toLine(t.WordTimestamps))
	}
	return lines
}

func toLine(words []runpod.Word) Line {
	line := make(Line, 0, len(words))
	for _, w := range words {
		line = append(line, Word{Text: w.Word, Offset: w.Start})
	}
	return line
}

// Verify interface implementation at compile time.
var _ Transcriber = (*RunPodWhisper)(nil)
