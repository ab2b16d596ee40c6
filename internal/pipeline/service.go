package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/maxharrison/podcast-adblocker/internal/advert"
	"github.com/maxharrison/podcast-adblocker/internal/audio"
	"github.com/maxharrison/podcast-adblocker/internal/cache"
	"github.com/maxharrison/podcast-adblocker/internal/detect"
	"github.com/maxharrison/podcast-adblocker/internal/feed"
	"github.com/maxharrison/podcast-adblocker/internal/segment"
	"github.com/maxharrison/podcast-adblocker/internal/storage"
	"github.com/maxharrison/podcast-adblocker/internal/transcribe"
)

// ErrRunInProgress is returned when another run holds the run lock.
var ErrRunInProgress = errors.New("pipeline: a run is already in progress")

// ErrNoFeed is returned when neither the input nor the service names a feed.
var ErrNoFeed = errors.New("pipeline: no feed URL")

// Cache key prefixes. Keys are the prefix followed by the episode audio URL.
const (
	TranscriptKeyPrefix = "transcript-"
	AdvertsKeyPrefix    = "advert_timestamps-"
)

// EpisodeResolver finds the latest episode of a feed.
type EpisodeResolver interface {
	LatestEpisode(ctx context.Context, feedURL string) (*feed.Episode, error)
}

// AudioDownloader fetches episode audio.
type AudioDownloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Deps are the collaborators of a Service. Publisher is optional.
type Deps struct {
	Repo        Repository
	Resolver    EpisodeResolver
	Downloader  AudioDownloader
	Transcriber transcribe.Transcriber
	Detector    detect.Detector
	Editor      audio.Editor
	Cache       *cache.Store
	Storage     storage.Storage
	Publisher   *Publisher
}

// Options configure a Service.
type Options struct {
	// FeedURL is used when an Input does not name a feed.
	FeedURL   string
	OutputDir string
	// LockPath is the run lock file; defaults to <cache dir>/run.lock.
	LockPath string
	// MaxRuns caps the runs kept in the repository. Older finished runs are
	// deleted when a new run is created. Zero means DefaultMaxRuns.
	MaxRuns int
}

// DefaultMaxRuns is the run history kept when Options.MaxRuns is unset.
const DefaultMaxRuns = 50

// Input parameters for a feed run.
type Input struct {
	FeedURL string
	// OutputDir overrides the service output directory.
	OutputDir string
}

// Output is the result of a completed run.
type Output struct {
	Run       *Run
	Episode   *feed.Episode
	Plan      segment.Plan
	Artifacts *audio.Artifacts
	FeedURL   string
}

// Service runs the advert removal pipeline, one run at a time across
// processes sharing the cache directory.
type Service struct {
	deps     Deps
	exporter *audio.Exporter
	opts     Options
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewService creates a Service.
func NewService(deps Deps, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Repo == nil {
		deps.Repo = NewMemoryRepository()
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "output"
	}
	if opts.MaxRuns <= 0 {
		opts.MaxRuns = DefaultMaxRuns
	}
	if opts.LockPath == "" {
		dir := "cache"
		if deps.Cache != nil {
			dir = deps.Cache.Dir()
		}
		opts.LockPath = filepath.Join(dir, "run.lock")
	}
	return &Service{
		deps:     deps,
		exporter: audio.NewExporter(deps.Editor, logger),
		opts:     opts,
		logger:   logger,
	}
}

// acquire takes the run lock without blocking.
func (s *Service) acquire() (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(s.opts.LockPath), 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create lock directory: %w", err)
	}
	lock := flock.New(s.opts.LockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("pipeline: acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}
	return lock, nil
}

func (s *Service) release(lock *flock.Flock) {
	if err := lock.Unlock(); err != nil {
		s.logger.Warn("failed to release run lock", slog.String("error", err.Error()))
	}
}

// GetRun retrieves a run by ID.
func (s *Service) GetRun(ctx context.Context, id string) (*Run, error) {
	return s.deps.Repo.FindByID(ctx, id)
}

// ListRuns returns all recorded runs, newest first.
func (s *Service) ListRuns(ctx context.Context) ([]*Run, error) {
	return s.deps.Repo.List(ctx)
}

// Process runs the full pipeline for the latest episode and waits for it.
func (s *Service) Process(ctx context.Context, input Input) (*Output, error) {
	lock, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer s.release(lock)

	run, err := s.createRun(ctx, KindFeed, func(r *Run) { r.FeedURL = s.feedURL(input) })
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, run, input)
}

// Start records a new run and processes it in the background. The run
// outlives ctx's cancellation. Returns ErrRunInProgress when busy.
func (s *Service) Start(ctx context.Context, input Input) (*Run, error) {
	lock, err := s.acquire()
	if err != nil {
		return nil, err
	}

	run, err := s.createRun(ctx, KindFeed, func(r *Run) { r.FeedURL = s.feedURL(input) })
	if err != nil {
		s.release(lock)
		return nil, err
	}

	s.wg.Add(1)
	go func(ctx context.Context) {
		defer s.wg.Done()
		defer s.release(lock)
		if _, err := s.execute(ctx, run, input); err != nil {
			s.logger.Error("background run failed",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()),
			)
		}
	}(context.WithoutCancel(ctx))

	return run.Clone(), nil
}

// Wait blocks until every background run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// StripLocal cuts set out of the audio file at srcPath and exports the
// result to outDir (the service output directory when empty). Nothing is
// downloaded, transcribed or detected.
func (s *Service) StripLocal(ctx context.Context, srcPath string, set advert.Set, outDir string) (*Output, error) {
	lock, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer s.release(lock)

	run, err := s.createRun(ctx, KindStrip, func(r *Run) { r.SourcePath = srcPath })
	if err != nil {
		return nil, err
	}
	if outDir == "" {
		outDir = s.opts.OutputDir
	}

	out := &Output{Run: run}
	if err := s.cut(ctx, run, srcPath, set, outDir, out); err != nil {
		return nil, s.fail(ctx, run, err)
	}
	if err := s.finish(ctx, run); err != nil {
		return nil, err
	}
	out.Run = run.Clone()
	return out, nil
}

func (s *Service) feedURL(input Input) string {
	if input.FeedURL != "" {
		return input.FeedURL
	}
	return s.opts.FeedURL
}

func (s *Service) createRun(ctx context.Context, kind Kind, init func(*Run)) (*Run, error) {
	run := NewRun(kind)
	init(run)

	s.logger.Info("creating new run",
		slog.String("run_id", run.ID),
		slog.String("kind", string(kind)),
	)

	if err := s.deps.Repo.Save(ctx, run); err != nil {
		s.logger.Error("failed to save run",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	s.prune(ctx)
	return run, nil
}

// prune deletes the oldest finished runs beyond opts.MaxRuns. Runs still in
// progress are never deleted.
func (s *Service) prune(ctx context.Context) {
	runs, err := s.deps.Repo.List(ctx)
	if err != nil {
		s.logger.Warn("failed to list runs for pruning", slog.String("error", err.Error()))
		return
	}
	if len(runs) <= s.opts.MaxRuns {
		return
	}

	// runs is newest first.
	for _, run := range runs[s.opts.MaxRuns:] {
		if !run.IsTerminal() {
			continue
		}
		if err := s.deps.Repo.Delete(ctx, run.ID); err != nil && !errors.Is(err, ErrRunNotFound) {
			s.logger.Warn("failed to prune run", slog.String("run_id", run.ID), slog.String("error", err.Error()))
			continue
		}
		s.logger.Debug("run pruned", slog.String("run_id", run.ID))
	}
}

// advance moves run to stage and persists it.
func (s *Service) advance(ctx context.Context, run *Run, stage Stage) error {
	if err := run.TransitionTo(stage); err != nil {
		return fmt.Errorf("pipeline: %s -> %s: %w", run.GetStage(), stage, err)
	}
	s.logger.Debug("run stage", slog.String("run_id", run.ID), slog.String("stage", string(stage)))
	return s.deps.Repo.Save(ctx, run)
}

// fail marks run as failed and returns cause.
func (s *Service) fail(ctx context.Context, run *Run, cause error) error {
	if err := run.Fail(cause.Error()); err != nil {
		s.logger.Warn("failed to mark run failed", slog.String("run_id", run.ID), slog.String("error", err.Error()))
	}
	if err := s.deps.Repo.Save(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Warn("failed to save run", slog.String("run_id", run.ID), slog.String("error", err.Error()))
	}
	s.logger.Error("run failed", slog.String("run_id", run.ID), slog.String("error", cause.Error()))
	return cause
}

func (s *Service) finish(ctx context.Context, run *Run) error {
	if err := s.advance(ctx, run, StageCompleted); err != nil {
		return err
	}
	s.logger.Info("run completed", slog.String("run_id", run.ID))
	return nil
}

func (s *Service) execute(ctx context.Context, run *Run, input Input) (*Output, error) {
	feedURL := s.feedURL(input)
	if feedURL == "" {
		return nil, s.fail(ctx, run, ErrNoFeed)
	}
	outDir := input.OutputDir
	if outDir == "" {
		outDir = s.opts.OutputDir
	}

	out := &Output{Run: run}

	// 1. Resolve the latest episode
	if err := s.advance(ctx, run, StageResolving); err != nil {
		return nil, s.fail(ctx, run, err)
	}
	ep, err := s.deps.Resolver.LatestEpisode(ctx, feedURL)
	if err != nil {
		return nil, s.fail(ctx, run, err)
	}
	out.Episode = ep
	run.Update(func(r *Run) {
		r.EpisodeTitle = ep.Title
		r.AudioURL = ep.AudioURL
	})
	s.logger.Info("latest episode resolved",
		slog.String("run_id", run.ID),
		slog.String("title", ep.Title),
		slog.String("audio_url", ep.AudioURL),
	)

	// 2. Download
	if err := s.advance(ctx, run, StageDownloading); err != nil {
		return nil, s.fail(ctx, run, err)
	}
	data, err := s.deps.Downloader.Download(ctx, ep.AudioURL)
	if err != nil {
		return nil, s.fail(ctx, run, err)
	}

	// 3. Transcribe (cached)
	if err := s.advance(ctx, run, StageTranscribing); err != nil {
		return nil, s.fail(ctx, run, err)
	}
	transcript, err := cache.GetOrCompute(ctx, s.deps.Cache, TranscriptKeyPrefix+ep.AudioURL, cache.StringCodec{},
		func(ctx context.Context) (string, error) {
			text, err := s.deps.Transcriber.Transcribe(ctx, data, ep.AudioURL)
			if err != nil {
				return "", err
			}
			if _, err := transcribe.Parse(text); err != nil {
				return "", fmt.Errorf("pipeline: transcript: %w", err)
			}
			return text, nil
		})
	if err = s.tolerateCacheWrite(run, err); err != nil {
		return nil, s.fail(ctx, run, err)
	}

	// 4. Detect adverts (cached)
	if err := s.advance(ctx, run, StageDetecting); err != nil {
		return nil, s.fail(ctx, run, err)
	}
	set, err := cache.GetOrCompute(ctx, s.deps.Cache, AdvertsKeyPrefix+ep.AudioURL, cache.JSONCodec[advert.Set]{},
		func(ctx context.Context) (advert.Set, error) {
			return s.deps.Detector.Detect(ctx, transcript)
		})
	if err = s.tolerateCacheWrite(run, err); err != nil {
		return nil, s.fail(ctx, run, err)
	}

	// 5. Stage audio locally, then segment and export
	srcPath, err := s.deps.Storage.SaveTemp(ctx, "episode"+audio.Ext, bytes.NewReader(data))
	if err != nil {
		return nil, s.fail(ctx, run, fmt.Errorf("pipeline: save episode: %w", err))
	}
	defer func() {
		if err := s.deps.Storage.CleanupTemp(context.WithoutCancel(ctx), []string{srcPath}); err != nil {
			s.logger.Warn("failed to clean up temp file", slog.String("path", srcPath), slog.String("error", err.Error()))
		}
	}()

	if err := s.cut(ctx, run, srcPath, set, outDir, out); err != nil {
		return nil, s.fail(ctx, run, err)
	}

	// 6. Publish (optional)
	if s.deps.Publisher != nil {
		if err := s.advance(ctx, run, StagePublishing); err != nil {
			return nil, s.fail(ctx, run, err)
		}
		published, err := s.deps.Publisher.Publish(ctx, ep, out.Artifacts, out.Plan.KeptDuration())
		if err != nil {
			return nil, s.fail(ctx, run, err)
		}
		out.FeedURL = published
		run.Update(func(r *Run) { r.PublishedFeedURL = published })
	}

	if err := s.finish(ctx, run); err != nil {
		return nil, err
	}
	out.Run = run.Clone()
	return out, nil
}

// cut runs the segmenting and exporting stages.
func (s *Service) cut(ctx context.Context, run *Run, srcPath string, set advert.Set, outDir string, out *Output) error {
	if err := s.advance(ctx, run, StageSegmenting); err != nil {
		return err
	}
	length, err := s.deps.Editor.Duration(ctx, srcPath)
	if err != nil {
		return fmt.Errorf("pipeline: decode audio: %w", err)
	}
	plan := segment.Segment(length, set)
	out.Plan = plan
	run.Update(func(r *Run) {
		r.AudioLength = length
		r.AdvertCount = len(plan.Removed)
		r.KeptDuration = plan.KeptDuration()
		r.RemovedDuration = plan.RemovedDuration()
	})

	if err := s.advance(ctx, run, StageExporting); err != nil {
		return err
	}
	art, err := s.exporter.Export(ctx, srcPath, plan, outDir)
	if err != nil {
		return err
	}
	out.Artifacts = art
	run.Update(func(r *Run) {
		r.OutputPath = art.Output
		r.AdvertPaths = art.Adverts
	})
	return s.deps.Repo.Save(ctx, run)
}

// tolerateCacheWrite downgrades a cache write failure to a warning; the
// computed value is still used for this run.
func (s *Service) tolerateCacheWrite(run *Run, err error) error {
	if err == nil || !errors.Is(err, cache.ErrWrite) {
		return err
	}
	s.logger.Warn("cache write failed, continuing", slog.String("run_id", run.ID), slog.String("error", err.Error()))
	run.AddWarning(err.Error())
	return nil
}
