// Package pipeline orchestrates advert removal: resolve the latest episode,
// download it, transcribe, detect adverts, segment, export and optionally
// republish. Each execution is tracked as a Run whose stage follows a
// guarded state machine.
package pipeline

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maxharrison/podcast-adblocker/internal/pipeline/id"
)

// Kind distinguishes full feed runs from local strip runs.
type Kind string

const (
	// KindFeed processes the latest episode of a feed.
	KindFeed Kind = "feed"
	// KindStrip cuts known intervals out of a local file.
	KindStrip Kind = "strip"
)

// Stage represents the current step of a Run.
type Stage string

const (
	StagePending      Stage = "PENDING"
	StageResolving    Stage = "RESOLVING"
	StageDownloading  Stage = "DOWNLOADING"
	StageTranscribing Stage = "TRANSCRIBING"
	StageDetecting    Stage = "DETECTING"
	StageSegmenting   Stage = "SEGMENTING"
	StageExporting    Stage = "EXPORTING"
	StagePublishing   Stage = "PUBLISHING"
	StageCompleted    Stage = "COMPLETED"
	StageFailed       Stage = "FAILED"
)

// ErrInvalidTransition is returned when an invalid stage transition is attempted.
var ErrInvalidTransition = errors.New("invalid stage transition")

// validTransitions defines which stage transitions are allowed. Every
// non-terminal stage may fail.
var validTransitions = map[Stage][]Stage{
	StagePending:      {StageResolving, StageSegmenting, StageFailed},
	StageResolving:    {StageDownloading, StageFailed},
	StageDownloading:  {StageTranscribing, StageFailed},
	StageTranscribing: {StageDetecting, StageFailed},
	StageDetecting:    {StageSegmenting, StageFailed},
	StageSegmenting:   {StageExporting, StageFailed},
	StageExporting:    {StagePublishing, StageCompleted, StageFailed},
	StagePublishing:   {StageCompleted, StageFailed},
	StageCompleted:    {},
	StageFailed:       {},
}

// canTransition checks if a transition from one stage to another is valid.
func canTransition(from, to Stage) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// IsTerminal returns true if the stage is final.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Run is one execution of the pipeline.
type Run struct {
	mu sync.RWMutex

	ID    string
	Kind  Kind
	Stage Stage
	// FeedURL is set for feed runs; SourcePath for strip runs.
	FeedURL    string
	SourcePath string
	// Episode details, once resolved.
	EpisodeTitle string
	AudioURL     string
	// Segmentation results.
	AudioLength     time.Duration
	AdvertCount     int
	KeptDuration    time.Duration
	RemovedDuration time.Duration
	// Exported files.
	OutputPath  string
	AdvertPaths []string
	// PublishedFeedURL is the republished feed, when publishing is enabled.
	PublishedFeedURL string
	// Warnings collects non-fatal problems, such as cache write failures.
	Warnings []string
	Error    string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewRun creates a pending Run of the given kind with a generated ID.
func NewRun(kind Kind) *Run {
	return NewRunWithID(id.Generate(), kind)
}

// NewRunWithID creates a pending Run with the specified ID.
func NewRunWithID(runID string, kind Kind) *Run {
	now := time.Now()
	return &Run{
		ID:        runID,
		Kind:      kind,
		Stage:     StagePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo moves the run to stage.
// Returns ErrInvalidTransition if the transition is not allowed.
func (r *Run) TransitionTo(stage Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !canTransition(r.Stage, stage) {
		return ErrInvalidTransition
	}

	if r.Stage == StagePending {
		r.StartedAt = time.Now()
	}
	r.Stage = stage
	r.UpdatedAt = time.Now()
	if stage.IsTerminal() {
		r.CompletedAt = r.UpdatedAt
	}
	return nil
}

// Complete transitions the run to COMPLETED.
func (r *Run) Complete() error {
	return r.TransitionTo(StageCompleted)
}

// Fail records errMsg and transitions the run to FAILED.
func (r *Run) Fail(errMsg string) error {
	r.mu.Lock()
	r.Error = errMsg
	r.mu.Unlock()
	return r.TransitionTo(StageFailed)
}

// GetStage returns the current stage (thread-safe).
func (r *Run) GetStage() Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Stage
}

// IsTerminal returns true if the run is completed or failed.
func (r *Run) IsTerminal() bool {
	return r.GetStage().IsTerminal()
}

// Update applies fn to the run under its lock.
func (r *Run) Update(fn func(*Run)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
	r.UpdatedAt = time.Now()
}

// AddWarning records a non-fatal problem.
func (r *Run) AddWarning(msg string) {
	r.Update(func(r *Run) { r.Warnings = append(r.Warnings, msg) })
}

// Clone creates a deep copy of the run for safe reads.
func (r *Run) Clone() *Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return &Run{
		ID:               r.ID,
		Kind:             r.Kind,
		Stage:            r.Stage,
		FeedURL:          r.FeedURL,
		SourcePath:       r.SourcePath,
		EpisodeTitle:     r.EpisodeTitle,
		AudioURL:         r.AudioURL,
		AudioLength:      r.AudioLength,
		AdvertCount:      r.AdvertCount,
		KeptDuration:     r.KeptDuration,
		RemovedDuration:  r.RemovedDuration,
		OutputPath:       r.OutputPath,
		AdvertPaths:      slices.Clone(r.AdvertPaths),
		PublishedFeedURL: r.PublishedFeedURL,
		Warnings:         slices.Clone(r.Warnings),
		Error:            r.Error,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
	}
}
