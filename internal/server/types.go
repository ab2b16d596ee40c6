// Package server provides the HTTP surface of the advert remover: health,
// triggering a run and inspecting runs. Request and response DTOs are kept
// separate from the pipeline's domain types.
package server

import "time"

// CreateRunRequest is the HTTP request body for starting a run.
type CreateRunRequest struct {
	// FeedURL overrides the configured RSS feed.
	FeedURL string `json:"feed_url" validate:"omitempty,url"`
}

// CreateRunResponse is the HTTP response after starting a run.
type CreateRunResponse struct {
	ID    string `json:"id"`
	Stage string `json:"stage"`
}

// RunResponse is the HTTP response for getting run details.
type RunResponse struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Stage string `json:"stage"`

	FeedURL      string `json:"feed_url,omitempty"`
	SourcePath   string `json:"source_path,omitempty"`
	EpisodeTitle string `json:"episode_title,omitempty"`
	AudioURL     string `json:"audio_url,omitempty"`

	// Durations are in seconds.
	AudioLength     float64 `json:"audio_length,omitempty"`
	AdvertCount     int     `json:"advert_count"`
	KeptDuration    float64 `json:"kept_duration,omitempty"`
	RemovedDuration float64 `json:"removed_duration,omitempty"`

	OutputPath       string   `json:"output_path,omitempty"`
	AdvertPaths      []string `json:"advert_paths,omitempty"`
	PublishedFeedURL string   `json:"published_feed_url,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	Error            string   `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListRunsResponse is the HTTP response for listing runs.
type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
