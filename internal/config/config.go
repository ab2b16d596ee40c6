// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrRSSFeedRequired is returned when RSS_FEED is not set.
	ErrRSSFeedRequired = errors.New("config: RSS_FEED is required")
	// ErrProjectIDRequired is returned when PROJECT_ID is not set.
	ErrProjectIDRequired = errors.New("config: PROJECT_ID is required")
	// ErrBucketNameRequired is returned when BUCKET_NAME is not set.
	ErrBucketNameRequired = errors.New("config: BUCKET_NAME is required")
)

// Config holds all configuration for the application.
type Config struct {
	// Source feed
	RSSFeed string `env:"RSS_FEED" json:"rss_feed"`

	// Transcription settings. PROJECT_ID is the RunPod endpoint of the
	// Whisper worker.
	ProjectID           string        `env:"PROJECT_ID" json:"project_id"`
	RunPodAPIKey        string        `env:"RUNPOD_API_KEY" json:"-"` // Masked in JSON
	WhisperModel        string        `env:"WHISPER_MODEL, default=large-v3" json:"whisper_model"`
	WhisperLanguage     string        `env:"WHISPER_LANGUAGE, default=en" json:"whisper_language"`
	WhisperPollInterval time.Duration `env:"WHISPER_POLL_INTERVAL, default=5s" json:"whisper_poll_interval"`
	WhisperMaxWait      time.Duration `env:"WHISPER_MAX_WAIT, default=6h" json:"whisper_max_wait"`

	// Detection settings. GEMINI_API_KEY may hold a comma separated list.
	GeminiAPIKey string `env:"GEMINI_API_KEY" json:"-"` // Masked in JSON
	GeminiModel  string `env:"GEMINI_MODEL, default=gemini-2.0-flash" json:"gemini_model"`

	// Local directories
	CacheDir  string `env:"CACHE_DIR, default=cache" json:"cache_dir"`
	OutputDir string `env:"OUTPUT_DIR, default=output" json:"output_dir"`
	TempDir   string `env:"TEMP_DIR, default=/tmp/podcast-adblocker" json:"temp_dir"`

	// Bucket settings
	BucketName         string `env:"BUCKET_NAME" json:"bucket_name"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON
	// PublicURL is the base URL bucket objects are served from. Publishing
	// the advert-free feed is enabled when it is set.
	PublicURL string `env:"PUBLIC_URL" json:"public_url,omitempty"`

	// Tools
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Server settings
	Port               int      `env:"PORT, default=8080" json:"port"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS, default=*" json:"cors_allowed_origins"`
	// RunHistory is how many runs the server remembers; older finished runs are pruned.
	RunHistory int `env:"RUN_HISTORY, default=50" json:"run_history"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json", "text" or "auto"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// Load reads configuration from environment variables using go-envconfig
// and validates the settings a feed run needs.
func Load() (*Config, error) {
	cfg, err := LoadLocal()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLocal reads configuration without requiring the feed, transcription
// and bucket settings. Commands that only touch local files use it.
func LoadLocal() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.RSSFeed == "" {
		return ErrRSSFeedRequired
	}
	if c.ProjectID == "" {
		return ErrProjectIDRequired
	}
	if c.BucketName == "" {
		return ErrBucketNameRequired
	}
	return nil
}

// PublishEnabled returns true if exported episodes should be republished.
func (c *Config) PublishEnabled() bool {
	return c.BucketName != "" && c.PublicURL != ""
}

// LockPath returns the path of the lock file that serialises runs.
func (c *Config) LockPath() string {
	return filepath.Join(c.CacheDir, "run.lock")
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production;
// "auto" picks JSON unless stdout is a terminal. Otherwise, it outputs
// human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	fd := os.Stdout.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	return slog.New(c.newHandler(os.Stdout, tty))
}

func (c *Config) newHandler(w io.Writer, tty bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	switch strings.ToLower(c.LogFormat) {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "auto":
		if !tty {
			return slog.NewJSONHandler(w, opts)
		}
	}
	return slog.NewTextHandler(w, opts)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{RSSFeed: %s, ProjectID: %s, BucketName: %s, CacheDir: %s, OutputDir: %s, TempDir: %s, GeminiModel: %s, WhisperModel: %s, PublicURL: %s, Port: %d, LogFormat: %s, LogLevel: %s}",
		c.RSSFeed,
		c.ProjectID,
		c.BucketName,
		c.CacheDir,
		c.OutputDir,
		c.TempDir,
		c.GeminiModel,
		c.WhisperModel,
		c.PublicURL,
		c.Port,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
