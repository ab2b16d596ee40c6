package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maxharrison/podcast-adblocker/internal/audio"
	"github.com/maxharrison/podcast-adblocker/internal/feed"
	"github.com/maxharrison/podcast-adblocker/internal/storage"
)

// Publisher uploads an exported episode with its adverts and a single-item
// advert-free feed to the bucket, under the show's podcast GUID.
type Publisher struct {
	store  storage.Storage
	logger *slog.Logger
}

// NewPublisher creates a Publisher writing to store.
func NewPublisher(store storage.Storage, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: store, logger: logger.With("component", "publisher")}
}

// EpisodeKey derives a bucket-safe name from an episode GUID.
func EpisodeKey(guid string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(guid)).String()
}

// Publish uploads art and returns the public URL of the rendered feed.
func (p *Publisher) Publish(ctx context.Context, ep *feed.Episode, art *audio.Artifacts, duration time.Duration) (string, error) {
	prefix := ep.Show.GUID
	epKey := EpisodeKey(ep.GUID)
	audioKey := fmt.Sprintf("%s/%s%s", prefix, epKey, audio.Ext)
	feedKey := prefix + "/feed.xml"

	episode, err := os.ReadFile(art.Output)
	if err != nil {
		return "", fmt.Errorf("publish: read output: %w", err)
	}

	audioURL, err := p.store.Upload(ctx, audioKey, bytes.NewReader(episode), "audio/mpeg")
	if err != nil {
		return "", fmt.Errorf("publish: upload episode: %w", err)
	}
	p.logger.Info("episode published", slog.String("url", audioURL))

	for i, path := range art.Adverts {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("publish: read advert %d: %w", i+1, err)
		}
		key := fmt.Sprintf("%s/advert-%d-%s%s", prefix, i+1, epKey, audio.Ext)
		if _, err := p.store.Upload(ctx, key, bytes.NewReader(data), "audio/mpeg"); err != nil {
			return "", fmt.Errorf("publish: upload advert %d: %w", i+1, err)
		}
	}

	// Objects share a base URL, so the feed's own URL follows from the episode's.
	feedURL := strings.TrimSuffix(audioURL, audioKey) + feedKey

	doc, err := feed.Render(feed.Publication{
		Episode:     ep,
		FeedURL:     feedURL,
		AudioURL:    audioURL,
		AudioLength: int64(len(episode)),
		Duration:    duration,
	})
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}

	if _, err := p.store.Upload(ctx, feedKey, bytes.NewReader(doc), "application/rss+xml"); err != nil {
		return "", fmt.Errorf("publish: upload feed: %w", err)
	}
	p.logger.Info("feed published", slog.String("url", feedURL))
	return feedURL, nil
}
