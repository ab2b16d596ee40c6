// Package feed resolves the latest episode of a podcast RSS feed and
// downloads its audio.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
)

// UserAgent is sent with every feed and audio request. Some podcast hosts
// reject unfamiliar agents.
const UserAgent = "curl/7.85.0"

// Static errors for feed resolution.
var (
	// ErrNotFound is the parent of every "nothing to process" error.
	ErrNotFound = errors.New("feed: not found")
	// ErrNoEpisodes is returned when the feed has no items.
	ErrNoEpisodes = fmt.Errorf("%w: no podcast episodes in feed", ErrNotFound)
	// ErrNoAudioLink is returned when the latest item has no audio enclosure.
	ErrNoAudioLink = fmt.Errorf("%w: no audio link in latest episode", ErrNotFound)
	// ErrFetch is returned when the feed cannot be fetched or parsed.
	ErrFetch = errors.New("feed: fetch failed")
)

// podcastNamespace is the UUIDv5 namespace used for podcast:guid values.
var podcastNamespace = uuid.MustParse("ead4c236-bf58-58c6-a2c6-a6b28d128cb6")

// Show is the channel-level metadata of a feed.
type Show struct {
	FeedURL     string
	GUID        string
	Title       string
	Description string
	Link        string
	Language    string
	Author      string
	Category    string
	ImageURL    string
	Explicit    string
}

// Episode is the latest item of a feed together with its audio link.
type Episode struct {
	Show        Show
	GUID        string
	Title       string
	Description string
	Link        string
	Published   *time.Time
	ImageURL    string
	Explicit    string
	AudioURL    string
	AudioType   string
}

// Resolver finds the latest episode of a feed.
type Resolver struct {
	parser *gofeed.Parser
	logger *slog.Logger
}

// NewResolver creates a Resolver. A nil client uses a client with a 30s timeout.
func NewResolver(client *http.Client, logger *slog.Logger) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := gofeed.NewParser()
	p.Client = client
	p.UserAgent = UserAgent

	return &Resolver{parser: p, logger: logger.With("component", "feed")}
}

// LatestEpisode fetches feedURL and returns its first item. The audio link
// is the first enclosure of type audio/mpeg, falling back to any audio/*
// enclosure.
func (r *Resolver) LatestEpisode(ctx context.Context, feedURL string) (*Episode, error) {
	r.logger.Info("parsing feed", slog.String("url", feedURL))

	f, err := r.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("feed: context cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrFetch, feedURL, err)
	}

	return LatestFrom(f, feedURL)
}

// LatestFrom picks the latest episode out of an already parsed feed.
func LatestFrom(f *gofeed.Feed, feedURL string) (*Episode, error) {
	if f == nil || len(f.Items) == 0 || f.Items[0] == nil {
		return nil, ErrNoEpisodes
	}
	item := f.Items[0]

	enc := audioEnclosure(item.Enclosures)
	if enc == nil {
		return nil, ErrNoAudioLink
	}

	show := showFrom(f, feedURL)
	ep := &Episode{
		Show:        show,
		GUID:        item.GUID,
		Title:       item.Title,
		Description: item.Description,
		Link:        item.Link,
		Published:   item.PublishedParsed,
		AudioURL:    enc.URL,
		AudioType:   enc.Type,
		Explicit:    show.Explicit,
	}
	if ep.GUID == "" {
		ep.GUID = enc.URL
	}
	if item.Image != nil {
		ep.ImageURL = item.Image.URL
	}
	if it := item.ITunesExt; it != nil {
		if it.Image != "" && ep.ImageURL == "" {
			ep.ImageURL = it.Image
		}
		if it.Explicit != "" {
			ep.Explicit = it.Explicit
		}
	}
	if ep.ImageURL == "" {
		ep.ImageURL = show.ImageURL
	}
	return ep, nil
}

func audioEnclosure(encs []*gofeed.Enclosure) *gofeed.Enclosure {
	var fallback *gofeed.Enclosure
	for _, e := range encs {
		if e == nil || e.URL == "" {
			continue
		}
		typ := strings.ToLower(strings.TrimSpace(e.Type))
		if typ == "audio/mpeg" {
			return e
		}
		if fallback == nil && strings.HasPrefix(typ, "audio/") {
			fallback = e
		}
	}
	return fallback
}

func showFrom(f *gofeed.Feed, feedURL string) Show {
	s := Show{
		FeedURL:     feedURL,
		Title:       f.Title,
		Description: f.Description,
		Link:        f.Link,
		Language:    f.Language,
		Explicit:    "false",
	}
	if f.Author != nil {
		s.Author = f.Author.Name
	}
	if f.Image != nil {
		s.ImageURL = f.Image.URL
	}
	if len(f.Categories) > 0 {
		s.Category = f.Categories[0]
	}
	if it := f.ITunesExt; it != nil {
		if s.Author == "" {
			s.Author = it.Author
		}
		if s.ImageURL == "" {
			s.ImageURL = it.Image
		}
		if len(it.Categories) > 0 && it.Categories[0] != nil {
			s.Category = it.Categories[0].Text
		}
		if it.Explicit != "" {
			s.Explicit = it.Explicit
		}
	}
	s.GUID = podcastGUID(f, feedURL)
	return s
}

// podcastGUID returns the feed's podcast:guid, or derives one from the feed
// URL the way the podcast namespace defines it.
func podcastGUID(f *gofeed.Feed, feedURL string) string {
	if ns, ok := f.Extensions["podcast"]; ok {
		if exts := ns["guid"]; len(exts) > 0 && exts[0].Value != "" {
			return strings.TrimSpace(exts[0].Value)
		}
	}
	return DeriveGUID(feedURL)
}

// DeriveGUID computes the UUIDv5 podcast GUID of a feed URL: scheme and
// trailing slashes are stripped before hashing.
func DeriveGUID(feedURL string) string {
	u := feedURL
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	u = strings.TrimRight(u, "/")
	return uuid.NewSHA1(podcastNamespace, []byte(u)).String()
}
