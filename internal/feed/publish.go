package feed

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"time"
)

// GUIDSuffix marks GUIDs of republished, advert-free feeds and items.
const GUIDSuffix = "-podcast-adblocker"

// Publication describes an advert-free episode uploaded for republishing.
type Publication struct {
	Episode     *Episode
	FeedURL     string // public URL of the rendered feed itself
	AudioURL    string
	AudioLength int64
	Duration    time.Duration
}

type rss struct {
	XMLName     xml.Name   `xml:"rss"`
	Version     string     `xml:"version,attr"`
	XMLNSItunes string     `xml:"xmlns:itunes,attr"`
	XMLNSAtom   string     `xml:"xmlns:atom,attr"`
	XMLNSPod    string     `xml:"xmlns:podcast,attr"`
	Channel     rssChannel `xml:"channel"`
}

type rssChannel struct {
	AtomLink    atomLink     `xml:"atom:link"`
	Title       string       `xml:"title"`
	Description cdata        `xml:"description"`
	Link        string       `xml:"link,omitempty"`
	Language    string       `xml:"language,omitempty"`
	Category    *itunesRef   `xml:"itunes:category,omitempty"`
	Explicit    string       `xml:"itunes:explicit"`
	Image       *itunesImage `xml:"itunes:image,omitempty"`
	Locked      string       `xml:"podcast:locked"`
	GUID        string       `xml:"podcast:guid"`
	Author      cdata        `xml:"itunes:author"`
	Item        rssItem      `xml:"item"`
}

type rssItem struct {
	Title       string       `xml:"title"`
	Enclosure   rssEnclosure `xml:"enclosure"`
	GUID        string       `xml:"guid"`
	Link        string       `xml:"link,omitempty"`
	PubDate     string       `xml:"pubDate,omitempty"`
	Description cdata        `xml:"description"`
	Duration    string       `xml:"itunes:duration"`
	Image       *itunesImage `xml:"itunes:image,omitempty"`
	Explicit    string       `xml:"itunes:explicit"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type itunesRef struct {
	Text string `xml:"text,attr"`
}

type itunesImage struct {
	Href string `xml:"href,attr"`
}

type rssEnclosure struct {
	Length string `xml:"length,attr"`
	Type   string `xml:"type,attr"`
	URL    string `xml:"url,attr"`
}

type cdata struct {
	Text string `xml:",cdata"`
}

// Render produces a single-item RSS document for p. The channel mirrors the
// source show with " - Adblocked" appended to its title and is locked
// against import by other hosts.
func Render(p Publication) ([]byte, error) {
	if p.Episode == nil {
		return nil, fmt.Errorf("feed: render: %w", ErrNoEpisodes)
	}
	ep := p.Episode
	show := ep.Show

	doc := rss{
		Version:     "2.0",
		XMLNSItunes: "http://www.itunes.com/dtds/podcast-1.0.dtd",
		XMLNSAtom:   "http://www.w3.org/2005/Atom",
		XMLNSPod:    "https://podcastindex.org/namespace/1.0",
		Channel: rssChannel{
			AtomLink:    atomLink{Href: p.FeedURL, Rel: "self", Type: "application/rss+xml"},
			Title:       show.Title + " - Adblocked",
			Description: cdata{Text: show.Description},
			Link:        show.Link,
			Language:    show.Language,
			Explicit:    show.Explicit,
			Locked:      "true",
			GUID:        show.GUID + GUIDSuffix,
			Author:      cdata{Text: show.Author},
			Item: rssItem{
				Title: ep.Title,
				Enclosure: rssEnclosure{
					Length: strconv.FormatInt(p.AudioLength, 10),
					Type:   "audio/mpeg",
					URL:    p.AudioURL,
				},
				GUID:        ep.GUID + GUIDSuffix,
				Link:        ep.Link,
				Description: cdata{Text: ep.Description},
				Duration:    strconv.FormatInt(int64(p.Duration/time.Second), 10),
				Explicit:    ep.Explicit,
			},
		},
	}
	if show.Category != "" {
		doc.Channel.Category = &itunesRef{Text: show.Category}
	}
	if show.ImageURL != "" {
		doc.Channel.Image = &itunesImage{Href: show.ImageURL}
	}
	if ep.ImageURL != "" {
		doc.Channel.Item.Image = &itunesImage{Href: ep.ImageURL}
	}
	if ep.Published != nil {
		doc.Channel.Item.PubDate = ep.Published.UTC().Format(time.RFC1123Z)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("feed: render: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
