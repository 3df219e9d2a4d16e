// Package showrss implements a feed source backed by the ShowRSS website,
// which publishes one RSS feed per show at <base>/<show id>.rss.
package showrss

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/tveebot/tracker/pkg/episode"
	"github.com/tveebot/tracker/pkg/errors"
	"github.com/tveebot/tracker/pkg/source"
)

// DefaultBaseURL is the ShowRSS show feed endpoint.
const DefaultBaseURL = "https://showrss.info/show"

// maxFeedSize bounds the feed body read into memory.
const maxFeedSize = 8 << 20

// qualityTags maps the resolution tags ShowRSS appends to titles.
var qualityTags = []struct {
	tag     string
	quality episode.Quality
}{
	{"720p", episode.QualityHD},
	{"1080p", episode.QualityFHD},
}

// Source fetches episode files from ShowRSS.
type Source struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Source) { s.client = client }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) { s.logger = logger }
}

// New creates a ShowRSS source. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, timeout time.Duration, opts ...Option) *Source {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	s := &Source{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ source.FeedSource = (*Source)(nil)

// Fetch downloads and parses the feed of the show with the given ShowRSS ID.
func (s *Source) Fetch(ctx context.Context, showRef string) ([]episode.File, error) {
	feedURL := fmt.Sprintf("%s/%s.rss", s.baseURL, url.PathEscape(showRef))
	s.logger.Debug("showrss_fetch_start", "tvshow_ref", showRef, "url", feedURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("showrss_request_failed", "tvshow_ref", showRef, "error", err)
		return nil, fmt.Errorf("%w: %v", source.ErrConnection, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: ShowRSS returned status %d", source.ErrConnection, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: ShowRSS did not find tvshow with reference %q (status %d)",
			source.ErrNotFound, showRef, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading feed: %v", source.ErrConnection, err)
	}

	files, err := ParseFeed(body)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("showrss_fetch_complete", "tvshow_ref", showRef, "file_count", len(files))
	return files, nil
}

type rssFeed struct {
	XMLName xml.Name    `xml:"rss"`
	Channel *rssChannel `xml:"channel"`
}

type rssChannel struct {
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title *string `xml:"title"`
	Link  *string `xml:"link"`
}

// ParseFeed parses a ShowRSS feed into the episode files it lists.
func ParseFeed(feed []byte) ([]episode.File, error) {
	decoder := xml.NewDecoder(bytes.NewReader(feed))
	decoder.CharsetReader = charset.NewReaderLabel

	var doc rssFeed
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", source.ErrMalformedFeed, err)
	}
	if doc.Channel == nil {
		return nil, fmt.Errorf("%w: missing 'channel' element", source.ErrMalformedFeed)
	}

	files := make([]episode.File, 0, len(doc.Channel.Items))
	for i, item := range doc.Channel.Items {
		if item.Title == nil {
			return nil, fmt.Errorf("%w: item %d is missing 'title'", source.ErrMalformedFeed, i)
		}
		if item.Link == nil {
			return nil, fmt.Errorf("%w: item %d is missing 'link'", source.ErrMalformedFeed, i)
		}
		files = append(files, ParseItem(*item.Title, *item.Link))
	}
	return files, nil
}

// ParseItem builds the episode file for a feed item. A recognised quality
// tag is removed from the title; files without one are SD.
func ParseItem(title, link string) episode.File {
	words := strings.Split(title, " ")
	quality := episode.QualitySD

tags:
	for _, qt := range qualityTags {
		for i, word := range words {
			if word == qt.tag {
				words = append(words[:i], words[i+1:]...)
				quality = qt.quality
				break tags
			}
		}
	}

	return episode.File{
		Title:   strings.Join(words, " "),
		Link:    link,
		Quality: quality,
	}
}
