package search

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/chaz8081/podcast-zh/internal/errs"
)

// FeedLocator searches the episodes of a single show's RSS feed.
type FeedLocator struct {
	feedURL string
	timeout time.Duration
	parser  *gofeed.Parser
	logger  *slog.Logger
}

// NewFeedLocator creates a locator over the RSS feed at feedURL.
func NewFeedLocator(feedURL string, timeout time.Duration, client *http.Client, logger *slog.Logger) (*FeedLocator, error) {
	if strings.TrimSpace(feedURL) == "" {
		return nil, errs.E(errs.ConfigurationError, op, errors.New("feed URL is empty"))
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	parser := gofeed.NewParser()
	if client != nil {
		parser.Client = client
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedLocator{
		feedURL: feedURL,
		timeout: timeout,
		parser:  parser,
		logger:  logger.With("component", "search", "feed", feedURL),
	}, nil
}

// Search fetches the feed and returns items matching q.Text in their
// title or description. Language and Region do not apply to a single feed.
func (l *FeedLocator) Search(ctx context.Context, q Query) ([]Episode, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	feed, err := l.parser.ParseURLWithContext(l.feedURL, ctx)
	if err != nil {
		l.logger.Error("Failed to fetch feed", "error", err)
		return nil, errs.E(errs.UpstreamError, op, err)
	}

	episodes := MatchFeed(feed, q)
	l.logger.Info("Found podcast episodes", "query", q.Text, "count", len(episodes))
	return episodes, nil
}

// MatchFeed filters and orders a parsed feed's items for q.
func MatchFeed(feed *gofeed.Feed, q Query) []Episode {
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	var episodes []Episode
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		haystack := strings.ToLower(item.Title + "\n" + item.Description)
		if !strings.Contains(haystack, needle) {
			continue
		}
		audioURL := enclosureAudio(item)
		if audioURL == "" || strings.TrimSpace(item.Title) == "" {
			continue
		}

		ep := Episode{
			ID:        item.GUID,
			Title:     strings.TrimSpace(item.Title),
			ShowTitle: strings.TrimSpace(feed.Title),
			AudioURL:  audioURL,
		}
		if item.ITunesExt != nil {
			if d, ok := parseITunesDuration(item.ITunesExt.Duration); ok {
				ep.DurationMinutes = int(d / time.Minute)
				if ep.DurationMinutes < q.MinLengthMinutes {
					continue
				}
			}
		}
		if item.PublishedParsed != nil {
			ep.PublishedAt = item.PublishedParsed.UTC()
		}
		episodes = append(episodes, ep)
	}

	if q.SortByDate {
		sort.SliceStable(episodes, func(i, j int) bool {
			return episodes[i].PublishedAt.After(episodes[j].PublishedAt)
		})
	}
	return truncate(episodes, q.MaxResults)
}

func enclosureAudio(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if enc.Type == "" || strings.HasPrefix(enc.Type, "audio/") {
			return enc.URL
		}
	}
	return ""
}

// parseITunesDuration accepts "hh:mm:ss", "mm:ss" or a plain second count.
func parseITunesDuration(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}
	var total int
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second, true
}
