package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chaz8081/podcast-zh/internal/errs"
)

// DefaultBaseURL is the Listen Notes v2 API root.
const DefaultBaseURL = "https://listen-api.listennotes.com/api/v2"

// ClientConfig configures a Listen Notes client.
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client searches the Listen Notes podcast API.
type Client struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a Listen Notes client. A missing API key is a
// configuration error.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errs.E(errs.ConfigurationError, op,
			errors.New("Listen Notes API key is required (set LISTEN_NOTES_API_KEY)"))
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: base,
		timeout: timeout,
		client:  hc,
		logger:  logger.With("component", "search"),
	}, nil
}

// searchResponse is the subset of the /search payload we read.
type searchResponse struct {
	Results *[]episodeJSON `json:"results"`
}

type episodeJSON struct {
	ID                   string `json:"id"`
	TitleOriginal        string `json:"title_original"`
	PodcastTitleOriginal string `json:"podcast_title_original"`
	Podcast              *struct {
		TitleOriginal string `json:"title_original"`
	} `json:"podcast"`
	Audio          string `json:"audio"`
	AudioLengthSec int    `json:"audio_length_sec"`
	PubDateMS      int64  `json:"pub_date_ms"`
}

func (e episodeJSON) toEpisode() (Episode, error) {
	if strings.TrimSpace(e.TitleOriginal) == "" {
		return Episode{}, errors.New("episode is missing title_original")
	}
	if strings.TrimSpace(e.Audio) == "" {
		return Episode{}, fmt.Errorf("episode %q is missing audio URL", e.TitleOriginal)
	}
	if e.AudioLengthSec < 0 {
		return Episode{}, fmt.Errorf("episode %q has negative audio_length_sec", e.TitleOriginal)
	}
	show := e.PodcastTitleOriginal
	if show == "" && e.Podcast != nil {
		show = e.Podcast.TitleOriginal
	}
	ep := Episode{
		ID:              e.ID,
		Title:           strings.TrimSpace(e.TitleOriginal),
		ShowTitle:       strings.TrimSpace(show),
		AudioURL:        strings.TrimSpace(e.Audio),
		DurationMinutes: e.AudioLengthSec / 60,
	}
	if e.PubDateMS > 0 {
		ep.PublishedAt = time.UnixMilli(e.PubDateMS).UTC()
	}
	return ep, nil
}

// Search queries /search for episodes. Results are truncated to
// q.MaxResults here since the service does not promise to honor the cap.
func (c *Client) Search(ctx context.Context, q Query) ([]Episode, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", strings.TrimSpace(q.Text))
	params.Set("type", "episode")
	params.Set("len_min", strconv.Itoa(q.MinLengthMinutes))
	if q.SortByDate {
		params.Set("sort_by_date", "1")
	} else {
		params.Set("sort_by_date", "0")
	}
	if q.Language != "" {
		params.Set("language", q.Language)
	}
	if q.Region != "" {
		params.Set("region", q.Region)
	}

	c.logger.Info("Searching for podcasts", "query", q.Text, "max", q.MaxResults)

	var resp searchResponse
	if err := c.getJSON(ctx, "/search", params, &resp); err != nil {
		return nil, err
	}
	if resp.Results == nil {
		return nil, errs.E(errs.UpstreamError, op, errors.New("invalid response format: missing results"))
	}

	raw := *resp.Results
	if len(raw) > q.MaxResults {
		raw = raw[:q.MaxResults]
	}

	episodes := make([]Episode, 0, len(raw))
	for i, r := range raw {
		ep, err := r.toEpisode()
		if err != nil {
			return nil, errs.E(errs.UpstreamError, op, fmt.Errorf("invalid response format: result %d: %w", i, err))
		}
		episodes = append(episodes, ep)
	}

	c.logger.Info("Found podcast episodes", "count", len(episodes))
	return truncate(episodes, q.MaxResults), nil
}

// SearchGenre searches episodes in a genre, e.g. "Technology".
func (c *Client) SearchGenre(ctx context.Context, genre string, maxResults int) ([]Episode, error) {
	if strings.TrimSpace(genre) == "" {
		return nil, errs.E(errs.InvalidArgument, op, errors.New("genre cannot be empty"))
	}
	return c.Search(ctx, Query{Text: "genre:" + strings.TrimSpace(genre), MaxResults: maxResults})
}

// Episode fetches the detail record of one episode by its Listen Notes id.
func (c *Client) Episode(ctx context.Context, id string) (*Episode, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errs.E(errs.InvalidArgument, op, errors.New("episode id cannot be empty"))
	}

	var raw episodeJSON
	if err := c.getJSON(ctx, "/episodes/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, err
	}
	ep, err := raw.toEpisode()
	if err != nil {
		return nil, errs.E(errs.UpstreamError, op, fmt.Errorf("invalid response format: %w", err))
	}
	return &ep, nil
}

// ValidateKey issues a small probe search to check the API key.
func (c *Client) ValidateKey(ctx context.Context) error {
	params := url.Values{"q": {"test"}, "type": {"episode"}, "len_min": {"1"}}
	var resp searchResponse
	err := c.getJSON(ctx, "/search", params, &resp)
	if err == nil {
		c.logger.Info("API key validated successfully")
	}
	return err
}

// statusError carries a non-2xx HTTP status.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.code)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.code, e.body)
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errs.E(errs.InvalidArgument, op, err)
	}
	req.Header.Set("X-ListenAPI-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("Failed to search podcasts", "error", err)
		return errs.E(errs.UpstreamError, op, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized {
		return errs.E(errs.ConfigurationError, op, errors.New("invalid Listen Notes API key"))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
		c.logger.Error("Failed to search podcasts", "error", err)
		return errs.E(errs.UpstreamError, op, err)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Error("Invalid response format", "error", err)
		return errs.E(errs.UpstreamError, op, fmt.Errorf("invalid response format: %w", err))
	}
	return nil
}
