// Package search locates podcast episodes by keyword.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chaz8081/podcast-zh/internal/errs"
)

const (
	op = "search"

	// MaxResultsLimit is the largest result count a caller may request.
	MaxResultsLimit = 20
)

var (
	ErrEmptyQuery      = errors.New("search query cannot be empty")
	ErrMaxResultsRange = fmt.Errorf("max results must be between 1 and %d", MaxResultsLimit)
)

// Episode is one podcast episode returned by a search.
type Episode struct {
	ID              string    `json:"id,omitempty"`
	Title           string    `json:"title"`
	ShowTitle       string    `json:"show_title"`
	AudioURL        string    `json:"audio_url"`
	DurationMinutes int       `json:"duration_minutes"`
	PublishedAt     time.Time `json:"published_at,omitzero"`
}

// Label is the human-readable "Title – Show" label used in episode pickers.
func (e Episode) Label() string {
	if e.ShowTitle == "" {
		return e.Title
	}
	return e.Title + " – " + e.ShowTitle
}

// BaseName derives a filesystem-friendly name from the episode title:
// spaces and slashes become underscores, truncated to 50 characters.
func (e Episode) BaseName() string {
	name := strings.NewReplacer(" ", "_", "/", "_", "\\", "_").Replace(strings.TrimSpace(e.Title))
	if r := []rune(name); len(r) > 50 {
		name = string(r[:50])
	}
	if name == "" {
		name = "episode"
	}
	return name
}

// Query holds search parameters.
type Query struct {
	Text             string
	MaxResults       int
	MinLengthMinutes int
	SortByDate       bool
	Language         string // optional, e.g. "English"
	Region           string // optional, e.g. "us"
}

// Validate checks the caller-supplied parameters. It never touches the network.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return errs.E(errs.InvalidArgument, op, ErrEmptyQuery)
	}
	if q.MaxResults < 1 || q.MaxResults > MaxResultsLimit {
		return errs.E(errs.InvalidArgument, op, fmt.Errorf("%w, got %d", ErrMaxResultsRange, q.MaxResults))
	}
	if q.MinLengthMinutes < 0 {
		return errs.Errorf(errs.InvalidArgument, op, "min length must be >= 0, got %d", q.MinLengthMinutes)
	}
	return nil
}

// Locator finds episodes.
type Locator interface {
	Search(ctx context.Context, q Query) ([]Episode, error)
}

// EpisodeFinder looks up one episode by its service id.
type EpisodeFinder interface {
	Episode(ctx context.Context, id string) (*Episode, error)
}

// GenreSearcher searches episodes within a genre.
type GenreSearcher interface {
	SearchGenre(ctx context.Context, genre string, maxResults int) ([]Episode, error)
}

func truncate(eps []Episode, max int) []Episode {
	if len(eps) > max {
		return eps[:max]
	}
	return eps
}
