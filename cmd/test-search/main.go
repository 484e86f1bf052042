// Command test-search is a manual test for episode search.
// It prints the results for a query using LISTEN_NOTES_API_KEY, or an RSS
// feed when --feed is given.
//
// Usage:
//
//	go run ./cmd/test-search [--max 5] [--feed url] huberman sleep
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chaz8081/podcast-zh/internal/config"
	"github.com/chaz8081/podcast-zh/internal/search"
)

func main() {
	maxResults := flag.Int("max", 5, "maximum number of results")
	minLength := flag.Int("min-length", 5, "minimum episode length in minutes")
	feed := flag.String("feed", "", "search this RSS feed instead of Listen Notes")
	flag.Parse()

	text := strings.Join(flag.Args(), " ")
	if text == "" {
		text = "huberman sleep"
	}

	_ = config.LoadDotEnv()

	var (
		loc search.Locator
		err error
	)
	if *feed != "" {
		loc, err = search.NewFeedLocator(*feed, 30*time.Second, nil, nil)
	} else {
		loc, err = search.NewClient(search.ClientConfig{
			APIKey: config.LoadCredentials(nil).ListenNotesKey,
		}, nil)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Searching for %q...\n", text)
	eps, err := loc.Search(context.Background(), search.Query{
		Text:             text,
		MaxResults:       *maxResults,
		MinLengthMinutes: *minLength,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if len(eps) == 0 {
		fmt.Println("No episodes found.")
		return
	}

	for i, ep := range eps {
		fmt.Printf("[%d] %s (%d min)\n    %s\n", i, ep.Label(), ep.DurationMinutes, ep.AudioURL)
	}
	fmt.Println("\nDone!")
}
