// Package app builds the pipeline components from configuration. Both the
// command-line runner and the web server start here.
package app

import (
	"context"
	"log/slog"

	"github.com/chaz8081/podcast-zh/internal/config"
	"github.com/chaz8081/podcast-zh/internal/download"
	"github.com/chaz8081/podcast-zh/internal/pipeline"
	"github.com/chaz8081/podcast-zh/internal/publish"
	"github.com/chaz8081/podcast-zh/internal/search"
	"github.com/chaz8081/podcast-zh/internal/synthesize"
	"github.com/chaz8081/podcast-zh/internal/transcribe"
	"github.com/chaz8081/podcast-zh/internal/translate"
)

const userAgent = "podcast-zh/1.0"

// App holds the wired components.
type App struct {
	Pipeline    *pipeline.Pipeline
	Locator     search.Locator
	Transcriber *transcribe.Transcriber
	Translator  *translate.Translator
	Publisher   *publish.Publisher // nil unless publishing is enabled
}

// unavailableLocator reports why search is not usable. Runs that do not
// search never touch it.
type unavailableLocator struct{ err error }

func (u unavailableLocator) Search(context.Context, search.Query) ([]search.Episode, error) {
	return nil, u.err
}

func (u unavailableLocator) SearchGenre(context.Context, string, int) ([]search.Episode, error) {
	return nil, u.err
}

func (u unavailableLocator) Episode(context.Context, string) (*search.Episode, error) {
	return nil, u.err
}

// Build wires every component described by cfg. Services whose
// credentials are missing fail when first used rather than here, except
// for the stages every run needs.
func Build(ctx context.Context, cfg *config.Config, creds config.Credentials, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	locator, err := buildLocator(ctx, cfg, creds, logger)
	if err != nil {
		return nil, err
	}

	backend, err := transcribe.New(&cfg.Transcribe, creds.OpenAIKey, cfg.Translate.BaseURL, logger)
	if err != nil {
		return nil, err
	}
	transcriber := transcribe.NewTranscriber(backend, transcribe.Options{
		WriteSideFile: cfg.Transcribe.WriteSideFile,
		Logger:        logger,
	})

	translator, err := NewTranslator(cfg, creds, logger)
	if err != nil {
		return nil, err
	}

	speech, err := synthesize.NewBackend(&cfg.Synthesize, creds.ElevenLabsKey, creds.OpenAIKey, cfg.Translate.BaseURL)
	if err != nil {
		return nil, err
	}
	synthesizer := synthesize.New(speech, synthesize.Config{
		Model:   cfg.Synthesize.Model,
		Timeout: cfg.Synthesize.Timeout,
	}, logger)

	tier, err := transcribe.ParseTier(cfg.Transcribe.Tier)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(pipeline.Stages{
		Locator:     locator,
		Fetcher:     download.NewFetcher(download.Options{Logger: logger, UserAgent: userAgent}),
		Transcriber: transcriber,
		Translator:  translator,
		Synthesizer: synthesizer,
	}, pipeline.Options{
		WorkDir:      cfg.WorkDir,
		OutputDir:    cfg.OutputDir,
		Tier:         tier,
		Model:        cfg.Translate.Model,
		Voice:        cfg.Synthesize.Voice,
		ChunkSize:    cfg.Fetch.ChunkSizeBytes,
		FetchTimeout: cfg.Fetch.Timeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	a := &App{Pipeline: p, Locator: locator, Transcriber: transcriber, Translator: translator}

	if cfg.Publish.Enabled {
		pub, err := publish.New(publish.Config{
			Endpoint:  cfg.Publish.Endpoint,
			Bucket:    cfg.Publish.Bucket,
			Region:    cfg.Publish.Region,
			UseSSL:    cfg.Publish.UseSSL,
			AccessKey: creds.MinioAccessKey,
			SecretKey: creds.MinioSecretKey,
			Prefix:    cfg.Publish.Prefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := pub.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		a.Publisher = pub
	}
	return a, nil
}

// NewTranslator builds the translation client on its own, for runs that
// only translate text.
func NewTranslator(cfg *config.Config, creds config.Credentials, logger *slog.Logger) (*translate.Translator, error) {
	return translate.New(translate.Config{
		APIKey:      creds.OpenAIKey,
		BaseURL:     cfg.Translate.BaseURL,
		Model:       cfg.Translate.Model,
		Temperature: cfg.Translate.Temperature,
		Timeout:     cfg.Translate.Timeout,
	}, logger)
}

func buildLocator(ctx context.Context, cfg *config.Config, creds config.Credentials, logger *slog.Logger) (search.Locator, error) {
	if cfg.Search.FeedURL != "" {
		return search.NewFeedLocator(cfg.Search.FeedURL, cfg.Search.Timeout, nil, logger)
	}

	client, err := search.NewClient(search.ClientConfig{
		APIKey:  creds.ListenNotesKey,
		BaseURL: cfg.Search.BaseURL,
		Timeout: cfg.Search.Timeout,
	}, logger)
	if err != nil {
		// Runs from a URL or local file work without a search key.
		logger.Warn("Episode search unavailable", "error", err)
		return unavailableLocator{err: err}, nil
	}
	if cfg.Search.ValidateKey {
		if err := client.ValidateKey(ctx); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// Publish uploads a finished run's artifacts when publishing is enabled.
// Failures are logged and never fail the run.
func (a *App) Publish(ctx context.Context, res *pipeline.Result, logger *slog.Logger) []publish.Object {
	if a.Publisher == nil || res == nil || res.Audio == nil {
		return nil
	}
	objs, err := a.Publisher.PublishRun(ctx, res.RunID, res.Audio.Path, res.TranslationTextPath)
	if err != nil {
		logger.Warn("Publishing artifacts failed", "error", err)
	}
	return objs
}

// Close releases loaded speech models.
func (a *App) Close() error {
	if a.Transcriber == nil {
		return nil
	}
	return a.Transcriber.Close()
}

// SearchDefaults returns the configured search parameters with no query text.
func SearchDefaults(cfg *config.Config) search.Query {
	return search.Query{
		MaxResults:       cfg.Search.MaxResults,
		MinLengthMinutes: cfg.Search.MinLengthMinutes,
		SortByDate:       cfg.Search.SortByDate,
		Language:         cfg.Search.Language,
		Region:           cfg.Search.Region,
	}
}

// SearchAvailable reports whether l can actually search.
func SearchAvailable(l search.Locator) bool {
	_, unavailable := l.(unavailableLocator)
	return l != nil && !unavailable
}
