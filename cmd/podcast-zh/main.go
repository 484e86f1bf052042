package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/podcast-zh/internal/app"
	"github.com/chaz8081/podcast-zh/internal/config"
	"github.com/chaz8081/podcast-zh/internal/errs"
	"github.com/chaz8081/podcast-zh/internal/pipeline"
	"github.com/chaz8081/podcast-zh/internal/transcribe"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/podcast-zh/config.yaml)")
	input := flag.String("input", "huberman_sleep.mp3", "local English audio file")
	query := flag.String("query", "", "search for an episode instead of using -input")
	pick := flag.Int("pick", 0, "index of the search result to localize")
	audioURL := flag.String("url", "", "download episode audio from this URL instead of using -input")
	out := flag.String("out", "", "output audio path (default: <output_dir>/<name>_zh.wav)")
	textOut := flag.String("text-out", "", "also save the Mandarin text here")
	tier := flag.String("tier", "", "speech model tier: tiny, base, small, medium or large")
	keepAudio := flag.Bool("keep-audio", false, "keep downloaded audio after a successful run")
	writeConfig := flag.Bool("write-config", false, "write the default config file and exit")
	translateFile := flag.String("translate-file", "", "translate this English text file to Mandarin and exit")
	flag.Parse()

	if *writeConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("env: %v", err)
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *keepAudio {
		cfg.KeepAudio = true
	}
	if *tier != "" {
		cfg.Transcribe.Tier = *tier
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if *translateFile != "" {
		tr, err := app.NewTranslator(cfg, config.LoadCredentials(nil), logger)
		if err != nil {
			reportFailure(err)
			os.Exit(1)
		}
		path, err := translateTextFile(context.Background(), tr, cfg, *translateFile, *textOut)
		if err != nil {
			reportFailure(err)
			os.Exit(1)
		}
		fmt.Printf("\nMandarin text: %s\n", path)
		return
	}

	req, err := buildRequest(cfg, *input, *query, *pick, *audioURL)
	if err != nil {
		log.Fatalf("%v", err)
	}
	req.OutputPath = *out
	req.TranslationTextPath = *textOut

	printBanner(cfg, req)

	// Signal handling: a signal stops the run before its next stage.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, config.LoadCredentials(nil), logger)
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer a.Close()

	req.Observer = progressLogger(logger)

	start := time.Now()
	res, err := a.Pipeline.Run(ctx, req)
	if err != nil {
		reportFailure(err)
		a.Close()
		os.Exit(1)
	}

	log.Printf("Done in %s", time.Since(start).Round(time.Millisecond))
	fmt.Printf("\nMandarin audio: %s (%d bytes)\n", res.Audio.Path, res.Audio.Size)
	if res.TranslationTextPath != "" {
		fmt.Printf("Mandarin text:  %s\n", res.TranslationTextPath)
	}
	if res.Transcript != nil && res.Transcript.SidePath != "" {
		fmt.Printf("Transcript:     %s\n", res.Transcript.SidePath)
	}
	for _, obj := range a.Publish(context.WithoutCancel(ctx), res, logger) {
		fmt.Printf("Published:      %s\n", obj.URL)
	}
}

// buildRequest picks the audio source from the flags. -query and -url
// take precedence over the default -input file.
func buildRequest(cfg *config.Config, input, query string, pick int, audioURL string) (pipeline.Request, error) {
	req := pipeline.Request{
		KeepAudio: cfg.KeepAudio,
		Previews:  true,
	}
	switch {
	case query != "" && audioURL != "":
		return req, errors.New("use either -query or -url, not both")
	case query != "":
		q := app.SearchDefaults(cfg)
		q.Text = query
		req.Query = &q
		req.Pick = pick
	case audioURL != "":
		req.AudioURL = audioURL
	default:
		req.LocalAudio = input
	}
	if t, err := transcribe.ParseTier(cfg.Transcribe.Tier); err == nil {
		req.Tier = t
	}
	return req, nil
}

type fileTranslator interface {
	TranslateFile(ctx context.Context, in, out, model string) error
}

// translateTextFile translates in to out, defaulting to
// <output_dir>/<name>_zh.txt, and returns the path written.
func translateTextFile(ctx context.Context, tr fileTranslator, cfg *config.Config, in, out string) (string, error) {
	if out == "" {
		base := filepath.Base(in)
		_, out = pipeline.OutputPaths(cfg.OutputDir, strings.TrimSuffix(base, filepath.Ext(base)))
	}
	if err := tr.TranslateFile(ctx, in, out, cfg.Translate.Model); err != nil {
		return "", err
	}
	return out, nil
}

// progressLogger logs stage transitions and download progress in 10%
// steps.
func progressLogger(logger *slog.Logger) pipeline.Observer {
	lastDecile := -1
	return pipeline.ObserverFunc(func(e pipeline.Event) {
		switch e.Type {
		case pipeline.StageStarted:
			log.Printf("%s...", e.State.Label())
			lastDecile = -1
		case pipeline.StageFinished:
			logger.Debug("Stage finished", "stage", string(e.State), "elapsed", e.Elapsed.Round(time.Millisecond))
		case pipeline.StageProgress:
			if e.Progress == nil || e.Progress.Total == 0 {
				return
			}
			if d := int(e.Progress.Percent) / 10; d > lastDecile {
				lastDecile = d
				log.Printf("  downloaded %.0f%% (%d/%d bytes)", e.Progress.Percent, e.Progress.Written, e.Progress.Total)
			}
		}
	})
}

func reportFailure(err error) {
	stage := pipeline.FailedStage(err)
	kind := errs.KindOf(err)
	fmt.Fprintf(os.Stderr, "\nERROR: %v\n", err)

	switch kind {
	case errs.ConfigurationError:
		fmt.Fprintf(os.Stderr, "Check your API keys (%s, %s, %s) or run with -write-config.\n",
			config.EnvListenNotesKey, config.EnvOpenAIKey, config.EnvElevenLabsKey)
	case errs.ModelUnavailable:
		fmt.Fprintln(os.Stderr, "Install the whisper CLI (pip install openai-whisper) or set transcribe.backend to openai.")
	case errs.NotFound:
		switch stage {
		case pipeline.Transcribing:
			fmt.Fprintln(os.Stderr, "Pass an existing audio file with -input, or use -query / -url.")
		case "":
			fmt.Fprintln(os.Stderr, "Check the path passed to -translate-file.")
		}
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the run configuration summary.
func printBanner(cfg *config.Config, req pipeline.Request) {
	fmt.Println("=== podcast-zh ===")
	fmt.Printf("  Source:     %s\n", describeSource(req))
	fmt.Printf("  Speech:     %s (%s)\n", cfg.Transcribe.Backend, cfg.Transcribe.Tier)
	fmt.Printf("  Translate:  %s\n", cfg.Translate.Model)
	fmt.Printf("  Voice:      %s via %s\n", cfg.Synthesize.Voice, cfg.Synthesize.Backend)
	fmt.Printf("  Output dir: %s\n", cfg.OutputDir)
	fmt.Printf("  Log:        %s\n", cfg.LogLevel)
	fmt.Println("==================")
}

func describeSource(req pipeline.Request) string {
	switch {
	case req.Query != nil:
		return fmt.Sprintf("search %q, result #%d", req.Query.Text, req.Pick)
	case req.AudioURL != "":
		return req.AudioURL
	case req.Episode != nil:
		return req.Episode.Label()
	default:
		return req.LocalAudio
	}
}
