// Command test-voice is a manual test for speech synthesis.
// It speaks a fixed Mandarin sentence into a WAV file using the
// configured voice backend.
//
// Usage:
//
//	go run ./cmd/test-voice [--backend elevenlabs|openai] [--voice id] [--out test_zh.wav]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chaz8081/podcast-zh/internal/config"
	"github.com/chaz8081/podcast-zh/internal/synthesize"
)

func main() {
	cfg := config.Default()
	backendName := flag.String("backend", cfg.Synthesize.Backend, "voice backend: elevenlabs or openai")
	voice := flag.String("voice", cfg.Synthesize.Voice, "voice id")
	out := flag.String("out", "test_zh.wav", "output WAV file")
	flag.Parse()

	text := "你好，欢迎收听中文版播客。"

	_ = config.LoadDotEnv()
	creds := config.LoadCredentials(nil)

	cfg.Synthesize.Backend = *backendName
	if *backendName == "openai" && *voice == config.Default().Synthesize.Voice {
		*voice = "alloy"
		cfg.Synthesize.Model = "tts-1"
	}

	backend, err := synthesize.NewBackend(&cfg.Synthesize, creds.ElevenLabsKey, creds.OpenAIKey, cfg.Translate.BaseURL)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	synth := synthesize.New(backend, synthesize.Config{Model: cfg.Synthesize.Model, Timeout: cfg.Synthesize.Timeout}, nil)

	fmt.Printf("Speaking %q with %s voice %q...\n", text, backend.Name(), *voice)
	start := time.Now()
	a, err := synth.Synthesize(context.Background(), text, *voice, *out)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nDone! Wrote %s (%d bytes) in %s\n", a.Path, a.Size, time.Since(start).Round(time.Millisecond))
}
