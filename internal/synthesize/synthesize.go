// Package synthesize renders Mandarin text as spoken audio.
package synthesize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chaz8081/podcast-zh/internal/config"
	"github.com/chaz8081/podcast-zh/internal/errs"
)

const op = "synthesize"

// SpeechRequest is one text-to-speech call.
type SpeechRequest struct {
	Text  string
	Voice string
	Model string
}

// Backend is a text-to-speech service. The returned stream is the encoded
// audio; the caller closes it.
type Backend interface {
	Name() string
	Speak(ctx context.Context, req SpeechRequest) (io.ReadCloser, error)
}

// NewBackend creates the Backend named by cfg.Backend.
func NewBackend(cfg *config.SynthesizeConfig, elevenLabsKey, openAIKey, openAIBaseURL string) (Backend, error) {
	switch cfg.Backend {
	case "elevenlabs", "":
		b, err := NewElevenLabs(elevenLabsKey, cfg.BaseURL, nil)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "openai":
		b, err := NewOpenAI(openAIKey, openAIBaseURL)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, errs.E(errs.ConfigurationError, op,
			fmt.Errorf("unknown backend %q (supported: elevenlabs, openai)", cfg.Backend))
	}
}

// Config configures a Synthesizer.
type Config struct {
	Model   string
	Timeout time.Duration
}

// Audio is a synthesized audio file on local disk.
type Audio struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	Voice string `json:"voice"`
}

// Synthesizer writes speech from a Backend to files.
type Synthesizer struct {
	backend Backend
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Synthesizer over backend.
func New(backend Backend, cfg Config, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Synthesizer{
		backend: backend,
		model:   cfg.Model,
		timeout: timeout,
		logger:  logger.With("component", "synthesize", "backend", backend.Name()),
	}
}

// Synthesize speaks text with voice and writes the audio to dest. An
// existing file at dest is replaced.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice, dest string) (*Audio, error) {
	switch {
	case strings.TrimSpace(text) == "":
		return nil, errs.E(errs.InvalidArgument, op, errors.New("text cannot be empty"))
	case strings.TrimSpace(voice) == "":
		return nil, errs.E(errs.InvalidArgument, op, errors.New("voice cannot be empty"))
	case dest == "":
		return nil, errs.E(errs.InvalidArgument, op, errors.New("output path cannot be empty"))
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, errs.E(errs.StorageError, op, fmt.Errorf("creating output dir: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	logger := s.logger.With("voice", voice, "dest", dest)
	logger.Info("Generating speech", "chars", len(text))
	start := time.Now()

	body, err := s.backend.Speak(ctx, SpeechRequest{Text: text, Voice: voice, Model: s.model})
	if err != nil {
		logger.Error("Speech synthesis failed", "error", err)
		if errs.KindOf(err) == errs.ConfigurationError {
			return nil, err
		}
		return nil, errs.E(errs.SynthesisFailed, op, err)
	}
	defer func() { _ = body.Close() }()

	tmpPath := dest + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return nil, errs.E(errs.StorageError, op, fmt.Errorf("creating temp file: %w", err))
	}

	sw := &sinkWriter{w: out}
	n, copyErr := io.Copy(sw, body)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		removeQuietly(tmpPath)
		switch {
		case sw.err != nil:
			return nil, errs.E(errs.StorageError, op, fmt.Errorf("writing %s: %w", tmpPath, sw.err))
		case copyErr != nil:
			return nil, errs.E(errs.SynthesisFailed, op, fmt.Errorf("reading audio stream: %w", copyErr))
		default:
			return nil, errs.E(errs.StorageError, op, fmt.Errorf("closing %s: %w", tmpPath, closeErr))
		}
	}
	if n == 0 {
		removeQuietly(tmpPath)
		return nil, errs.E(errs.SynthesisFailed, op, errors.New("service returned no audio"))
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		removeQuietly(tmpPath)
		return nil, errs.E(errs.StorageError, op, fmt.Errorf("moving audio into place: %w", err))
	}

	logger.Info("Audio saved", "bytes", n, "elapsed", time.Since(start).Round(time.Millisecond))
	return &Audio{Path: dest, Size: n, Voice: voice}, nil
}

// sinkWriter remembers write errors so they can be told apart from read
// errors on the response stream.
type sinkWriter struct {
	w   io.Writer
	err error
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		s.err = err
	}
	return n, err
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove partial file", "path", path, "error", err)
	}
}
