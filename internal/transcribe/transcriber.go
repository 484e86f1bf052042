// Package transcribe provides speech-to-text backends.
//
// Supported backends:
//   - whisper: the local openai-whisper CLI, model chosen by tier (default)
//   - openai: hosted transcription through the OpenAI audio API
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chaz8081/podcast-zh/internal/config"
	"github.com/chaz8081/podcast-zh/internal/errs"
)

const op = "transcribe"

// Tier is a speech-model size. Larger tiers are slower and more accurate.
type Tier string

const (
	TierTiny   Tier = "tiny"
	TierBase   Tier = "base"
	TierSmall  Tier = "small"
	TierMedium Tier = "medium"
	TierLarge  Tier = "large"
)

// Tiers lists the supported tiers from fastest to most accurate.
var Tiers = []Tier{TierTiny, TierBase, TierSmall, TierMedium, TierLarge}

// ParseTier converts a tier name, case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Tiers {
		if t == known {
			return t, nil
		}
	}
	return "", errs.Errorf(errs.InvalidArgument, op, "unknown model tier %q (supported: tiny, base, small, medium, large)", s)
}

// Model is a loaded speech-to-text model.
type Model interface {
	// Transcribe returns the English text spoken in the audio file.
	Transcribe(ctx context.Context, audioPath string) (string, error)
	// Close releases model resources.
	Close() error
}

// Backend loads models for a tier.
type Backend interface {
	Name() string
	Load(ctx context.Context, tier Tier) (Model, error)
}

// New creates a Backend based on the config backend setting. apiKey is
// only used by the openai backend.
func New(cfg *config.TranscribeConfig, apiKey, baseURL string, logger *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case "openai":
		b, err := NewOpenAIBackend(apiKey, baseURL, cfg.OpenAIModel, cfg.Language, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "whisper", "":
		return NewWhisperBackend(cfg.WhisperBinary, cfg.Language, logger), nil
	default:
		return nil, errs.E(errs.ConfigurationError, op,
			fmt.Errorf("unknown backend %q (supported: whisper, openai)", cfg.Backend))
	}
}
