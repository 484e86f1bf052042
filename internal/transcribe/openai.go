package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chaz8081/podcast-zh/internal/errs"
)

// OpenAIBackend transcribes through the hosted OpenAI audio API. The
// hosted service has a single model, so every tier maps to it.
type OpenAIBackend struct {
	client   *openai.Client
	model    string
	language string
	logger   *slog.Logger
}

// NewOpenAIBackend creates a hosted backend. baseURL may be empty.
func NewOpenAIBackend(apiKey, baseURL, model, language string, logger *slog.Logger) (*OpenAIBackend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errs.E(errs.ConfigurationError, op,
			errors.New("OpenAI API key is required for the openai backend (set OPENAI_API_KEY)"))
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIBackend{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		language: language,
		logger:   logger,
	}, nil
}

// Name implements Backend.
func (b *OpenAIBackend) Name() string { return "openai" }

// Load implements Backend.
func (b *OpenAIBackend) Load(_ context.Context, tier Tier) (Model, error) {
	if tier != TierSmall {
		b.logger.Debug("Hosted transcription ignores the model tier", "tier", string(tier), "model", b.model)
	}
	return b, nil
}

// Transcribe implements Model.
func (b *OpenAIBackend) Transcribe(ctx context.Context, audioPath string) (string, error) {
	resp, err := b.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    b.model,
		FilePath: audioPath,
		Language: b.language,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Close implements Model.
func (b *OpenAIBackend) Close() error { return nil }
