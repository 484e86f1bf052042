package synthesize

import (
	"context"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chaz8081/podcast-zh/internal/errs"
)

// OpenAI speaks through the OpenAI speech API. Voices are OpenAI voice
// names such as "nova".
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI creates an OpenAI speech backend. baseURL may be empty.
func NewOpenAI(apiKey, baseURL string) (*OpenAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errs.E(errs.ConfigurationError, op,
			errors.New("OpenAI API key is required for the openai speech backend (set OPENAI_API_KEY)"))
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg)}, nil
}

// Name implements Backend.
func (o *OpenAI) Name() string { return "openai" }

// Speak implements Backend.
func (o *OpenAI) Speak(ctx context.Context, req SpeechRequest) (io.ReadCloser, error) {
	model := openai.TTSModel1
	if req.Model != "" && strings.HasPrefix(req.Model, "tts-") {
		model = openai.SpeechModel(req.Model)
	}
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          model,
		Input:          req.Text,
		Voice:          openai.SpeechVoice(req.Voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
