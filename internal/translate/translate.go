// Package translate turns English transcripts into Mandarin Chinese with a
// chat-completion model.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chaz8081/podcast-zh/internal/errs"
	"github.com/chaz8081/podcast-zh/internal/transcribe"
)

const op = "translate"

// SystemPrompt instructs the model to act as an English to Mandarin translator.
const SystemPrompt = "You are a professional translator. Translate the following English text into natural, fluent Mandarin Chinese."

// ErrEmptyText is returned for empty or whitespace-only input.
var ErrEmptyText = errors.New("text to translate cannot be empty")

// ChatClient is the subset of *openai.Client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config configures a Translator.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// Translation is Mandarin text produced from a transcript.
type Translation struct {
	Text       string `json:"text"`
	SourceText string `json:"source_text"`
	Model      string `json:"model"`
}

// Translator translates text through a chat-completion service.
type Translator struct {
	client      ChatClient
	model       string
	temperature float32
	timeout     time.Duration
	logger      *slog.Logger
}

// New creates a Translator backed by the OpenAI API.
func New(cfg Config, logger *slog.Logger) (*Translator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errs.E(errs.ConfigurationError, op,
			errors.New("OpenAI API key is required (set OPENAI_API_KEY)"))
	}
	aiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		aiConfig.BaseURL = cfg.BaseURL
	}
	return NewWithClient(openai.NewClientWithConfig(aiConfig), cfg, logger), nil
}

// NewWithClient creates a Translator over an existing client.
func NewWithClient(client ChatClient, cfg Config, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Translator{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
		timeout:     timeout,
		logger:      logger.With("component", "translate"),
	}
}

// Translate returns the Mandarin rendering of text. An empty model selects
// the configured default. Exactly one request is made per call.
func (t *Translator) Translate(ctx context.Context, text, model string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errs.E(errs.InvalidArgument, op, ErrEmptyText)
	}
	if model == "" {
		model = t.model
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	t.logger.Info("Sending translation request", "model", model, "chars", len(text))
	start := time.Now()
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: t.temperature,
	})
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		t.logger.Error("Translation request failed", "elapsed", elapsed, "error", err)
		return "", errs.E(errs.TranslationFailed, op, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		t.logger.Error("Translation response was empty", "elapsed", elapsed)
		return "", errs.E(errs.TranslationFailed, op, errors.New("empty response from translation service"))
	}

	out := resp.Choices[0].Message.Content
	t.logger.Info("Received translation", "elapsed", elapsed, "tokens", resp.Usage.TotalTokens)
	return out, nil
}

// TranslateTranscript translates a transcript's text.
func (t *Translator) TranslateTranscript(ctx context.Context, tr *transcribe.Transcript, model string) (*Translation, error) {
	if tr == nil {
		return nil, errs.E(errs.InvalidArgument, op, errors.New("transcript is nil"))
	}
	text, err := t.Translate(ctx, tr.Text, model)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = t.model
	}
	return &Translation{Text: text, SourceText: tr.Text, Model: model}, nil
}

// TranslateFile reads English text from in, translates it and writes the
// result to out.
func (t *Translator) TranslateFile(ctx context.Context, in, out, model string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errs.E(errs.NotFound, op, fmt.Errorf("input file not found: %s", in))
		}
		return errs.E(errs.StorageError, op, err)
	}

	t.logger.Info("Translating to Chinese", "input", in)
	text, err := t.Translate(ctx, string(data), model)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errs.E(errs.StorageError, op, err)
		}
	}
	if err := os.WriteFile(out, []byte(text), 0644); err != nil {
		return errs.E(errs.StorageError, op, fmt.Errorf("writing %s: %w", out, err))
	}
	t.logger.Info("Translation saved", "path", out)
	return nil
}
