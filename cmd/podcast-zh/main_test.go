package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chaz8081/podcast-zh/internal/config"
	"github.com/chaz8081/podcast-zh/internal/errs"
	"github.com/chaz8081/podcast-zh/internal/transcribe"
	"github.com/chaz8081/podcast-zh/internal/translate"
)

func TestBuildRequest(t *testing.T) {
	cfg := config.Default()
	cfg.Transcribe.Tier = "medium"

	req, err := buildRequest(cfg, "huberman_sleep.mp3", "", 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if req.LocalAudio != "huberman_sleep.mp3" || req.Query != nil || req.AudioURL != "" {
		t.Errorf("default source = %+v", req)
	}
	if req.Tier != transcribe.TierMedium {
		t.Errorf("Tier = %q, want medium", req.Tier)
	}

	req, err = buildRequest(cfg, "huberman_sleep.mp3", "huberman sleep", 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if req.Query == nil || req.Query.Text != "huberman sleep" || req.Pick != 2 || req.LocalAudio != "" {
		t.Errorf("query source = %+v", req)
	}
	if req.Query.MaxResults != cfg.Search.MaxResults {
		t.Errorf("MaxResults = %d, want config default %d", req.Query.MaxResults, cfg.Search.MaxResults)
	}

	req, err = buildRequest(cfg, "huberman_sleep.mp3", "", 0, "https://cdn.example.com/ep.mp3")
	if err != nil {
		t.Fatal(err)
	}
	if req.AudioURL != "https://cdn.example.com/ep.mp3" || req.LocalAudio != "" {
		t.Errorf("url source = %+v", req)
	}

	if _, err := buildRequest(cfg, "", "sleep", 0, "https://cdn.example.com/ep.mp3"); err == nil {
		t.Error("query and url together should be rejected")
	}
}

type stubChat struct{ model string }

func (s *stubChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.model = req.Model
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "睡眠很重要。"},
	}}}, nil
}

func TestTranslateTextFile(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	cfg.Translate.Model = "gpt-4o"

	in := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(in, []byte("Sleep is important."), 0644); err != nil {
		t.Fatal(err)
	}
	chat := &stubChat{}
	tr := translate.NewWithClient(chat, translate.Config{}, nil)

	got, err := translateTextFile(context.Background(), tr, cfg, in, "")
	if err != nil {
		t.Fatalf("translateTextFile() error = %v", err)
	}
	if want := filepath.Join(cfg.OutputDir, "notes_zh.txt"); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "睡眠很重要。" {
		t.Errorf("text = %q", data)
	}
	if chat.model != "gpt-4o" {
		t.Errorf("model = %q, want configured gpt-4o", chat.model)
	}

	explicit := filepath.Join(t.TempDir(), "out", "zh.txt")
	if got, err := translateTextFile(context.Background(), tr, cfg, in, explicit); err != nil || got != explicit {
		t.Errorf("translateTextFile(explicit) = %q, %v", got, err)
	}

	_, err = translateTextFile(context.Background(), tr, cfg, filepath.Join(t.TempDir(), "missing.txt"), "")
	if !errs.Is(err, errs.NotFound) {
		t.Errorf("missing input error kind = %v, want NotFound", errs.KindOf(err))
	}
}
