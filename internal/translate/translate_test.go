package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chaz8081/podcast-zh/internal/errs"
	"github.com/chaz8081/podcast-zh/internal/transcribe"
)

// stubChat records requests and returns a canned reply.
type stubChat struct {
	reply string
	err   error
	calls int
	last  openai.ChatCompletionRequest
}

func (s *stubChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	if s.reply == "" {
		return openai.ChatCompletionResponse{}, nil
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleAssistant, Content: s.reply,
		}}},
	}, nil
}

func newStubbed(chat *stubChat) *Translator {
	return NewWithClient(chat, Config{Model: "gpt-4o-mini", Temperature: 0.3, Timeout: 5 * time.Second}, nil)
}

func TestTranslateReturnsServiceText(t *testing.T) {
	chat := &stubChat{reply: "你好世界"}
	got, err := newStubbed(chat).Translate(context.Background(), "hello world", "")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if got != "你好世界" {
		t.Errorf("Translate() = %q, want %q", got, "你好世界")
	}

	if chat.calls != 1 {
		t.Errorf("calls = %d, want 1", chat.calls)
	}
	req := chat.last
	if req.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", req.Model)
	}
	if req.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", req.Temperature)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(req.Messages))
	}
	if req.Messages[0].Role != openai.ChatMessageRoleSystem || req.Messages[0].Content != SystemPrompt {
		t.Errorf("system message = %+v", req.Messages[0])
	}
	if req.Messages[1].Role != openai.ChatMessageRoleUser || req.Messages[1].Content != "hello world" {
		t.Errorf("user message = %+v", req.Messages[1])
	}
}

func TestTranslateModelOverride(t *testing.T) {
	chat := &stubChat{reply: "好"}
	if _, err := newStubbed(chat).Translate(context.Background(), "ok", "gpt-4o"); err != nil {
		t.Fatal(err)
	}
	if chat.last.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", chat.last.Model)
	}
}

func TestTranslateEmptyInputMakesNoRequest(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t"} {
		chat := &stubChat{reply: "不应调用"}
		_, err := newStubbed(chat).Translate(context.Background(), in, "")
		if !errs.Is(err, errs.InvalidArgument) {
			t.Errorf("Translate(%q) error kind = %v, want InvalidArgument", in, errs.KindOf(err))
		}
		if chat.calls != 0 {
			t.Errorf("Translate(%q) made %d requests, want 0", in, chat.calls)
		}
	}
}

func TestTranslateFailures(t *testing.T) {
	tests := []struct {
		name string
		chat *stubChat
	}{
		{"transport error", &stubChat{err: errors.New("connection reset")}},
		{"no choices", &stubChat{}},
		{"blank content", &stubChat{reply: "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newStubbed(tt.chat).Translate(context.Background(), "hello", "")
			if !errs.Is(err, errs.TranslationFailed) {
				t.Errorf("Translate() error kind = %v, want TranslationFailed", errs.KindOf(err))
			}
			if tt.chat.calls != 1 {
				t.Errorf("calls = %d, want exactly 1 (no retries)", tt.chat.calls)
			}
		})
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(Config{}, nil); !errs.Is(err, errs.ConfigurationError) {
		t.Errorf("New() error kind = %v, want ConfigurationError", errs.KindOf(err))
	}
}

func TestTranslateAgainstHTTPService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reply := "睡眠很重要。"
		if req.Messages[len(req.Messages)-1].Content != "Sleep is important." {
			reply = "?"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:      "chatcmpl-1",
			Object:  "chat.completion",
			Model:   req.Model,
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: reply}}},
		})
	}))
	defer srv.Close()

	tr, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini", Temperature: 0.3, Timeout: 5 * time.Second}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got, err := tr.TranslateTranscript(context.Background(), &transcribe.Transcript{Text: "Sleep is important."}, "")
	if err != nil {
		t.Fatalf("TranslateTranscript() error = %v", err)
	}
	if got.Text != "睡眠很重要。" || got.SourceText != "Sleep is important." || got.Model != "gpt-4o-mini" {
		t.Errorf("Translation = %+v", got)
	}
}

func TestTranslateFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "transcript.txt")
	out := filepath.Join(dir, "out", "transcript_zh.txt")
	if err := os.WriteFile(in, []byte("Good morning."), 0644); err != nil {
		t.Fatal(err)
	}

	chat := &stubChat{reply: "早上好。"}
	if err := newStubbed(chat).TranslateFile(context.Background(), in, out, ""); err != nil {
		t.Fatalf("TranslateFile() error = %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "早上好。" {
		t.Errorf("output = %q", got)
	}

	err = newStubbed(chat).TranslateFile(context.Background(), filepath.Join(dir, "missing.txt"), out, "")
	if !errs.Is(err, errs.NotFound) {
		t.Errorf("TranslateFile(missing) error kind = %v, want NotFound", errs.KindOf(err))
	}
}
