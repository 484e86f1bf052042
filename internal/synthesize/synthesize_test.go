package synthesize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chaz8081/podcast-zh/internal/config"
	"github.com/chaz8081/podcast-zh/internal/errs"
)

// stubBackend returns fixed audio bytes.
type stubBackend struct {
	audio []byte
	err   error
	calls int
	last  SpeechRequest
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Speak(_ context.Context, req SpeechRequest) (io.ReadCloser, error) {
	b.calls++
	b.last = req
	if b.err != nil {
		return nil, b.err
	}
	return io.NopCloser(bytes.NewReader(b.audio)), nil
}

// failingReader errors after returning some bytes.
type failingReader struct{ sent bool }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.sent {
		return 0, errors.New("stream reset")
	}
	r.sent = true
	return copy(p, "RIFF"), nil
}

func (r *failingReader) Close() error { return nil }

type streamBackend struct{ rc io.ReadCloser }

func (b streamBackend) Name() string { return "stream" }
func (b streamBackend) Speak(context.Context, SpeechRequest) (io.ReadCloser, error) {
	return b.rc, nil
}

func TestSynthesizeWritesFile(t *testing.T) {
	backend := &stubBackend{audio: bytes.Repeat([]byte{1}, 4000)}
	s := New(backend, Config{Model: "eleven_multilingual_v2", Timeout: 5 * time.Second}, nil)

	dest := filepath.Join(t.TempDir(), "out", "output_zh.wav")
	got, err := s.Synthesize(context.Background(), "你好世界", "voice-1", dest)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if got.Path != dest || got.Size != 4000 {
		t.Errorf("Audio = %+v", got)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 4000 {
		t.Errorf("file size = %d, want 4000", info.Size())
	}
	if backend.last.Model != "eleven_multilingual_v2" || backend.last.Voice != "voice-1" || backend.last.Text != "你好世界" {
		t.Errorf("request = %+v", backend.last)
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Error("temp file should be gone")
	}
}

func TestSynthesizeReplacesExistingFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.wav")

	first := New(&stubBackend{audio: bytes.Repeat([]byte{1}, 5000)}, Config{}, nil)
	if _, err := first.Synthesize(context.Background(), "第一", "v", dest); err != nil {
		t.Fatal(err)
	}
	second := New(&stubBackend{audio: bytes.Repeat([]byte{2}, 1200)}, Config{}, nil)
	if _, err := second.Synthesize(context.Background(), "第二", "v", dest); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 1200 || data[0] != 2 {
		t.Errorf("file has %d bytes starting with %d, want the 1200 bytes of the second call", len(data), data[0])
	}
}

func TestSynthesizeInvalidArguments(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "x.wav")
	tests := []struct {
		name, text, voice, dest string
	}{
		{"empty text", "", "v", dest},
		{"blank text", "  \n", "v", dest},
		{"empty voice", "你好", "", dest},
		{"empty dest", "你好", "v", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &stubBackend{audio: []byte("x")}
			_, err := New(backend, Config{}, nil).Synthesize(context.Background(), tt.text, tt.voice, tt.dest)
			if !errs.Is(err, errs.InvalidArgument) {
				t.Errorf("error kind = %v, want InvalidArgument", errs.KindOf(err))
			}
			if backend.calls != 0 {
				t.Errorf("backend called %d times, want 0", backend.calls)
			}
		})
	}
}

func TestSynthesizeFailuresLeaveNoFile(t *testing.T) {
	tests := []struct {
		name    string
		backend Backend
		want    errs.Kind
	}{
		{"service error", &stubBackend{err: errors.New("quota exceeded")}, errs.SynthesisFailed},
		{"zero bytes", &stubBackend{audio: nil}, errs.SynthesisFailed},
		{"stream reset", streamBackend{rc: &failingReader{}}, errs.SynthesisFailed},
		{"bad key", &stubBackend{err: errs.E(errs.ConfigurationError, "synthesize", errors.New("invalid key"))}, errs.ConfigurationError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "x.wav")
			_, err := New(tt.backend, Config{}, nil).Synthesize(context.Background(), "你好", "v", dest)
			if got := errs.KindOf(err); got != tt.want {
				t.Errorf("error kind = %v, want %v (err=%v)", got, tt.want, err)
			}
			for _, p := range []string{dest, dest + ".part"} {
				if _, err := os.Stat(p); !os.IsNotExist(err) {
					t.Errorf("%s should not exist", p)
				}
			}
		})
	}
}

func TestElevenLabsBackend(t *testing.T) {
	var gotPath, gotKey string
	var gotBody elevenLabsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(bytes.Repeat([]byte{0xff}, 2048))
	}))
	defer srv.Close()

	backend, err := NewElevenLabs("el-key", srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(t.TempDir(), "speech.wav")
	got, err := New(backend, Config{Model: "eleven_multilingual_v2"}, nil).
		Synthesize(context.Background(), "睡眠很重要。", "4VZIsMPtgggwNg7OXbPY", dest)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if got.Size != 2048 {
		t.Errorf("Size = %d, want 2048", got.Size)
	}
	if gotPath != "/v1/text-to-speech/4VZIsMPtgggwNg7OXbPY" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "el-key" {
		t.Errorf("xi-api-key = %q", gotKey)
	}
	if gotBody.Text != "睡眠很重要。" || gotBody.ModelID != "eleven_multilingual_v2" {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestElevenLabsErrors(t *testing.T) {
	tests := []struct {
		status int
		want   errs.Kind
	}{
		{http.StatusUnauthorized, errs.ConfigurationError},
		{http.StatusTooManyRequests, errs.SynthesisFailed},
		{http.StatusInternalServerError, errs.SynthesisFailed},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"detail":"nope"}`, tt.status)
		}))
		backend, _ := NewElevenLabs("k", srv.URL, nil)
		_, err := New(backend, Config{}, nil).Synthesize(context.Background(), "你好", "v", filepath.Join(t.TempDir(), "x.wav"))
		if got := errs.KindOf(err); got != tt.want {
			t.Errorf("status %d: error kind = %v, want %v", tt.status, got, tt.want)
		}
		srv.Close()
	}
}

func TestOpenAIBackend(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF....WAVEfmt "))
	}))
	defer srv.Close()

	backend, err := NewOpenAI("sk-test", srv.URL+"/v1")
	if err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(t.TempDir(), "speech.wav")
	if _, err := New(backend, Config{}, nil).Synthesize(context.Background(), "你好", "nova", dest); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if body["voice"] != "nova" || body["model"] != "tts-1" || body["input"] != "你好" {
		t.Errorf("request body = %v", body)
	}
	data, _ := os.ReadFile(dest)
	if !strings.HasPrefix(string(data), "RIFF") {
		t.Errorf("output = %q", data)
	}
}

func TestNewBackend(t *testing.T) {
	cfg := config.Default().Synthesize

	if _, err := NewBackend(&cfg, "", "", ""); !errs.Is(err, errs.ConfigurationError) {
		t.Errorf("elevenlabs without key: kind = %v, want ConfigurationError", errs.KindOf(err))
	}
	b, err := NewBackend(&cfg, "el", "", "")
	if err != nil || b.Name() != "elevenlabs" {
		t.Errorf("NewBackend(elevenlabs) = %v, %v", b, err)
	}

	cfg.Backend = "openai"
	b, err = NewBackend(&cfg, "", "sk", "")
	if err != nil || b.Name() != "openai" {
		t.Errorf("NewBackend(openai) = %v, %v", b, err)
	}

	cfg.Backend = "say"
	if _, err := NewBackend(&cfg, "el", "sk", ""); !errs.Is(err, errs.ConfigurationError) {
		t.Errorf("unknown backend: kind = %v, want ConfigurationError", errs.KindOf(err))
	}
}
