package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/chaz8081/podcast-zh/internal/errs"
)

// WhisperBackend runs the openai-whisper command-line tool. Each tier maps
// to the whisper model of the same name; the tool downloads weights on
// first use.
type WhisperBackend struct {
	binary   string
	language string
	logger   *slog.Logger
	lookPath func(string) (string, error)
}

// NewWhisperBackend creates a backend that shells out to binary
// ("whisper" when empty).
func NewWhisperBackend(binary, language string, logger *slog.Logger) *WhisperBackend {
	if binary == "" {
		binary = "whisper"
	}
	if language == "" {
		language = "en"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WhisperBackend{
		binary:   binary,
		language: language,
		logger:   logger,
		lookPath: exec.LookPath,
	}
}

// Name implements Backend.
func (b *WhisperBackend) Name() string { return "whisper" }

// Load resolves the whisper executable. The model weights themselves are
// loaded by the tool on each invocation.
func (b *WhisperBackend) Load(_ context.Context, tier Tier) (Model, error) {
	path, err := b.lookPath(b.binary)
	if err != nil {
		return nil, errs.E(errs.ModelUnavailable, op,
			fmt.Errorf("whisper executable %q not found (pip install openai-whisper): %w", b.binary, err))
	}
	return &whisperModel{path: path, tier: tier, language: b.language, logger: b.logger}, nil
}

type whisperModel struct {
	path     string
	tier     Tier
	language string
	logger   *slog.Logger
}

// whisperOutput is the subset of whisper's JSON output we read.
type whisperOutput struct {
	Text     string `json:"text"`
	Segments []struct {
		Text string `json:"text"`
	} `json:"segments"`
}

func (m *whisperModel) Transcribe(ctx context.Context, audioPath string) (string, error) {
	outDir, err := os.MkdirTemp("", "podcast-zh-whisper-*")
	if err != nil {
		return "", errs.E(errs.StorageError, op, err)
	}
	defer func() { _ = os.RemoveAll(outDir) }()

	cmd := exec.CommandContext(ctx, m.path,
		audioPath,
		"--model", string(m.tier),
		"--language", m.language,
		"--output_format", "json",
		"--output_dir", outDir,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	m.logger.Debug("Running whisper", "cmd", cmd.String())
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("whisper %s: %w: %s", m.tier, err, lastLine(stderr.String()))
	}

	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	data, err := os.ReadFile(filepath.Join(outDir, stem+".json"))
	if err != nil {
		return "", fmt.Errorf("reading whisper output: %w", err)
	}

	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decoding whisper output: %w", err)
	}
	if text := strings.TrimSpace(out.Text); text != "" {
		return text, nil
	}
	parts := make([]string, 0, len(out.Segments))
	for _, seg := range out.Segments {
		parts = append(parts, strings.TrimSpace(seg.Text))
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}

func (m *whisperModel) Close() error { return nil }

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
