package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/podcast-zh/internal/errs"
)

// Transcript is the English text recognized from one audio file.
type Transcript struct {
	Text            string `json:"text"`
	SourceAudioPath string `json:"source_audio_path"`
	Tier            Tier   `json:"tier"`
	SidePath        string `json:"side_path,omitempty"` // set when the side file was written
}

// Options configures a Transcriber.
type Options struct {
	WriteSideFile bool
	Logger        *slog.Logger
}

// Transcriber runs a Backend and caches one loaded model per tier.
// It is safe for concurrent use.
type Transcriber struct {
	backend       Backend
	writeSideFile bool
	logger        *slog.Logger

	mu     sync.Mutex
	models map[Tier]Model
}

// NewTranscriber creates a Transcriber over backend.
func NewTranscriber(backend Backend, opts Options) *Transcriber {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcriber{
		backend:       backend,
		writeSideFile: opts.WriteSideFile,
		logger:        logger.With("component", "transcribe", "backend", backend.Name()),
		models:        make(map[Tier]Model),
	}
}

// TranscriptPath returns the side-file location for audioPath: the audio
// base name without extension plus "_transcript.txt", in the same directory.
func TranscriptPath(audioPath string) string {
	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	return filepath.Join(filepath.Dir(audioPath), base+"_transcript.txt")
}

// Transcribe converts the speech in audioPath to text with the tier's model.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string, tier Tier) (*Transcript, error) {
	tier, err := ParseTier(string(tier))
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(audioPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errs.E(errs.NotFound, op, err)
		}
		return nil, errs.E(errs.StorageError, op, err)
	}
	if info.IsDir() {
		return nil, errs.Errorf(errs.InvalidArgument, op, "%s is a directory", audioPath)
	}

	logger := t.logger.With("audio", audioPath, "tier", string(tier))

	model, err := t.model(ctx, tier, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Transcribing audio")
	start := time.Now()
	text, err := model.Transcribe(ctx, audioPath)
	if err != nil {
		logger.Error("Transcription failed", "error", err)
		return nil, withKind(errs.TranscriptionFailed, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errs.Errorf(errs.TranscriptionFailed, op, "no speech recognized in %s", audioPath)
	}
	logger.Info("Transcription complete",
		"elapsed", time.Since(start).Round(time.Millisecond),
		"chars", len(text))

	tr := &Transcript{Text: text, SourceAudioPath: audioPath, Tier: tier}
	if t.writeSideFile {
		side := TranscriptPath(audioPath)
		if err := os.WriteFile(side, []byte(text), 0644); err != nil {
			logger.Warn("Failed to write transcript file", "path", side, "error", err)
		} else {
			tr.SidePath = side
			logger.Info("Transcript saved", "path", side)
		}
	}
	return tr, nil
}

func (t *Transcriber) model(ctx context.Context, tier Tier, logger *slog.Logger) (Model, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m, ok := t.models[tier]; ok {
		return m, nil
	}

	logger.Info("Loading speech model")
	start := time.Now()
	m, err := t.backend.Load(ctx, tier)
	if err != nil {
		logger.Error("Failed to load speech model", "error", err)
		return nil, withKind(errs.ModelUnavailable, err)
	}
	logger.Info("Speech model loaded", "elapsed", time.Since(start).Round(time.Millisecond))
	t.models[tier] = m
	return m, nil
}

// Close releases every loaded model.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errList []error
	for tier, m := range t.models {
		if err := m.Close(); err != nil {
			errList = append(errList, err)
		}
		delete(t.models, tier)
	}
	return errors.Join(errList...)
}

// withKind tags err with kind unless a component already classified it.
func withKind(kind errs.Kind, err error) error {
	if errs.KindOf(err) != errs.KindUnknown {
		return err
	}
	return errs.E(kind, op, err)
}
