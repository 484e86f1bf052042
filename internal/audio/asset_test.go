package audio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/chaz8081/podcast-zh/internal/errs"
)

// writeWAV writes n seconds of 16kHz mono silence.
func writeWAV(t *testing.T, path string, seconds int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           make([]int, 16000*seconds),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode WAV: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close WAV encoder: %v", err)
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"episode.mp3", FormatMP3},
		{"EPISODE.MP3", FormatMP3},
		{"a/b/c.wav", FormatWAV},
		{"x.m4a", FormatM4A},
		{"x.flac", FormatFLAC},
		{"x.ogg", FormatOGG},
		{"x.txt", FormatUnknown},
		{"noext", FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := FormatFromPath(tt.path); got != tt.want {
				t.Errorf("FormatFromPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestProbeWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "two.wav")
	writeWAV(t, path, 2)

	a, err := Probe(path)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if a.Format != FormatWAV {
		t.Errorf("Format = %q, want wav", a.Format)
	}
	if a.Size <= 0 {
		t.Errorf("Size = %d, want > 0", a.Size)
	}
	if a.Duration < 1900*time.Millisecond || a.Duration > 2100*time.Millisecond {
		t.Errorf("Duration = %v, want ~2s", a.Duration)
	}
	if err := a.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestProbeUnparseableMP3KeepsSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.mp3")
	if err := os.WriteFile(path, []byte("not really an mp3"), 0644); err != nil {
		t.Fatal(err)
	}

	a, err := Probe(path)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if a.Size != int64(len("not really an mp3")) {
		t.Errorf("Size = %d", a.Size)
	}
	if a.Duration != 0 {
		t.Errorf("Duration = %v, want 0 for undecodable audio", a.Duration)
	}
}

func TestProbeMissing(t *testing.T) {
	_, err := Probe(filepath.Join(t.TempDir(), "missing.mp3"))
	if !errs.Is(err, errs.NotFound) {
		t.Errorf("Probe() error kind = %v, want NotFound", errs.KindOf(err))
	}
}

func TestValidateEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	a := &Asset{Path: path}
	if err := a.Validate(); err == nil {
		t.Error("Validate() should fail for an empty file")
	}
}
