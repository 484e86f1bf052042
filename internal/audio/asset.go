// Package audio describes the local audio files a pipeline run works on.
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/tcolgate/mp3"

	"github.com/chaz8081/podcast-zh/internal/errs"
)

// Format is an audio container format.
type Format string

const (
	FormatMP3     Format = "mp3"
	FormatWAV     Format = "wav"
	FormatM4A     Format = "m4a"
	FormatFLAC    Format = "flac"
	FormatOGG     Format = "ogg"
	FormatUnknown Format = ""
)

// FormatFromPath returns the format implied by the file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "mp3":
		return FormatMP3
	case "wav":
		return FormatWAV
	case "m4a":
		return FormatM4A
	case "flac":
		return FormatFLAC
	case "ogg":
		return FormatOGG
	default:
		return FormatUnknown
	}
}

// Supported reports whether the file extension is an accepted audio format.
func Supported(path string) bool {
	return FormatFromPath(path) != FormatUnknown
}

// Asset is an audio file on local disk.
type Asset struct {
	Path     string        `json:"path"`
	Size     int64         `json:"size"`
	Format   Format        `json:"format"`
	Duration time.Duration `json:"duration"` // zero when unknown
}

// Validate checks that the asset refers to an existing, non-empty file.
func (a *Asset) Validate() error {
	if a == nil || a.Path == "" {
		return errs.E(errs.InvalidArgument, "audio", errors.New("asset path is empty"))
	}
	info, err := os.Stat(a.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errs.E(errs.NotFound, "audio", err)
		}
		return errs.E(errs.StorageError, "audio", err)
	}
	if info.Size() == 0 {
		return errs.Errorf(errs.StorageError, "audio", "%s is empty", a.Path)
	}
	return nil
}

// Probe stats path and returns its Asset. Duration is filled in on a
// best-effort basis for mp3 and wav files.
func Probe(path string) (*Asset, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errs.E(errs.NotFound, "audio", err)
		}
		return nil, errs.E(errs.StorageError, "audio", err)
	}
	if info.IsDir() {
		return nil, errs.Errorf(errs.InvalidArgument, "audio", "%s is a directory", path)
	}

	a := &Asset{
		Path:   path,
		Size:   info.Size(),
		Format: FormatFromPath(path),
	}

	var dur time.Duration
	switch a.Format {
	case FormatMP3:
		dur, err = MP3Duration(path)
	case FormatWAV:
		dur, err = WAVDuration(path)
	}
	if err == nil {
		a.Duration = dur
	}
	return a, nil
}

// MP3Duration sums the duration of every frame in an MP3 file.
func MP3Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	d := mp3.NewDecoder(f)
	var (
		frame   mp3.Frame
		skipped int
		total   time.Duration
	)
	for {
		if err := d.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return 0, fmt.Errorf("decode mp3 frame: %w", err)
		}
		total += frame.Duration()
	}
	return total, nil
}

// WAVDuration reads the duration from a WAV header.
func WAVDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("%s is not a valid WAV file", path)
	}
	return dec.Duration()
}
