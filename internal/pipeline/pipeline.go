// Package pipeline sequences the localization stages for one episode:
// search, fetch, transcribe, translate and synthesize.
//
// A Pipeline holds no per-run state, so one value may serve many
// concurrent runs. Every run works in its own directory under WorkDir.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/podcast-zh/internal/audio"
	"github.com/chaz8081/podcast-zh/internal/download"
	"github.com/chaz8081/podcast-zh/internal/errs"
	"github.com/chaz8081/podcast-zh/internal/search"
	"github.com/chaz8081/podcast-zh/internal/synthesize"
	"github.com/chaz8081/podcast-zh/internal/transcribe"
	"github.com/chaz8081/podcast-zh/internal/translate"
)

const op = "pipeline"

// Locator finds episodes.
type Locator interface {
	Search(ctx context.Context, q search.Query) ([]search.Episode, error)
}

// Fetcher downloads episode audio.
type Fetcher interface {
	Fetch(ctx context.Context, req download.Request) (*audio.Asset, error)
}

// Transcriber converts audio to English text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, tier transcribe.Tier) (*transcribe.Transcript, error)
}

// Translator converts a transcript to Mandarin.
type Translator interface {
	TranslateTranscript(ctx context.Context, tr *transcribe.Transcript, model string) (*translate.Translation, error)
}

// Synthesizer speaks text into an audio file.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, dest string) (*synthesize.Audio, error)
}

// Stages holds the stage implementations. Locator and Fetcher are only
// required for runs that search or download.
type Stages struct {
	Locator     Locator
	Fetcher     Fetcher
	Transcriber Transcriber
	Translator  Translator
	Synthesizer Synthesizer
}

// Options configures a Pipeline.
type Options struct {
	WorkDir      string
	OutputDir    string
	Tier         transcribe.Tier
	Model        string // translation model; empty uses the translator default
	Voice        string
	ChunkSize    int
	FetchTimeout time.Duration
	Logger       *slog.Logger
}

// Request describes one run. Exactly one of Query, Episode, AudioURL and
// LocalAudio must be set.
type Request struct {
	Query      *search.Query
	Pick       int // index into the search results
	Episode    *search.Episode
	AudioURL   string
	LocalAudio string // caller-owned; never deleted by the run

	OutputPath          string // default <OutputDir>/<name>_zh.wav
	OutputDir           string // overrides Options.OutputDir for default paths
	TranslationTextPath string // when set, the Mandarin text is saved here
	SaveText            bool   // save the text to the default <name>_zh.txt when no path is set
	KeepAudio           bool   // keep the run directory with downloaded audio on success
	Previews            bool   // include transcript and translation in the Result
	Tier                transcribe.Tier
	Voice               string

	Observer Observer
	RunID    string // optional; generated when empty
}

// Validate checks that the request names exactly one usable audio source.
func (r *Request) Validate() error {
	n := 0
	if r.Query != nil {
		n++
	}
	if r.Episode != nil {
		n++
	}
	if strings.TrimSpace(r.AudioURL) != "" {
		n++
	}
	if r.LocalAudio != "" {
		n++
	}
	if n != 1 {
		return errs.Errorf(errs.InvalidArgument, op, "exactly one audio source is required, got %d", n)
	}
	if r.Pick < 0 {
		return errs.Errorf(errs.InvalidArgument, op, "pick must be >= 0, got %d", r.Pick)
	}
	if r.Query != nil {
		return r.Query.Validate()
	}
	if r.Episode != nil && strings.TrimSpace(r.Episode.AudioURL) == "" {
		return errs.E(errs.InvalidArgument, op, errors.New("episode has no audio URL"))
	}
	return nil
}

// Result is the outcome of a run.
type Result struct {
	RunID               string                 `json:"run_id"`
	State               State                  `json:"state"`
	Episode             *search.Episode        `json:"episode,omitempty"`
	Source              *audio.Asset           `json:"source,omitempty"`
	Audio               *synthesize.Audio      `json:"audio,omitempty"`
	Transcript          *transcribe.Transcript `json:"transcript,omitempty"`
	Translation         *translate.Translation `json:"translation,omitempty"`
	TranslationTextPath string                 `json:"translation_text_path,omitempty"`
	Elapsed             time.Duration          `json:"elapsed"`
}

// StageError tags a stage failure with the stage that produced it. The
// wrapped error keeps its kind.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage.Label(), e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage recorded in err, or "" when err is not a
// stage failure.
func FailedStage(err error) State {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Pipeline runs localization requests.
type Pipeline struct {
	stages Stages
	opts   Options
	logger *slog.Logger
}

// New creates a Pipeline.
func New(stages Stages, opts Options) (*Pipeline, error) {
	if stages.Transcriber == nil || stages.Translator == nil || stages.Synthesizer == nil {
		return nil, errs.E(errs.ConfigurationError, op, errors.New("transcriber, translator and synthesizer are required"))
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "podcast-zh")
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.Tier == "" {
		opts.Tier = transcribe.TierSmall
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 8192
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 300 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{stages: stages, opts: opts, logger: logger.With("component", "pipeline")}, nil
}

// run is the mutable state of one invocation.
type run struct {
	id       string
	dir      string
	req      *Request
	obs      Observer
	logger   *slog.Logger
	start    time.Time
	state    State
	result   *Result
	created  []string // files this run created outside dir, removed on failure
	sideFile string
}

func (r *run) emit(e Event) {
	if r.obs != nil {
		r.obs.OnEvent(e)
	}
}

// Run executes req to completion. On failure the returned Result has
// State Failed and the error is a *StageError carrying the stage's kind.
//
// ctx is consulted between stages only: a cancelled context stops the run
// before the next stage begins, never in the middle of one.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := req.RunID
	if id == "" {
		id = uuid.NewString()
	}
	r := &run{
		id:     id,
		dir:    filepath.Join(p.opts.WorkDir, "run-"+id),
		req:    &req,
		obs:    req.Observer,
		logger: p.logger.With("run", id),
		start:  time.Now(),
		state:  Idle,
		result: &Result{RunID: id, State: Idle},
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return nil, errs.E(errs.StorageError, op, fmt.Errorf("creating run dir: %w", err))
	}

	err := p.execute(ctx, r)
	r.result.Elapsed = time.Since(r.start)
	if err != nil {
		stage := r.state
		p.cleanupFailed(r)
		r.result.State = Failed
		serr := &StageError{Stage: stage, Err: err}
		r.logger.Error("Run failed", "stage", string(stage), "kind", errs.KindOf(err).String(), "error", err)
		e := newEvent(id, RunFailed, Failed).withErr(serr)
		e.Stage = stage
		r.emit(e)
		return r.result, serr
	}

	if !req.KeepAudio {
		p.removeRunDir(r)
	} else if r.result.Source != nil && req.LocalAudio == "" {
		r.logger.Info("Keeping downloaded audio", "path", r.result.Source.Path)
	}
	if !req.Previews {
		r.result.Transcript = nil
		r.result.Translation = nil
	}
	r.result.State = Done
	r.logger.Info("Run complete", "output", r.result.Audio.Path, "elapsed", r.result.Elapsed.Round(time.Millisecond))
	r.emit(newEvent(id, RunDone, Done))
	return r.result, nil
}

// enter checks ctx, moves the run into state and announces it.
func (p *Pipeline) enter(ctx context.Context, r *run, state State) error {
	r.state = state
	if err := ctx.Err(); err != nil {
		return errs.E(errs.Canceled, op, err)
	}
	r.result.State = state
	r.logger.Info("Stage started", "stage", string(state))
	r.emit(newEvent(r.id, StageStarted, state))
	return nil
}

func (p *Pipeline) finish(r *run, began time.Time) {
	elapsed := time.Since(began)
	r.logger.Info("Stage finished", "stage", string(r.state), "elapsed", elapsed.Round(time.Millisecond))
	e := newEvent(r.id, StageFinished, r.state)
	e.Elapsed = elapsed
	r.emit(e)
}

func (p *Pipeline) execute(ctx context.Context, r *run) error {
	req := r.req
	// Stages are never interrupted once started.
	sctx := context.WithoutCancel(ctx)

	tier := req.Tier
	if tier == "" {
		tier = p.opts.Tier
	}
	voice := req.Voice
	if voice == "" {
		voice = p.opts.Voice
	}

	episode := req.Episode
	if req.Query != nil {
		if p.stages.Locator == nil {
			r.state = Searching
			return errs.E(errs.ConfigurationError, op, errors.New("no episode locator configured"))
		}
		if err := p.enter(ctx, r, Searching); err != nil {
			return err
		}
		began := time.Now()
		eps, err := p.stages.Locator.Search(sctx, *req.Query)
		if err != nil {
			return err
		}
		if req.Pick >= len(eps) {
			return errs.Errorf(errs.InvalidArgument, op, "no episode %d among %d results for %q", req.Pick, len(eps), req.Query.Text)
		}
		picked := eps[req.Pick]
		episode = &picked
		r.logger.Info("Episode selected", "title", episode.Title, "show", episode.ShowTitle)
		p.finish(r, began)
	}
	r.result.Episode = episode

	audioURL := req.AudioURL
	if episode != nil {
		audioURL = episode.AudioURL
	}

	var source *audio.Asset
	if req.LocalAudio != "" {
		asset, err := audio.Probe(req.LocalAudio)
		if err == nil {
			err = asset.Validate()
		}
		if err != nil {
			r.state = Transcribing
			return err
		}
		source = asset
	} else {
		if p.stages.Fetcher == nil {
			r.state = Fetching
			return errs.E(errs.ConfigurationError, op, errors.New("no audio fetcher configured"))
		}
		if err := p.enter(ctx, r, Fetching); err != nil {
			return err
		}
		began := time.Now()
		asset, err := p.stages.Fetcher.Fetch(sctx, download.Request{
			URL:         audioURL,
			Destination: filepath.Join(r.dir, sourceFileName(episode, audioURL)),
			ChunkSize:   p.opts.ChunkSize,
			Timeout:     p.opts.FetchTimeout,
			Progress: func(pr download.Progress) {
				e := newEvent(r.id, StageProgress, Fetching)
				e.Progress = &pr
				r.emit(e)
			},
		})
		if err != nil {
			return err
		}
		source = asset
		p.finish(r, began)
	}
	r.result.Source = source

	if err := p.enter(ctx, r, Transcribing); err != nil {
		return err
	}
	began := time.Now()
	tr, err := p.stages.Transcriber.Transcribe(sctx, source.Path, tier)
	if err != nil {
		return err
	}
	if tr.SidePath != "" {
		r.sideFile = tr.SidePath
	}
	if strings.TrimSpace(tr.Text) == "" {
		return errs.E(errs.TranscriptionFailed, op, errors.New("empty transcript"))
	}
	r.result.Transcript = tr
	p.finish(r, began)

	if err := p.enter(ctx, r, Translating); err != nil {
		return err
	}
	began = time.Now()
	tl, err := p.stages.Translator.TranslateTranscript(sctx, tr, p.opts.Model)
	if err != nil {
		return err
	}
	if strings.TrimSpace(tl.Text) == "" {
		return errs.E(errs.TranslationFailed, op, errors.New("empty translation"))
	}
	r.result.Translation = tl
	outDir := req.OutputDir
	if outDir == "" {
		outDir = p.opts.OutputDir
	}
	defaultAudio, defaultText := OutputPaths(outDir, outputBaseName(episode, source.Path))
	textPath := req.TranslationTextPath
	if textPath == "" && req.SaveText {
		textPath = defaultText
	}
	if textPath != "" {
		if err := writeText(textPath, tl.Text); err != nil {
			return err
		}
		r.created = append(r.created, textPath)
		r.result.TranslationTextPath = textPath
	}
	p.finish(r, began)

	if err := p.enter(ctx, r, Synthesizing); err != nil {
		return err
	}
	began = time.Now()
	outPath := req.OutputPath
	if outPath == "" {
		outPath = defaultAudio
	}
	out, err := p.stages.Synthesizer.Synthesize(sctx, tl.Text, voice, outPath)
	if err != nil {
		return err
	}
	if out == nil || out.Size <= 0 {
		return errs.E(errs.SynthesisFailed, op, errors.New("synthesizer produced no audio"))
	}
	r.result.Audio = out
	p.finish(r, began)
	return nil
}

// cleanupFailed removes everything the run created: its directory with
// any downloaded audio, the transcript side file and partial outputs.
func (p *Pipeline) cleanupFailed(r *run) {
	for _, f := range append(r.created, r.sideFile) {
		if f == "" {
			continue
		}
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("Failed to remove run artifact", "path", f, "error", err)
		}
	}
	p.removeRunDir(r)
}

func (p *Pipeline) removeRunDir(r *run) {
	if err := os.RemoveAll(r.dir); err != nil {
		r.logger.Warn("Failed to remove run directory", "path", r.dir, "error", err)
	}
}

// writeText writes text to "<p>.part" and renames it onto p, so p is
// either complete or untouched.
func writeText(p, text string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return errs.E(errs.StorageError, op, err)
	}
	tmp := p + ".part"
	if err := os.WriteFile(tmp, []byte(text), 0644); err != nil {
		_ = os.Remove(tmp)
		return errs.E(errs.StorageError, op, fmt.Errorf("writing translation text: %w", err))
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return errs.E(errs.StorageError, op, fmt.Errorf("moving translation text into place: %w", err))
	}
	return nil
}

// sourceFileName names downloaded audio after the episode, keeping the
// extension of the URL path when it is a known format.
func sourceFileName(ep *search.Episode, rawURL string) string {
	name := "episode"
	if ep != nil {
		name = ep.BaseName()
	}
	ext := ".mp3"
	if u, err := url.Parse(rawURL); err == nil {
		if audio.Supported(u.Path) {
			ext = strings.ToLower(path.Ext(u.Path))
		}
	}
	return name + ext
}

// outputBaseName is the episode base name, or the source file stem for
// local audio.
func outputBaseName(ep *search.Episode, sourcePath string) string {
	if ep != nil {
		return ep.BaseName()
	}
	base := filepath.Base(sourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OutputPaths returns the default audio and text output paths for a
// base name, following the <name>_zh.wav / <name>_zh.txt convention.
func OutputPaths(dir, baseName string) (audioPath, textPath string) {
	return filepath.Join(dir, baseName+"_zh.wav"), filepath.Join(dir, baseName+"_zh.txt")
}
