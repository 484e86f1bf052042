// Package server exposes the localization pipeline over HTTP: episode
// search, run submission, file upload, run status, artifact download and
// a WebSocket stream of run events.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/chaz8081/podcast-zh/internal/errs"
	"github.com/chaz8081/podcast-zh/internal/pipeline"
	"github.com/chaz8081/podcast-zh/internal/publish"
	"github.com/chaz8081/podcast-zh/internal/search"
)

const op = "server"

// Runner executes pipeline requests.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Publisher uploads the artifacts of a finished run.
type Publisher interface {
	PublishRun(ctx context.Context, runID string, paths ...string) ([]publish.Object, error)
}

// Config configures a Server.
type Config struct {
	// DataDir holds uploads and per-run outputs.
	DataDir        string
	MaxUploadBytes int64
	// AllowedOrigin is matched against the Origin header of WebSocket
	// requests. Empty allows same-origin only, "*" allows any origin.
	AllowedOrigin string
	// SearchDefaults fills in search parameters the client leaves out.
	SearchDefaults search.Query
	Logger         *slog.Logger
}

// Server is the HTTP front end. Runs are held in memory for the lifetime
// of the process.
type Server struct {
	runner    Runner
	locator   search.Locator
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
	router    *mux.Router
	upgrader  websocket.Upgrader

	// baseCtx is the parent of every run; Shutdown cancels it.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu   sync.RWMutex
	runs map[string]*runRecord
}

// New creates a Server. locator may be nil when search is not configured;
// publisher may be nil to skip publishing.
func New(runner Runner, locator search.Locator, publisher Publisher, cfg Config) (*Server, error) {
	if runner == nil {
		return nil, errs.E(errs.ConfigurationError, op, errors.New("a pipeline runner is required"))
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(os.TempDir(), "podcast-zh-server")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 500 << 20
	}
	if cfg.SearchDefaults.MaxResults == 0 {
		cfg.SearchDefaults.MaxResults = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, errs.E(errs.StorageError, op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:    runner,
		locator:   locator,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("component", "server"),
		baseCtx:   ctx,
		cancel:    cancel,
		runs:      make(map[string]*runRecord),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.handleCreateRun).Methods(http.MethodPost)
	api.HandleFunc("/uploads", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/artifacts/{kind}", s.handleArtifact).Methods(http.MethodGet)
	return r
}

// Shutdown stops new stages from starting and waits for running pipelines
// to reach a stage boundary, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	switch s.cfg.AllowedOrigin {
	case "*":
		return true
	case "":
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	default:
		return origin == "" || origin == s.cfg.AllowedOrigin
	}
}

// runRecord is the server's view of one run.
type runRecord struct {
	id      string
	created time.Time
	events  *pipeline.Broadcaster
	upload  string // server-owned upload dir, removed when the run ends

	mu        sync.Mutex
	state     pipeline.State
	result    *pipeline.Result
	err       error
	published []publish.Object
}

// OnEvent tracks the current stage. The terminal state is set once the
// result is stored.
func (rr *runRecord) OnEvent(e pipeline.Event) {
	if e.Type != pipeline.StageStarted {
		return
	}
	rr.mu.Lock()
	rr.state = e.State
	rr.mu.Unlock()
}

func (s *Server) lookup(id string) (*runRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rr, ok := s.runs[id]
	return rr, ok
}

// start registers req and runs it on its own goroutine. req is validated
// first so bad input is reported synchronously.
func (s *Server) start(req pipeline.Request, upload string) (*runRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.baseCtx.Err() != nil {
		return nil, errs.E(errs.Canceled, op, errors.New("server is shutting down"))
	}

	id := uuid.NewString()
	rr := &runRecord{
		id:      id,
		created: time.Now(),
		events:  pipeline.NewBroadcaster(),
		upload:  upload,
		state:   pipeline.Idle,
	}
	req.RunID = id
	req.OutputDir = filepath.Join(s.cfg.DataDir, "runs", id)
	req.OutputPath = ""
	req.SaveText = true
	req.Previews = true
	req.Observer = pipeline.Observers(rr, rr.events)

	s.mu.Lock()
	s.runs[id] = rr
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(rr, req)
	}()
	return rr, nil
}

func (s *Server) execute(rr *runRecord, req pipeline.Request) {
	logger := s.logger.With("run", rr.id)
	logger.Info("Run started")

	res, err := s.runner.Run(s.baseCtx, req)

	var published []publish.Object
	if err == nil && s.publisher != nil && res != nil && res.Audio != nil {
		objs, perr := s.publisher.PublishRun(context.WithoutCancel(s.baseCtx), rr.id, res.Audio.Path, res.TranslationTextPath)
		if perr != nil {
			logger.Warn("Publishing artifacts failed", "error", perr)
		}
		published = objs
	}

	if rr.upload != "" {
		if rerr := os.RemoveAll(rr.upload); rerr != nil {
			logger.Warn("Failed to remove upload", "path", rr.upload, "error", rerr)
		}
	}

	if res == nil && err != nil {
		// The pipeline failed before emitting anything; close the stream.
		rr.events.OnEvent(pipeline.Event{
			RunID: rr.id,
			Type:  pipeline.RunFailed,
			State: pipeline.Failed,
			Time:  time.Now(),
			Err:   err,
			Error: err.Error(),
			Kind:  errs.KindOf(err).String(),
		})
	}

	rr.mu.Lock()
	rr.result = res
	rr.err = err
	rr.published = published
	if res != nil {
		rr.state = res.State
	} else if err != nil {
		rr.state = pipeline.Failed
	}
	rr.mu.Unlock()

	if err != nil {
		logger.Error("Run failed", "error", err)
		return
	}
	logger.Info("Run finished", "output", res.Audio.Path)
}
