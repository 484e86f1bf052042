package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/chaz8081/podcast-zh/internal/audio"
	"github.com/chaz8081/podcast-zh/internal/download"
	"github.com/chaz8081/podcast-zh/internal/errs"
	"github.com/chaz8081/podcast-zh/internal/pipeline"
	"github.com/chaz8081/podcast-zh/internal/publish"
	"github.com/chaz8081/podcast-zh/internal/search"
	"github.com/chaz8081/podcast-zh/internal/transcribe"
)

const writeWait = 10 * time.Second

type episodeJSON struct {
	search.Episode
	Label string `json:"label"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.locator == nil {
		s.writeError(w, errs.E(errs.ConfigurationError, op, errors.New("search is not configured")))
		return
	}
	q, err := s.queryFromValues(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var eps []search.Episode
	if genre := strings.TrimSpace(r.URL.Query().Get("genre")); genre != "" {
		eps, err = s.searchGenre(r, genre, q)
	} else if err = q.Validate(); err == nil {
		eps, err = s.locator.Search(r.Context(), q)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	results := make([]episodeJSON, 0, len(eps))
	for _, e := range eps {
		results = append(results, episodeJSON{Episode: e, Label: e.Label()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// searchGenre serves ?genre=. It cannot be combined with a keyword query.
func (s *Server) searchGenre(r *http.Request, genre string, q search.Query) ([]search.Episode, error) {
	if strings.TrimSpace(q.Text) != "" {
		return nil, errs.E(errs.InvalidArgument, op, errors.New("use either q or genre, not both"))
	}
	gs, ok := s.locator.(search.GenreSearcher)
	if !ok {
		return nil, errs.E(errs.InvalidArgument, op, errors.New("genre search is not supported by this search backend"))
	}
	return gs.SearchGenre(r.Context(), genre, q.MaxResults)
}

func (s *Server) queryFromValues(r *http.Request) (search.Query, error) {
	v := r.URL.Query()
	q := s.cfg.SearchDefaults
	q.Text = v.Get("q")

	ints := []struct {
		name string
		dst  *int
	}{
		{"max", &q.MaxResults},
		{"min_length", &q.MinLengthMinutes},
	}
	for _, p := range ints {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, errs.Errorf(errs.InvalidArgument, op, "%s must be an integer, got %q", p.name, raw)
		}
		*p.dst = n
	}
	if raw := v.Get("sort_by_date"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return q, errs.Errorf(errs.InvalidArgument, op, "sort_by_date must be a boolean, got %q", raw)
		}
		q.SortByDate = b
	}
	if lang := v.Get("language"); lang != "" {
		q.Language = lang
	}
	if region := v.Get("region"); region != "" {
		q.Region = region
	}
	return q, nil
}

// createRunRequest is the body of POST /api/runs. Exactly one of Query,
// Episode, EpisodeID and AudioURL must be set.
type createRunRequest struct {
	Query     string          `json:"query"`
	Pick      int             `json:"pick"`
	Episode   *search.Episode `json:"episode"`
	EpisodeID string          `json:"episode_id"`
	AudioURL  string          `json:"audio_url"`
	KeepAudio bool            `json:"keep_audio"`
	Tier      string          `json:"tier"`
	Voice     string          `json:"voice"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var body createRunRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, errs.E(errs.InvalidArgument, op, fmt.Errorf("decoding request: %w", err)))
		return
	}

	req := pipeline.Request{
		Pick:      body.Pick,
		Episode:   body.Episode,
		AudioURL:  body.AudioURL,
		KeepAudio: body.KeepAudio,
		Voice:     body.Voice,
	}
	if body.Query != "" {
		q := s.cfg.SearchDefaults
		q.Text = body.Query
		req.Query = &q
	}
	if body.Tier != "" {
		tier, err := transcribe.ParseTier(body.Tier)
		if err != nil {
			s.writeError(w, err)
			return
		}
		req.Tier = tier
	}
	if id := strings.TrimSpace(body.EpisodeID); id != "" {
		if req.Episode != nil {
			s.writeError(w, errs.E(errs.InvalidArgument, op, errors.New("use either episode or episode_id, not both")))
			return
		}
		ep, err := s.findEpisode(r, id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		req.Episode = ep
	}

	rr, err := s.start(req, "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": rr.id})
}

// findEpisode resolves an episode id through the search backend before the
// run starts, so an unknown id is reported to the caller directly.
func (s *Server) findEpisode(r *http.Request, id string) (*search.Episode, error) {
	finder, ok := s.locator.(search.EpisodeFinder)
	if !ok {
		return nil, errs.E(errs.ConfigurationError, op, errors.New("episode lookup is not configured"))
	}
	ep, err := finder.Episode(r.Context(), id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Episode resolved", "id", id, "title", ep.Title)
	return ep, nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
				Error: fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxUploadBytes),
				Kind:  errs.InvalidArgument.String(),
			})
			return
		}
		s.writeError(w, errs.E(errs.InvalidArgument, op, fmt.Errorf("parsing upload: %w", err)))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, errs.E(errs.InvalidArgument, op, fmt.Errorf("missing file field: %w", err)))
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !audio.Supported(name) {
		s.writeError(w, errs.Errorf(errs.InvalidArgument, op, "unsupported audio file %q", name))
		return
	}

	dir := filepath.Join(s.cfg.DataDir, "uploads", uuid.NewString())
	dest := filepath.Join(dir, name)
	if _, err := download.Import(file, dest); err != nil {
		os.RemoveAll(dir)
		s.writeError(w, err)
		return
	}

	req := pipeline.Request{LocalAudio: dest, Voice: r.FormValue("voice")}
	if t := r.FormValue("tier"); t != "" {
		tier, err := transcribe.ParseTier(t)
		if err != nil {
			os.RemoveAll(dir)
			s.writeError(w, err)
			return
		}
		req.Tier = tier
	}

	rr, err := s.start(req, dir)
	if err != nil {
		os.RemoveAll(dir)
		s.writeError(w, err)
		return
	}
	s.logger.Info("Upload accepted", "run", rr.id, "file", name, "bytes", header.Size)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": rr.id})
}

type runError struct {
	Stage   pipeline.State `json:"stage,omitempty"`
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
}

type runStatus struct {
	ID          string             `json:"id"`
	State       pipeline.State     `json:"state"`
	Label       string             `json:"label"`
	Created     time.Time          `json:"created"`
	Elapsed     time.Duration      `json:"elapsed,omitempty"`
	Progress    *download.Progress `json:"progress,omitempty"`
	Episode     *search.Episode    `json:"episode,omitempty"`
	Error       *runError          `json:"error,omitempty"`
	Artifacts   []string           `json:"artifacts,omitempty"`
	Transcript  string             `json:"transcript,omitempty"`
	Translation string             `json:"translation,omitempty"`
	Published   []publish.Object   `json:"published,omitempty"`
}

func (rr *runRecord) status() runStatus {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	st := runStatus{ID: rr.id, State: rr.state, Label: rr.state.Label(), Created: rr.created, Published: rr.published}
	if !rr.state.Terminal() {
		st.Elapsed = time.Since(rr.created)
		st.Progress = latestProgress(rr.events.Events())
	}
	if rr.err != nil {
		st.Error = &runError{
			Stage:   pipeline.FailedStage(rr.err),
			Kind:    errs.KindOf(rr.err).String(),
			Message: rr.err.Error(),
		}
	}
	if res := rr.result; res != nil {
		st.Elapsed = res.Elapsed
		st.Episode = res.Episode
		if rr.err == nil && res.Audio != nil {
			st.Artifacts = append(st.Artifacts, "audio")
		}
		if rr.err == nil && res.TranslationTextPath != "" {
			st.Artifacts = append(st.Artifacts, "text")
		}
		if res.Transcript != nil {
			st.Transcript = res.Transcript.Text
		}
		if res.Translation != nil {
			st.Translation = res.Translation.Text
		}
	}
	return st
}

// latestProgress returns the download progress of the current stage, or
// nil once a later stage has started.
func latestProgress(events []pipeline.Event) *download.Progress {
	for i := len(events) - 1; i >= 0; i-- {
		switch e := events[i]; e.Type {
		case pipeline.StageProgress:
			return e.Progress
		case pipeline.StageStarted, pipeline.StageFinished:
			return nil
		}
	}
	return nil
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rr, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, errs.E(errs.NotFound, op, errors.New("no such run")))
		return
	}
	writeJSON(w, http.StatusOK, rr.status())
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rr, ok := s.lookup(vars["id"])
	if !ok {
		s.writeError(w, errs.E(errs.NotFound, op, errors.New("no such run")))
		return
	}

	rr.mu.Lock()
	res := rr.result
	if rr.err != nil {
		res = nil
	}
	rr.mu.Unlock()

	var p string
	switch vars["kind"] {
	case "audio":
		if res != nil && res.Audio != nil {
			p = res.Audio.Path
		}
	case "text":
		if res != nil {
			p = res.TranslationTextPath
		}
	default:
		s.writeError(w, errs.Errorf(errs.InvalidArgument, op, "unknown artifact %q", vars["kind"]))
		return
	}
	if p == "" {
		s.writeError(w, errs.Errorf(errs.NotFound, op, "run has no %s artifact", vars["kind"]))
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(p)))
	http.ServeFile(w, r, p)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rr, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, errs.E(errs.NotFound, op, errors.New("no such run")))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "run", rr.id, "error", err)
		return
	}
	defer conn.Close()

	events, cancel := rr.events.Subscribe()
	defer cancel()

	// Reads only detect the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for e := range events {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(e); err != nil {
			s.logger.Debug("Event stream closed", "run", rr.id, "error", err)
			return
		}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
}

type errorBody struct {
	Error string         `json:"error"`
	Kind  string         `json:"kind"`
	Stage pipeline.State `json:"stage,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(errs.KindOf(err))
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{
		Error: err.Error(),
		Kind:  errs.KindOf(err).String(),
		Stage: pipeline.FailedStage(err),
	})
}

// statusFor maps an error kind to an HTTP status.
func statusFor(k errs.Kind) int {
	switch k {
	case errs.InvalidArgument:
		return http.StatusBadRequest
	case errs.NotFound:
		return http.StatusNotFound
	case errs.UpstreamError, errs.DownloadFailed, errs.ModelUnavailable,
		errs.TranscriptionFailed, errs.TranslationFailed, errs.SynthesisFailed:
		return http.StatusBadGateway
	case errs.Canceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
