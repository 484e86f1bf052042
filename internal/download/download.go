// Package download materializes remote or uploaded episode audio as local
// files. Bodies are streamed in fixed-size chunks so multi-hundred-megabyte
// episodes never sit in memory, and a failed download never leaves a
// partial file behind.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chaz8081/podcast-zh/internal/audio"
	"github.com/chaz8081/podcast-zh/internal/errs"
)

const (
	op = "download"

	// progressEvery is the number of chunks between progress reports.
	progressEvery = 100
)

// Progress is a best-effort download progress signal.
type Progress struct {
	Written int64   `json:"written"`
	Total   int64   `json:"total"`   // 0 when the server sent no Content-Length
	Percent float64 `json:"percent"` // 0 when Total is unknown
}

// Request describes one fetch.
type Request struct {
	URL         string
	Destination string
	ChunkSize   int
	Timeout     time.Duration
	Progress    func(Progress) // optional
}

// Options configures a Fetcher.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

// Fetcher downloads audio over HTTP.
type Fetcher struct {
	client    *http.Client
	logger    *slog.Logger
	userAgent string
}

// NewFetcher creates a Fetcher. Zero Options are valid.
func NewFetcher(opts Options) *Fetcher {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Podcast hosts chain tracking redirects; allow a few more than usual.
				if len(via) >= 20 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "podcast-zh/1.0"
	}
	return &Fetcher{client: client, logger: logger.With("component", "download"), userAgent: ua}
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.URL) == "":
		return errs.E(errs.InvalidArgument, op, errors.New("source URL cannot be empty"))
	case r.Destination == "":
		return errs.E(errs.InvalidArgument, op, errors.New("destination cannot be empty"))
	case r.ChunkSize <= 0:
		return errs.Errorf(errs.InvalidArgument, op, "chunk size must be > 0, got %d", r.ChunkSize)
	case r.Timeout <= 0:
		return errs.Errorf(errs.InvalidArgument, op, "timeout must be > 0, got %s", r.Timeout)
	}
	return nil
}

// Fetch streams req.URL into req.Destination and returns the resulting asset.
//
// The body is written to "<dest>.part" and renamed onto dest once complete.
// On any failure the partial file is removed before the error is returned.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*audio.Asset, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	logger := f.logger.With("url", req.URL, "dest", req.Destination)

	if err := os.MkdirAll(filepath.Dir(req.Destination), 0755); err != nil {
		return nil, errs.E(errs.StorageError, op, fmt.Errorf("creating destination dir: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, errs.E(errs.InvalidArgument, op, fmt.Errorf("building request: %w", err))
	}
	httpReq.Header.Set("User-Agent", f.userAgent)
	httpReq.Header.Set("Accept", "*/*")

	logger.Info("Starting download")
	start := time.Now()

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, errs.E(errs.DownloadFailed, op, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errs.Errorf(errs.DownloadFailed, op, "HTTP %d from %s", resp.StatusCode, req.URL)
	}

	tmpPath := req.Destination + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return nil, errs.E(errs.StorageError, op, fmt.Errorf("creating temp file: %w", err))
	}

	pw := &progressWriter{
		writer: out,
		total:  resp.ContentLength,
		report: req.Progress,
		logger: logger,
	}

	buf := make([]byte, req.ChunkSize)
	written, copyErr := io.CopyBuffer(pw, onlyReader{resp.Body}, buf)
	closeErr := out.Close()

	if copyErr != nil || closeErr != nil {
		removeQuietly(tmpPath)
		switch {
		case pw.writeErr != nil:
			return nil, errs.E(errs.StorageError, op, fmt.Errorf("writing %s: %w", tmpPath, pw.writeErr))
		case copyErr != nil:
			return nil, errs.E(errs.DownloadFailed, op, fmt.Errorf("reading body: %w", copyErr))
		default:
			return nil, errs.E(errs.StorageError, op, fmt.Errorf("closing %s: %w", tmpPath, closeErr))
		}
	}

	if resp.ContentLength > 0 && written < resp.ContentLength {
		removeQuietly(tmpPath)
		return nil, errs.Errorf(errs.DownloadFailed, op, "short body: got %d of %d bytes", written, resp.ContentLength)
	}

	if err := os.Rename(tmpPath, req.Destination); err != nil {
		removeQuietly(tmpPath)
		return nil, errs.E(errs.StorageError, op, fmt.Errorf("moving file into place: %w", err))
	}

	pw.finish()

	asset, err := audio.Probe(req.Destination)
	if err != nil {
		removeQuietly(req.Destination)
		return nil, err
	}
	if asset.Size == 0 {
		removeQuietly(req.Destination)
		return nil, errs.Errorf(errs.DownloadFailed, op, "empty response body from %s", req.URL)
	}

	logger.Info("Download completed",
		"bytes", asset.Size,
		"duration", time.Since(start).Round(time.Millisecond),
		"audioLength", asset.Duration.Round(time.Second))
	return asset, nil
}

// Import streams src (for example an upload) into dest and returns the
// resulting asset. Like Fetch it writes "<dest>.part" first, and an empty
// source is rejected.
func Import(src io.Reader, dest string) (*audio.Asset, error) {
	if src == nil || dest == "" {
		return nil, errs.E(errs.InvalidArgument, op, errors.New("source and destination are required"))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, errs.E(errs.StorageError, op, fmt.Errorf("creating destination dir: %w", err))
	}

	tmpPath := dest + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return nil, errs.E(errs.StorageError, op, fmt.Errorf("creating temp file: %w", err))
	}
	written, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		removeQuietly(tmpPath)
		if copyErr != nil {
			return nil, errs.E(errs.StorageError, op, fmt.Errorf("copying into %s: %w", dest, copyErr))
		}
		return nil, errs.E(errs.StorageError, op, fmt.Errorf("closing %s: %w", tmpPath, closeErr))
	}
	if written == 0 {
		removeQuietly(tmpPath)
		return nil, errs.E(errs.InvalidArgument, op, errors.New("audio file is empty"))
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		removeQuietly(tmpPath)
		return nil, errs.E(errs.StorageError, op, fmt.Errorf("moving file into place: %w", err))
	}
	return audio.Probe(dest)
}

// progressWriter wraps an io.Writer and reports download progress every
// progressEvery chunks.
type progressWriter struct {
	writer   io.Writer
	total    int64
	written  int64
	chunks   int
	report   func(Progress)
	logger   *slog.Logger
	writeErr error
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if err != nil {
		pw.writeErr = err
		return n, err
	}
	pw.chunks++
	if pw.chunks%progressEvery == 0 {
		pw.emit()
	}
	return n, nil
}

func (pw *progressWriter) progress() Progress {
	p := Progress{Written: pw.written}
	if pw.total > 0 {
		p.Total = pw.total
		p.Percent = float64(pw.written) / float64(pw.total) * 100
	}
	return p
}

func (pw *progressWriter) emit() {
	p := pw.progress()
	if p.Total > 0 {
		pw.logger.Info("Download progress", "percent", fmt.Sprintf("%.1f", p.Percent))
	} else {
		pw.logger.Debug("Download progress", "bytes", p.Written)
	}
	if pw.report != nil {
		pw.report(p)
	}
}

func (pw *progressWriter) finish() {
	if pw.report != nil {
		pw.report(pw.progress())
	}
}

// onlyReader hides WriterTo on the response body so io.CopyBuffer uses
// the caller's chunk-sized buffer.
type onlyReader struct {
	io.Reader
}

func drainAndClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 64<<10))
	_ = rc.Close()
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove partial file", "path", path, "error", err)
	}
}
