// Package publish uploads finished run artifacts to S3-compatible object
// storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/chaz8081/podcast-zh/internal/errs"
)

const op = "publish"

// Config configures a Publisher.
type Config struct {
	Endpoint  string // host[:port], no scheme
	Bucket    string
	Region    string
	UseSSL    bool
	AccessKey string
	SecretKey string
	Prefix    string // prepended to every object key
}

// Object is an uploaded artifact.
type Object struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
}

// Publisher uploads files to one bucket.
type Publisher struct {
	client *minio.Client
	bucket string
	region string
	prefix string
	logger *slog.Logger
}

// New creates a Publisher. Missing credentials are a configuration error.
func New(cfg Config, logger *slog.Logger) (*Publisher, error) {
	switch {
	case cfg.Endpoint == "" || cfg.Bucket == "":
		return nil, errs.E(errs.ConfigurationError, op, errors.New("publish endpoint and bucket are required"))
	case cfg.AccessKey == "" || cfg.SecretKey == "":
		return nil, errs.E(errs.ConfigurationError, op,
			errors.New("object storage credentials are required (set MINIO_ACCESS_KEY and MINIO_SECRET_KEY)"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.E(errs.ConfigurationError, op, fmt.Errorf("creating object storage client: %w", err))
	}
	return &Publisher{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		prefix: cfg.Prefix,
		logger: logger.With("component", "publish", "bucket", cfg.Bucket),
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (p *Publisher) EnsureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return errs.E(errs.UpstreamError, op, fmt.Errorf("checking bucket: %w", err))
	}
	if exists {
		p.logger.Debug("Bucket already exists")
		return nil
	}
	if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region}); err != nil {
		return errs.E(errs.UpstreamError, op, fmt.Errorf("creating bucket: %w", err))
	}
	p.logger.Info("Bucket created")
	return nil
}

// Upload stores localPath under the prefixed objectName.
func (p *Publisher) Upload(ctx context.Context, localPath, objectName string) (Object, error) {
	if _, err := os.Stat(localPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Object{}, errs.E(errs.NotFound, op, err)
		}
		return Object{}, errs.E(errs.StorageError, op, err)
	}

	key := path.Join(strings.TrimSuffix(p.prefix, "/"), objectName)
	key = strings.TrimPrefix(key, "/")

	info, err := p.client.FPutObject(ctx, p.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		p.logger.Error("Upload failed", "key", key, "error", err)
		return Object{}, errs.E(errs.UpstreamError, op, fmt.Errorf("uploading %s: %w", localPath, err))
	}

	u := *p.client.EndpointURL()
	u.Path = "/" + p.bucket + "/" + key
	obj := Object{Bucket: p.bucket, Key: key, URL: u.String(), Size: info.Size}
	p.logger.Info("Uploaded artifact", "key", key, "bytes", info.Size)
	return obj, nil
}

// PublishRun uploads each non-empty path under "<runID>/<file name>".
func (p *Publisher) PublishRun(ctx context.Context, runID string, paths ...string) ([]Object, error) {
	var objects []Object
	for _, lp := range paths {
		if lp == "" {
			continue
		}
		obj, err := p.Upload(ctx, lp, runID+"/"+filepath.Base(lp))
		if err != nil {
			return objects, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
