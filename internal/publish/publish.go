// Package publish uploads a promoted model directory to S3-compatible storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/GoSim-25-26J-441/quant-hpo/pkg/config"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/utils"
)

// ErrNothingToPublish is returned when the artifact directory has no files
var ErrNothingToPublish = errors.New("nothing to publish")

// ObjectPutter is the subset of *minio.Client used for uploads
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Publisher uploads every file under a directory to bucket/prefix
type Publisher struct {
	client   ObjectPutter
	bucket   string
	prefix   string
	attempts int
	backoff  utils.BackoffStrategy
	logger   *slog.Logger
}

// New creates a publisher over an existing client
func New(client ObjectPutter, bucket, prefix string, attempts int, l *slog.Logger) *Publisher {
	if l == nil {
		l = logger.Component("publish")
	}
	if attempts <= 0 {
		attempts = config.DefaultPublishAttempts
	}
	return &Publisher{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		attempts: attempts,
		backoff:  utils.NewExponentialBackoff(200*time.Millisecond, 5*time.Second, 2, true),
		logger:   l,
	}
}

// NewFromConfig connects to the configured endpoint. Credentials are read
// from the environment variables named in cfg.
func NewFromConfig(cfg *config.Publish, l *slog.Logger) (*Publisher, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(os.Getenv(cfg.AccessKeyEnv), os.Getenv(cfg.SecretKeyEnv), ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return New(client, cfg.Bucket, cfg.Prefix, cfg.Attempts, l), nil
}

// WithBackoff overrides the retry backoff
func (p *Publisher) WithBackoff(b utils.BackoffStrategy) *Publisher {
	p.backoff = b
	return p
}

// Publish uploads the files under dir and returns the object keys written
func (p *Publisher) Publish(ctx context.Context, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNothingToPublish, dir)
	}

	keys := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(dir, f)
		if err != nil {
			return keys, err
		}
		key := path.Join(p.prefix, filepath.ToSlash(rel))
		err = utils.Retry(ctx, p.attempts, p.backoff, func(ctx context.Context) error {
			return p.put(ctx, f, key)
		})
		if err != nil {
			return keys, fmt.Errorf("upload %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	p.logger.Info("published model", "bucket", p.bucket, "prefix", p.prefix, "objects", len(keys))
	return keys, nil
}

func (p *Publisher) put(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = p.client.PutObject(ctx, p.bucket, key, f, st.Size(), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		p.logger.Warn("upload attempt failed", "key", key, "error", err)
	}
	return err
}
