package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/quant-hpo/pkg/config"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/utils"
)

type fakeStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failures map[string]int
}

func (s *fakeStore) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[key] > 0 {
		s.failures[key]--
		return minio.UploadInfo{}, errors.New("503 slow down")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(data)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	s.objects[bucket+"/"+key] = data
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "__model__"), []byte("graph"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "params"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "params", "conv1.w"), []byte("weights"), 0o644))
	return dir
}

func TestPublish(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{}, failures: map[string]int{"models/best/__model__": 2}}
	p := New(store, "bucket", "models/best", 3, logger.Discard()).WithBackoff(utils.NewConstantBackoff(time.Millisecond))

	keys, err := p.Publish(context.Background(), writeArtifact(t))
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"models/best/__model__", "models/best/params/conv1.w"}, keys)
	assert.Equal(t, []byte("graph"), store.objects["bucket/models/best/__model__"])
	assert.Equal(t, []byte("weights"), store.objects["bucket/models/best/params/conv1.w"])
}

func TestPublishGivesUp(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{}, failures: map[string]int{"__model__": 5}}
	p := New(store, "bucket", "", 2, logger.Discard()).WithBackoff(utils.NewConstantBackoff(time.Millisecond))

	_, err := p.Publish(context.Background(), writeArtifact(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up after 2 attempts")
}

func TestPublishEmptyDir(t *testing.T) {
	p := New(&fakeStore{objects: map[string][]byte{}}, "bucket", "", 1, logger.Discard())
	_, err := p.Publish(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNothingToPublish)

	_, err = p.Publish(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	t.Setenv("QHPO_TEST_ACCESS", "access")
	t.Setenv("QHPO_TEST_SECRET", "secret")
	p, err := NewFromConfig(&config.Publish{
		Endpoint:     "localhost:9000",
		Bucket:       "models",
		Prefix:       "runs/1",
		AccessKeyEnv: "QHPO_TEST_ACCESS",
		SecretKeyEnv: "QHPO_TEST_SECRET",
	}, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "models", p.bucket)
	assert.Equal(t, config.DefaultPublishAttempts, p.attempts)
}
