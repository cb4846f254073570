package revision

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const prevMetaKey = "Prev-Id"

// MinioStore keeps revisions in an S3-compatible bucket, one object per id.
// The predecessor link travels as object user metadata.
type MinioStore struct {
	client *minio.Client
	bucket string
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (s *MinioStore) revisionLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[id]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[id] = lock
	return lock
}

func (s *MinioStore) GetOrCreate(ctx context.Context, prevID string, payload []byte) (Revision, bool, error) {
	if !ValidID(prevID) {
		return Revision{}, false, fmt.Errorf("invalid prev id %q", prevID)
	}
	id := ComputeID(prevID, payload)

	lock := s.revisionLock(id)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{})
	if err == nil {
		return Revision{ID: id, PrevID: prevID, Payload: payload}, false, nil
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return Revision{}, false, fmt.Errorf("stat revision %s: %w", id, err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, id, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{prevMetaKey: prevID},
	})
	if err != nil {
		return Revision{}, false, fmt.Errorf("put revision %s: %w", id, err)
	}
	return Revision{ID: id, PrevID: prevID, Payload: payload}, true, nil
}

func (s *MinioStore) Load(ctx context.Context, id string) ([]byte, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}
	obj, err := s.client.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get revision %s: %w", id, err)
	}
	defer obj.Close()

	payload, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read revision %s: %w", id, err)
	}
	return payload, nil
}

func (s *MinioStore) Get(ctx context.Context, id string) (Revision, error) {
	return getOne(ctx, s, id)
}

func (s *MinioStore) LoadChain(ctx context.Context, id string) ([]Revision, error) {
	return loadChain(ctx, s, id)
}

func (s *MinioStore) prev(ctx context.Context, id string) (string, error) {
	stat, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat revision %s: %w", id, err)
	}
	prevID, ok := stat.UserMetadata[prevMetaKey]
	if !ok || !ValidID(prevID) {
		return "", fmt.Errorf("%w: revision %s has no predecessor metadata", ErrCorruptChain, id)
	}
	return prevID, nil
}

func (s *MinioStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
