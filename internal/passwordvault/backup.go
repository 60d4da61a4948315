package passwordvault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// ErrBackupNotFound is returned by a BackupStore when no object exists at the key
var ErrBackupNotFound = errors.New("backup not found")

// BackupStore is the remote document store holding password backups
type BackupStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// BackupKey returns the document key for a principal's master password
func BackupKey(prefix, principalID string) string {
	return path.Join(prefix, "users", principalID, "passwords", "master")
}

// MemoryBackupStore is an in-process BackupStore used in dev mode and tests
type MemoryBackupStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBackupStore creates an empty in-memory store
func NewMemoryBackupStore() *MemoryBackupStore {
	return &MemoryBackupStore{data: make(map[string][]byte)}
}

// Get returns a copy of the stored bytes
func (m *MemoryBackupStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, ErrBackupNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put stores a copy of data
func (m *MemoryBackupStore) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}

// Delete removes key
func (m *MemoryBackupStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// s3API is the subset of the S3 client used for backups
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3BackupStore keeps password backups in an S3 bucket
type S3BackupStore struct {
	client s3API
	bucket string
}

// NewS3BackupStore loads the default AWS configuration for region and
// returns a store writing to bucket.
func NewS3BackupStore(ctx context.Context, bucket, region string) (*S3BackupStore, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3BackupStore{client: s3.NewFromConfig(awsCfg), bucket: bucket}, nil
}

// Get retrieves an object from S3
func (c *S3BackupStore) Get(ctx context.Context, key string) ([]byte, error) {
	log.Debug().Str("bucket", c.bucket).Str("key", key).Msg("S3 GET")

	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrBackupNotFound
		}
		return nil, fmt.Errorf("S3 GetObject failed: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}
	return data, nil
}

// Put stores an object in S3
func (c *S3BackupStore) Put(ctx context.Context, key string, data []byte) error {
	log.Debug().Str("bucket", c.bucket).Str("key", key).Int("size", len(data)).Msg("S3 PUT")

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject failed: %w", err)
	}
	return nil
}

// Delete removes an object from S3
func (c *S3BackupStore) Delete(ctx context.Context, key string) error {
	log.Debug().Str("bucket", c.bucket).Str("key", key).Msg("S3 DELETE")

	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		return fmt.Errorf("S3 DeleteObject failed: %w", err)
	}
	return nil
}
