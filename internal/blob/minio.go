package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"tarpaulin/internal/apierr"
)

// Config locates the bucket holding avatar objects. The bucket must exist;
// provisioning is an operational concern, not this client's.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Prefix    string
}

// Enabled reports whether the configuration names a usable store.
func (cfg Config) Enabled() bool {
	return strings.TrimSpace(cfg.Endpoint) != "" && strings.TrimSpace(cfg.Bucket) != ""
}

// ObjectStore is the subset of the minio client the store uses. The
// *minio.Client satisfies it; tests inject fakes via NewFromStore.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// MinioStore keeps avatar objects in an S3-compatible bucket.
type MinioStore struct {
	store  ObjectStore
	bucket string
	prefix string
}

// NewMinioStore connects to the configured endpoint.
func NewMinioStore(cfg Config) (*MinioStore, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("object storage endpoint and bucket are required")
	}
	client, err := minio.New(strings.TrimSpace(cfg.Endpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}
	return NewFromStore(client, cfg), nil
}

// NewFromStore wraps an existing ObjectStore; tests use it to inject fakes.
func NewFromStore(store ObjectStore, cfg Config) *MinioStore {
	return &MinioStore{store: store, bucket: strings.TrimSpace(cfg.Bucket), prefix: strings.Trim(cfg.Prefix, "/")}
}

func (s *MinioStore) objectName(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func isNoSuchKey(err error) bool {
	response := minio.ToErrorResponse(err)
	return response.Code == "NoSuchKey" || response.Code == "NoSuchBucket"
}

func (s *MinioStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.store.PutObject(ctx, s.bucket, s.objectName(key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return apierr.Wrap(err, apierr.CodeInternal, "store avatar")
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	name := s.objectName(key)
	info, err := s.store.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if isNoSuchKey(err) {
		return nil, "", errNoObject(key)
	}
	if err != nil {
		return nil, "", apierr.Wrap(err, apierr.CodeInternal, "stat avatar")
	}
	object, err := s.store.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", apierr.Wrap(err, apierr.CodeInternal, "fetch avatar")
	}
	defer object.Close()
	data, err := io.ReadAll(object)
	if err != nil {
		return nil, "", apierr.Wrap(err, apierr.CodeInternal, "read avatar")
	}
	return data, info.ContentType, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	name := s.objectName(key)
	if _, err := s.store.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return errNoObject(key)
		}
		return apierr.Wrap(err, apierr.CodeInternal, "stat avatar")
	}
	if err := s.store.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return apierr.Wrap(err, apierr.CodeInternal, "delete avatar")
	}
	return nil
}

func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.store.StatObject(ctx, s.bucket, s.objectName(key), minio.StatObjectOptions{})
	if isNoSuchKey(err) {
		return false, nil
	}
	if err != nil {
		return false, apierr.Wrap(err, apierr.CodeInternal, "stat avatar")
	}
	return true, nil
}

var _ Store = (*MinioStore)(nil)
