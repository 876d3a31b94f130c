package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config contains the information required to talk to an object store.
type Config struct {
	Provider  string
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Object describes a single upload.
type Object struct {
	Key         string
	ContentType string
	Size        int64
	Metadata    map[string]string
}

// Client represents the capabilities the frame store expects.
type Client interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, obj Object, reader io.Reader) error
	Bucket() string
	Close() error
}

// New creates an object store client based on the given configuration.
func New(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "minio", "s3":
		return newMinioClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported object store provider: %s", cfg.Provider)
	}
}

type minioClient struct {
	client *minio.Client
	bucket string
	region string
}

func newMinioClient(cfg Config) (Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}

	endpoint, secure := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	return &minioClient{client: cl, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// splitEndpoint accepts either host:port or a URL and returns host:port plus TLS flag.
func splitEndpoint(endpoint string, useSSL bool) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), useSSL
	default:
		return strings.TrimSuffix(endpoint, "/"), useSSL
	}
}

func (m *minioClient) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	return nil
}

func (m *minioClient) Put(ctx context.Context, obj Object, reader io.Reader) error {
	opts := minio.PutObjectOptions{
		ContentType:  obj.ContentType,
		UserMetadata: obj.Metadata,
	}
	_, err := m.client.PutObject(ctx, m.bucket, obj.Key, reader, obj.Size, opts)
	return err
}

func (m *minioClient) Bucket() string {
	return m.bucket
}

func (m *minioClient) Close() error {
	return nil
}
