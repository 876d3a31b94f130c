// Package framestore persists flagged frames, either as timestamp-named files in
// a local directory or as objects in a bucket.
package framestore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/your-org/blipguard/pkg/errors"
	"github.com/your-org/blipguard/pkg/storage/objectstore"
)

const timestampLayout = "20060102T150405.000000000Z"

// Record is a frame ready to be written.
type Record struct {
	SourceID    string
	ContentType string
	Extension   string
	Data        []byte
	CapturedAt  time.Time
}

// Store writes records and returns where they ended up.
type Store interface {
	Save(ctx context.Context, rec Record) (string, error)
}

// Config selects the backend.
type Config struct {
	Provider string
	Dir      string
	Prefix   string
	Objects  objectstore.Client
}

// New builds the store named by cfg.Provider.
func New(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "fs", "disk":
		if cfg.Dir == "" {
			return nil, apperrors.New(apperrors.KindConfig, "framestore.new", "frame directory is required")
		}
		return NewDiskStore(cfg.Dir), nil
	case "minio", "s3":
		if cfg.Objects == nil {
			return nil, apperrors.New(apperrors.KindConfig, "framestore.new", "object store client is required")
		}
		return NewObjectStore(cfg.Objects, cfg.Prefix), nil
	default:
		return nil, apperrors.New(apperrors.KindConfig, "framestore.new", "unsupported frame store provider: "+cfg.Provider)
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Name builds the timestamped file name for rec.
func Name(rec Record) string {
	source := rec.SourceID
	if i := strings.Index(source, "://"); i >= 0 {
		source = source[i+3:]
	}
	source = strings.Trim(unsafeChars.ReplaceAllString(source, "_"), "_")
	if source == "" {
		source = "frame"
	}

	ext := strings.TrimPrefix(rec.Extension, ".")
	if ext == "" {
		ext = "jpg"
	}

	at := rec.CapturedAt
	if at.IsZero() {
		at = time.Now()
	}
	return fmt.Sprintf("%s-%s.%s", source, at.UTC().Format(timestampLayout), ext)
}

// DiskStore writes raw frame bytes under a directory, creating it if absent.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

func (s *DiskStore) Save(ctx context.Context, rec Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", apperrors.Wrap(apperrors.KindStorage, "framestore.save", "create frame directory", err)
	}

	path := filepath.Join(s.dir, Name(rec))
	if err := os.WriteFile(path, rec.Data, 0o644); err != nil {
		return "", apperrors.Wrap(apperrors.KindStorage, "framestore.save", "write frame", err)
	}
	return path, nil
}

// ObjectStore uploads frames through an object store client.
type ObjectStore struct {
	client objectstore.Client
	prefix string
}

func NewObjectStore(client objectstore.Client, prefix string) *ObjectStore {
	return &ObjectStore{client: client, prefix: strings.Trim(prefix, "/")}
}

func (s *ObjectStore) Save(ctx context.Context, rec Record) (string, error) {
	key := Name(rec)
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}

	err := s.client.Put(ctx, objectstore.Object{
		Key:         key,
		ContentType: rec.ContentType,
		Size:        int64(len(rec.Data)),
		Metadata: map[string]string{
			"source":      rec.SourceID,
			"captured_at": rec.CapturedAt.UTC().Format(time.RFC3339Nano),
		},
	}, bytes.NewReader(rec.Data))
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindStorage, "framestore.save", "put frame object", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.client.Bucket(), key), nil
}
