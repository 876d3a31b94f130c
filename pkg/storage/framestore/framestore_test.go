package framestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/your-org/blipguard/pkg/errors"
	"github.com/your-org/blipguard/pkg/storage/objectstore"
)

func TestName(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.FixedZone("CET", 3600))

	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{"url source", Record{SourceID: "http://192.168.178.89:8090", Extension: "jpg", CapturedAt: at}, "192.168.178.89_8090-20260314T140926.535897932Z.jpg"},
		{"plain id", Record{SourceID: "front-door", Extension: ".png", CapturedAt: at}, "front-door-20260314T140926.535897932Z.png"},
		{"empty id and ext", Record{CapturedAt: at}, "frame-20260314T140926.535897932Z.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Name(tt.rec); got != tt.want {
				t.Fatalf("Name() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDiskStore_CreatesDirectoryAndWritesBytes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "flagged", "frames")
	store, err := New(Config{Provider: "fs", Dir: dir})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	data := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	path, err := store.Save(context.Background(), Record{SourceID: "garage", Extension: "jpg", Data: data, CapturedAt: time.Now()})
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("frame written outside directory: %s", path)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("stored bytes differ")
	}
}

type fakeObjects struct {
	key         string
	contentType string
	data        []byte
	err         error
}

func (f *fakeObjects) EnsureBucket(context.Context) error { return nil }
func (f *fakeObjects) Bucket() string                     { return "guard-frames" }
func (f *fakeObjects) Close() error                       { return nil }

func (f *fakeObjects) Put(ctx context.Context, obj objectstore.Object, reader io.Reader) error {
	if f.err != nil {
		return f.err
	}
	f.key = obj.Key
	f.contentType = obj.ContentType
	f.data, _ = io.ReadAll(reader)
	return nil
}

func TestObjectStore_Save(t *testing.T) {
	objects := &fakeObjects{}
	store, err := New(Config{Provider: "minio", Objects: objects, Prefix: "/alarms/"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ref, err := store.Save(context.Background(), Record{SourceID: "porch", ContentType: "image/jpeg", Extension: "jpg", Data: []byte("jpeg"), CapturedAt: at})
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}

	wantKey := "alarms/porch-20260102T030405.000000000Z.jpg"
	if objects.key != wantKey || ref != "s3://guard-frames/"+wantKey {
		t.Fatalf("unexpected key %q / ref %q", objects.key, ref)
	}
	if objects.contentType != "image/jpeg" || string(objects.data) != "jpeg" {
		t.Fatalf("unexpected upload %+v", objects)
	}

	objects.err = errors.New("bucket gone")
	if _, err := store.Save(context.Background(), Record{SourceID: "porch"}); !apperrors.IsKind(err, apperrors.KindStorage) {
		t.Fatalf("expected storage kind, got %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	for _, cfg := range []Config{{Provider: "fs"}, {Provider: "s3"}, {Provider: "tape", Dir: "x"}} {
		if _, err := New(cfg); !apperrors.IsKind(err, apperrors.KindConfig) {
			t.Errorf("New(%+v) expected config error, got %v", cfg, err)
		}
	}
}
