package mjpeg

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/your-org/blipguard/pkg/errors"
)

// newCameraServer emulates the camera endpoint: an endless multipart stream.
func newCameraServer(t *testing.T, bodies [][]byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var connections atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/cam.mjpg", func(w http.ResponseWriter, r *http.Request) {
		connections.Add(1)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+DefaultBoundary)
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)

		for i := 0; ; i++ {
			var buf bytes.Buffer
			writePart(&buf, bodies[i%len(bodies)], true)
			if _, err := w.Write(buf.Bytes()); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &connections
}

func TestGrabber_GrabsSingleFrame(t *testing.T) {
	bodies := [][]byte{fakeJPEG(21, 2048), fakeJPEG(22, 1024)}
	server, connections := newCameraServer(t, bodies)

	grabber := NewGrabber(GrabberConfig{Client: server.Client(), Timeout: 2 * time.Second})

	frame, err := grabber.Grab(context.Background(), StreamURL(server.URL, DefaultPathSuffix))
	if err != nil {
		t.Fatalf("Grab error: %v", err)
	}
	if !bytes.Equal(frame.Data, bodies[0]) {
		t.Fatalf("frame data mismatch")
	}

	if _, err := grabber.Grab(context.Background(), StreamURL(server.URL, DefaultPathSuffix)); err != nil {
		t.Fatalf("second Grab error: %v", err)
	}
	if got := connections.Load(); got != 2 {
		t.Fatalf("expected one connection per grab, got %d connections", got)
	}
}

func TestGrabber_UnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "camera offline", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	grabber := NewGrabber(GrabberConfig{Client: server.Client()})
	_, err := grabber.Grab(context.Background(), server.URL+DefaultPathSuffix)
	if err == nil {
		t.Fatalf("expected error for non-2xx status")
	}
	if !apperrors.IsKind(err, apperrors.KindConnection) {
		t.Fatalf("expected connection kind, got %s (%v)", apperrors.KindOf(err), err)
	}
}

func TestGrabber_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	grabber := NewGrabber(GrabberConfig{Timeout: time.Second})
	_, err := grabber.Grab(context.Background(), url+DefaultPathSuffix)
	if !apperrors.IsKind(err, apperrors.KindConnection) {
		t.Fatalf("expected connection kind, got %v", err)
	}
}

func TestGrabber_TimesOutOnSilentStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+DefaultBoundary)
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	grabber := NewGrabber(GrabberConfig{Client: server.Client(), Timeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := grabber.Grab(context.Background(), server.URL)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("grab did not abort promptly: %s", elapsed)
	}
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		base, suffix, want string
	}{
		{"http://192.168.178.89:8090", "/cam.mjpg", "http://192.168.178.89:8090/cam.mjpg"},
		{"http://cam.local/", "cam.mjpg", "http://cam.local/cam.mjpg"},
		{"http://cam.local/cam.mjpg", "/cam.mjpg", "http://cam.local/cam.mjpg"},
		{"http://cam.local/stream", "", "http://cam.local/stream"},
	}
	for _, tt := range tests {
		if got := StreamURL(tt.base, tt.suffix); got != tt.want {
			t.Errorf("StreamURL(%q, %q) = %q, want %q", tt.base, tt.suffix, got, tt.want)
		}
	}
}
