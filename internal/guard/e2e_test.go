package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/your-org/blipguard/internal/mjpeg"
	"github.com/your-org/blipguard/pkg/classifier"
	"github.com/your-org/blipguard/pkg/cooldown"
	"github.com/your-org/blipguard/pkg/notify"
	"github.com/your-org/blipguard/pkg/report"
	"github.com/your-org/blipguard/pkg/storage/framestore"
)

// stack is a full guard wired to httptest stand-ins for the camera, the vision
// model, the notification channel and the report sink.
type stack struct {
	monitor *Monitor
	source  *Source
	clock   *fakeClock
	dir     string

	alarm atomic.Bool

	mu            sync.Mutex
	reports       []report.Payload
	notifications []*http.Request
	notifyBodies  []string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	s := &stack{clock: newFakeClock(), dir: t.TempDir()}

	camera := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpeg.DefaultBoundary)
		for i := 0; ; i++ {
			body := bytes.Repeat([]byte{0xFF, 0xD8, byte(i)}, 700)
			part := fmt.Sprintf("%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpeg.DefaultBoundary, len(body))
			if _, err := io.WriteString(w, part); err != nil {
				return
			}
			if _, err := w.Write(append(body, '\r', '\n')); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(2 * time.Millisecond):
			}
		}
	}))
	t.Cleanup(camera.Close)

	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string   `json:"role"`
				Content string   `json:"content"`
				Images  []string `json:"images"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		reply := "<think>comparing</think>Nothing changed. " + classifier.ClearMarker
		switch {
		case req.Messages[0].Content == classifier.ExplainPrompt:
			reply = "Someone is standing at the door."
		case s.alarm.Load():
			reply = "A stranger appeared. " + classifier.AlarmMarker
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": reply},
			"done":    true,
		})
	}))
	t.Cleanup(ollama.Close)

	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.notifications = append(s.notifications, r)
		s.notifyBodies = append(s.notifyBodies, string(body))
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ntfy.Close)

	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p report.Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.SecretKey != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		s.reports = append(s.reports, p)
		s.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(sink.Close)

	cls, err := classifier.New(classifier.Config{
		Backend:         classifier.NewOllamaBackend(classifier.BackendConfig{BaseURL: ollama.URL, Model: "qwen3-vl:4b"}),
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("classifier.New: %v", err)
	}
	notifier, err := notify.New(notify.Config{BaseURL: ntfy.URL, Channel: "guard"})
	if err != nil {
		t.Fatalf("notify.New: %v", err)
	}
	reporter, err := report.New(report.Config{URL: sink.URL, SecretKey: "hunter2"})
	if err != nil {
		t.Fatalf("report.New: %v", err)
	}
	frames, err := framestore.New(framestore.Config{Provider: "fs", Dir: s.dir})
	if err != nil {
		t.Fatalf("framestore.New: %v", err)
	}

	s.source = NewSource("porch", mjpeg.StreamURL(camera.URL, mjpeg.DefaultPathSuffix))
	s.monitor, err = NewMonitor(Params{
		Sources:    []*Source{s.source},
		Grabber:    mjpeg.NewGrabber(mjpeg.GrabberConfig{Timeout: 2 * time.Second}),
		Classifier: cls,
		Reporter:   reporter,
		Notifier:   notifier,
		Frames:     frames,
		Cooldowns:  cooldown.NewMemory(),
		Now:        s.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	return s
}

func (s *stack) reportMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.reports))
	for _, p := range s.reports {
		out = append(out, p.Message)
	}
	return out
}

func TestEndToEnd_Clear(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	if got := s.monitor.Pass(ctx)["porch"]; got != OutcomeBaseline {
		t.Fatalf("first pass = %s, want baseline", got)
	}
	if got := s.monitor.Pass(ctx)["porch"]; got != OutcomeClear {
		t.Fatalf("second pass = %s, want clear", got)
	}

	if got := s.reportMessages(); len(got) != 1 || got[0] != report.StatusOK {
		t.Fatalf("reports = %v, want [ok]", got)
	}
	if len(s.notifications) != 0 {
		t.Fatalf("expected no notifications, got %d", len(s.notifications))
	}
	if entries, _ := os.ReadDir(s.dir); len(entries) != 0 {
		t.Fatalf("expected no flagged frames, got %d", len(entries))
	}
}

func TestEndToEnd_Alarm(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	s.monitor.Pass(ctx)
	s.alarm.Store(true)
	if got := s.monitor.Pass(ctx)["porch"]; got != OutcomeAlarm {
		t.Fatalf("second pass = %s, want alarm", got)
	}

	want := []string{report.StatusAlarm, "Someone is standing at the door."}
	if got := s.reportMessages(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("reports = %v, want %v", got, want)
	}

	s.mu.Lock()
	if len(s.notifications) != 1 {
		s.mu.Unlock()
		t.Fatalf("expected one notification, got %d", len(s.notifications))
	}
	n, body := s.notifications[0], s.notifyBodies[0]
	s.mu.Unlock()
	if n.URL.Path != "/guard" || n.Header.Get("Priority") != "5" || n.Header.Get("Markdown") != "yes" {
		t.Fatalf("unexpected notification request %s %v", n.URL.Path, n.Header)
	}
	if body != notify.FormatAlert("Someone is standing at the door.") {
		t.Fatalf("unexpected notification body %q", body)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one flagged frame, got %d (%v)", len(entries), err)
	}

	if until := s.source.CooldownUntil(); !until.After(s.clock.Now()) {
		t.Fatalf("cooldown not in the future: %s", until)
	}
	if got := s.monitor.Pass(ctx)["porch"]; got != OutcomeCooldown {
		t.Fatalf("third pass = %s, want cooldown", got)
	}
}
