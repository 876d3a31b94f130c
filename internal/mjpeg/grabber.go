package mjpeg

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/your-org/blipguard/pkg/errors"
)

// DefaultPathSuffix is appended to a source base address to reach its MJPEG endpoint.
const DefaultPathSuffix = "/cam.mjpg"

// GrabberConfig configures a Grabber.
type GrabberConfig struct {
	Client    *http.Client
	Extractor *Extractor
	Timeout   time.Duration
	UserAgent string
	Logger    *zap.Logger
}

// Grabber opens one connection per frame: connect, extract, close.
type Grabber struct {
	client    *http.Client
	extractor *Extractor
	timeout   time.Duration
	userAgent string
	logger    *zap.Logger
}

// NewGrabber constructs a Grabber with sane defaults for unset fields.
func NewGrabber(cfg GrabberConfig) *Grabber {
	if cfg.Client == nil {
		// no client-wide timeout; the stream never ends, so the deadline lives on the request context
		cfg.Client = &http.Client{}
	}
	if cfg.Extractor == nil {
		cfg.Extractor = NewExtractor(ExtractorConfig{})
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "blipguard/1.0"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Grabber{
		client:    cfg.Client,
		extractor: cfg.Extractor,
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		logger:    cfg.Logger,
	}
}

// Grab fetches a single frame from the MJPEG endpoint at url.
func (g *Grabber) Grab(ctx context.Context, url string) (*Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConnection, "mjpeg.grab", "build request", err)
	}
	req.Header.Set("User-Agent", g.userAgent)

	g.logger.Debug("opening stream", zap.String("url", url))

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConnection, "mjpeg.grab", "open stream", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, apperrors.New(apperrors.KindConnection, "mjpeg.grab", fmt.Sprintf("unexpected status: %s", resp.Status))
	}

	frame, err := g.extractor.Extract(ctx, resp.Body)
	if err != nil {
		// framing errors keep their kind; timeouts mid-read count as transport failures
		return nil, apperrors.Wrap(apperrors.KindConnection, "mjpeg.grab", "extract frame from "+url, err)
	}
	return frame, nil
}

// StreamURL joins a source base address and a path suffix.
func StreamURL(base, suffix string) string {
	if suffix == "" {
		return base
	}
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(suffix, "/") {
		suffix = "/" + suffix
	}
	if strings.HasSuffix(base, suffix) {
		return base
	}
	return base + suffix
}
