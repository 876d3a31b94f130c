// Package report posts guard status messages to the authenticated report sink.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/your-org/blipguard/pkg/errors"
)

const (
	StatusOK    = "ok"
	StatusAlarm = "alarm"
)

// Payload is the body accepted by the report sink.
type Payload struct {
	Message   string `json:"message"`
	SecretKey string `json:"secret_key"`
	Source    string `json:"source,omitempty"`
}

// Config configures the Client.
type Config struct {
	URL        string
	SecretKey  string
	HTTPClient *http.Client
}

// Client posts Payloads to a single report sink endpoint.
type Client struct {
	url       string
	secretKey string
	client    *http.Client
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, apperrors.New(apperrors.KindConfig, "report.new", "report sink url is required")
	}
	if cfg.SecretKey == "" {
		return nil, apperrors.New(apperrors.KindConfig, "report.new", "secret key is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{url: cfg.URL, secretKey: cfg.SecretKey, client: cfg.HTTPClient}, nil
}

// Report sends message on behalf of source.
func (c *Client) Report(ctx context.Context, source, message string) error {
	body, err := json.Marshal(Payload{Message: message, SecretKey: c.secretKey, Source: source})
	if err != nil {
		return apperrors.Wrap(apperrors.KindReport, "report.post", "marshal payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(apperrors.KindReport, "report.post", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindReport, "report.post", "send report", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.New(apperrors.KindReport, "report.post", fmt.Sprintf("report sink returned %s", resp.Status))
	}
	return nil
}
