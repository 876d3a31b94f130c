// Package notify pushes alarm explanations to an ntfy-style notification channel.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/your-org/blipguard/pkg/errors"
)

// Config configures the ntfy notifier.
type Config struct {
	BaseURL    string
	Channel    string
	Priority   string
	Tags       string
	Token      string
	HTTPClient *http.Client
}

// Notifier posts markdown messages to <BaseURL>/<Channel>.
type Notifier struct {
	url      string
	priority string
	tags     string
	token    string
	client   *http.Client
}

// New constructs a Notifier.
func New(cfg Config) (*Notifier, error) {
	if cfg.Channel == "" {
		return nil, apperrors.New(apperrors.KindConfig, "notify.new", "notification channel is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://ntfy.sh"
	}
	if cfg.Priority == "" {
		cfg.Priority = "5"
	}
	if cfg.Tags == "" {
		cfg.Tags = "rotating_light"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Notifier{
		url:      strings.TrimSuffix(cfg.BaseURL, "/") + "/" + strings.TrimPrefix(cfg.Channel, "/"),
		priority: cfg.Priority,
		tags:     cfg.Tags,
		token:    cfg.Token,
		client:   cfg.HTTPClient,
	}, nil
}

// FormatAlert renders the explanation the way owners receive it.
func FormatAlert(explanation string) string {
	return fmt.Sprintf("**Something suspicious has been detected.**\n\nBlip guard explanation:\n\n%s", explanation)
}

// Notify sends the explanation to the channel.
func (n *Notifier) Notify(ctx context.Context, explanation string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, strings.NewReader(FormatAlert(explanation)))
	if err != nil {
		return apperrors.Wrap(apperrors.KindNotification, "notify.post", "build request", err)
	}
	req.Header.Set("Priority", n.priority)
	req.Header.Set("Tags", n.tags)
	req.Header.Set("Markdown", "yes")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindNotification, "notify.post", "send notification", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.New(apperrors.KindNotification, "notify.post", fmt.Sprintf("notification channel returned %s", resp.Status))
	}
	return nil
}
