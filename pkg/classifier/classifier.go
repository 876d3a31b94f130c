// Package classifier asks a vision model whether a frame differs suspiciously
// from its baseline, and for a short explanation when it does.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	apperrors "github.com/your-org/blipguard/pkg/errors"
)

// Verdict is the classifier's judgement of a frame against its baseline.
type Verdict int

const (
	Clear Verdict = iota
	Alarm
)

func (v Verdict) String() string {
	if v == Alarm {
		return "alarm"
	}
	return "clear"
}

const (
	AlarmMarker = "[RING ALARM]"
	ClearMarker = "[ALL CLEAR]"
)

var (
	// ErrUnavailable is returned once the retry budget is spent without a usable answer.
	ErrUnavailable = apperrors.New(apperrors.KindClassification, "classifier", "classification unavailable")
	// ErrNoVerdict marks a response that carries neither or both markers.
	ErrNoVerdict = errors.New("response carries no unambiguous verdict marker")
)

// Image is a base64 payload attached to a chat turn.
type Image struct {
	Base64      string
	ContentType string
}

// Turn is one user message in a chat exchange.
type Turn struct {
	Text   string
	Images []Image
}

// Backend sends a single non-streaming chat exchange and returns the reply text.
type Backend interface {
	Chat(ctx context.Context, system string, turns []Turn) (string, error)
}

// Config configures the Client.
type Config struct {
	Backend         Backend
	Logger          *zap.Logger
	IdentifyPrompt  string
	ExplainPrompt   string
	MaxAttempts     uint
	MaxElapsed      time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Client drives the verdict and explanation exchanges on top of a Backend.
type Client struct {
	backend         Backend
	logger          *zap.Logger
	identifyPrompt  string
	explainPrompt   string
	maxAttempts     uint
	maxElapsed      time.Duration
	initialInterval time.Duration
	maxInterval     time.Duration
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Backend == nil {
		return nil, apperrors.New(apperrors.KindConfig, "classifier.new", "backend is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.IdentifyPrompt == "" {
		cfg.IdentifyPrompt = IdentifyPrompt
	}
	if cfg.ExplainPrompt == "" {
		cfg.ExplainPrompt = ExplainPrompt
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 90 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}

	return &Client{
		backend:         cfg.Backend,
		logger:          cfg.Logger,
		identifyPrompt:  cfg.IdentifyPrompt,
		explainPrompt:   cfg.ExplainPrompt,
		maxAttempts:     cfg.MaxAttempts,
		maxElapsed:      cfg.MaxElapsed,
		initialInterval: cfg.InitialInterval,
		maxInterval:     cfg.MaxInterval,
	}, nil
}

// Classify compares current against baseline. Replies without a single valid
// marker are retried against the same input until the retry budget runs out.
func (c *Client) Classify(ctx context.Context, baseline, current Image) (Verdict, error) {
	turns := []Turn{
		{
			Text:   "This is the reference frame showing the scene in its normal state.",
			Images: []Image{baseline},
		},
		{
			Text:   "Is there anything suspicious in this frame?",
			Images: []Image{current},
		},
	}

	attempt := 0
	verdict, err := backoff.Retry(ctx, func() (Verdict, error) {
		attempt++
		answer, err := c.backend.Chat(ctx, c.identifyPrompt, turns)
		if err != nil {
			return Clear, fmt.Errorf("chat: %w", err)
		}

		verdict, err := ParseVerdict(CleanReply(answer))
		if err != nil {
			c.logger.Debug("classifier reply without verdict",
				zap.Int("attempt", attempt),
				zap.String("reply", truncate(answer, 200)),
			)
			return Clear, err
		}
		return verdict, nil
	}, c.retryOptions()...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Clear, apperrors.Wrap(apperrors.KindClassification, "classifier.classify", "cancelled", ctxErr)
		}
		return Clear, fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, attempt, err)
	}

	c.logger.Debug("classifier verdict", zap.Stringer("verdict", verdict), zap.Int("attempts", attempt))
	return verdict, nil
}

// Explain asks for a short owner-facing description of what is suspicious in current.
func (c *Client) Explain(ctx context.Context, current Image) (string, error) {
	turns := []Turn{{Text: "Explain.", Images: []Image{current}}}

	text, err := backoff.Retry(ctx, func() (string, error) {
		answer, err := c.backend.Chat(ctx, c.explainPrompt, turns)
		if err != nil {
			return "", fmt.Errorf("chat: %w", err)
		}
		answer = CleanReply(answer)
		if answer == "" {
			return "", errors.New("empty explanation")
		}
		return answer, nil
	}, c.retryOptions()...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", apperrors.Wrap(apperrors.KindClassification, "classifier.explain", "cancelled", ctxErr)
		}
		return "", fmt.Errorf("%w: explain: %v", ErrUnavailable, err)
	}
	return text, nil
}

func (c *Client) retryOptions() []backoff.RetryOption {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialInterval
	policy.MaxInterval = c.maxInterval

	return []backoff.RetryOption{
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithMaxElapsedTime(c.maxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("classifier call failed, retrying", zap.Error(err), zap.Duration("backoff", next))
		}),
	}
}

// ParseVerdict reads the verdict marker out of a free-text reply. Exactly one of
// the two markers must be present.
func ParseVerdict(answer string) (Verdict, error) {
	ringAlarm := strings.Contains(answer, AlarmMarker)
	allClear := strings.Contains(answer, ClearMarker)

	switch {
	case ringAlarm && !allClear:
		return Alarm, nil
	case allClear && !ringAlarm:
		return Clear, nil
	default:
		return Clear, ErrNoVerdict
	}
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// CleanReply strips reasoning blocks some vision models emit and trims whitespace.
func CleanReply(answer string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(answer, ""))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
