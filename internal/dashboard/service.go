package dashboard

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/blipguard/internal/guard"
	"github.com/your-org/blipguard/pkg/report"
)

var (
	// ErrUnauthorized is returned when the shared secret does not match.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEmptyMessage rejects reports without a message.
	ErrEmptyMessage = errors.New("message is required")
)

// Publisher fans accepted reports out to subscribers.
type Publisher interface {
	PublishJSON(ctx context.Context, key, eventType string, payload any) error
	Close(ctx context.Context) error
}

// SourceMonitor exposes live source state and baseline control, typically a
// *guard.Monitor.
type SourceMonitor interface {
	Status() []guard.Status
	ResetBaseline(id string) error
}

// Service authenticates reports, keeps the latest one per source and publishes
// every accepted report.
type Service struct {
	secret    []byte
	publisher Publisher
	monitor   SourceMonitor
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.RWMutex
	latest map[string]ReportEvent
}

type Params struct {
	SecretKey string
	Publisher Publisher
	Monitor   SourceMonitor
	Logger    *zap.Logger
	Now       func() time.Time
}

// NewService constructs a dashboard Service.
func NewService(p Params) *Service {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Service{
		secret:    []byte(p.SecretKey),
		publisher: p.Publisher,
		monitor:   p.Monitor,
		logger:    p.Logger,
		now:       p.Now,
		latest:    make(map[string]ReportEvent),
	}
}

func (s *Service) authorized(secret string) bool {
	return len(s.secret) > 0 && subtle.ConstantTimeCompare([]byte(secret), s.secret) == 1
}

// Accept validates payload and records it as the latest report of its source.
// Publishing is best-effort: a failed publish is logged and the report is
// still accepted.
func (s *Service) Accept(ctx context.Context, payload report.Payload) (*ReportEvent, error) {
	if !s.authorized(payload.SecretKey) {
		return nil, ErrUnauthorized
	}
	message := strings.TrimSpace(payload.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	event := ReportEvent{
		ID:         uuid.NewString(),
		SourceID:   payload.Source,
		Message:    message,
		ReceivedAt: s.now().UTC(),
	}

	s.mu.Lock()
	s.latest[event.SourceID] = event
	s.mu.Unlock()

	if s.publisher != nil {
		if err := s.publisher.PublishJSON(ctx, event.SourceID, ReportEventType, event); err != nil {
			s.logger.Warn("publish report event failed",
				zap.String("report_id", event.ID),
				zap.String("source", event.SourceID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("report accepted",
		zap.String("report_id", event.ID),
		zap.String("source", event.SourceID),
		zap.Bool("alarm", message == report.StatusAlarm),
	)
	return &event, nil
}

// Latest returns the most recent report of every source, ordered by source.
func (s *Service) Latest() []ReportEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ReportEvent, 0, len(s.latest))
	for _, ev := range s.latest {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Sources returns the live source state, or nil without a monitor.
func (s *Service) Sources() []guard.Status {
	if s.monitor == nil {
		return nil
	}
	return s.monitor.Status()
}

// ResetBaseline makes the monitor capture a new baseline for source id on its
// next turn.
func (s *Service) ResetBaseline(secret, id string) error {
	if !s.authorized(secret) {
		return ErrUnauthorized
	}
	if s.monitor == nil {
		return fmt.Errorf("%w: %q", guard.ErrUnknownSource, id)
	}
	if err := s.monitor.ResetBaseline(id); err != nil {
		return err
	}
	s.logger.Info("baseline reset requested", zap.String("source", id))
	return nil
}

// Close releases underlying resources.
func (s *Service) Close(ctx context.Context) error {
	if s.publisher == nil {
		return nil
	}
	return s.publisher.Close(ctx)
}
